// Package pii finds personally identifiable information in extracted text and
// redacts it from the page images.
package pii

import (
	"regexp"
	"strings"

	cfg "github.com/docstream/docproc/config"
)

// Confidence tiers a detection by how specific its pattern is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Detection is one PII hit in a page's text.
type Detection struct {
	Type       string     `json:"type"`
	Text       string     `json:"text"`
	StartPos   int        `json:"start_pos"`
	EndPos     int        `json:"end_pos"`
	Confidence Confidence `json:"confidence"`
}

type pattern struct {
	name       string
	re         *regexp.Regexp
	confidence Confidence
}

// Patterns are ordered so detection output is deterministic. The broad
// low-confidence ones come last.
var patterns = []pattern{
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), ConfidenceHigh},
	{"account_number", regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`), ConfidenceHigh},
	{"email", regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), ConfidenceHigh},
	{"phone", regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`), ConfidenceMedium},
	{"address", regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Lane|Ln|Boulevard|Blvd|Way|Circle|Cir|Court|Ct)\b`), ConfidenceMedium},
	{"zip_code", regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`), ConfidenceLow},
}

// nameContexts match a capitalized first+last name only when a label marks it
// as referring to a person. Bare name detection over OCR text is far too
// noisy.
var nameContexts = []*regexp.Regexp{
	regexp.MustCompile(`(?:Dear|To|From|Mr\.|Mrs\.|Ms\.|Dr\.)\s+([A-Z][a-z]+\s+[A-Z][a-z]+)`),
	regexp.MustCompile(`(?:Name|Applicant|Customer|Client):\s*([A-Z][a-z]+\s+[A-Z][a-z]+)`),
	regexp.MustCompile(`(?:Signed|By):\s*([A-Z][a-z]+\s+[A-Z][a-z]+)`),
}

// contextRadius is how many characters around a candidate name are inspected
// for business wording.
const contextRadius = 50

// Detector applies the PII patterns plus the configurable business-name
// heuristic.
type Detector struct {
	businessTokens   []string
	businessContexts []string
}

func NewDetector(c *cfg.PIIConfig) *Detector {
	return &Detector{
		businessTokens:   c.BusinessTokens,
		businessContexts: c.BusinessContexts,
	}
}

// Detect scans text and returns every PII hit with its byte offsets.
func (d *Detector) Detect(text string) []Detection {
	var detections []Detection

	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{
				Type:       p.name,
				Text:       text[loc[0]:loc[1]],
				StartPos:   loc[0],
				EndPos:     loc[1],
				Confidence: p.confidence,
			})
		}
	}

	for _, re := range nameContexts {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			// Group 1 is the name itself.
			start, end := m[2], m[3]
			name := text[start:end]
			if d.likelyPersonalName(name, text) {
				detections = append(detections, Detection{
					Type:       "personal_name",
					Text:       name,
					StartPos:   start,
					EndPos:     end,
					Confidence: ConfidenceMedium,
				})
			}
		}
	}

	return detections
}

// likelyPersonalName filters out business names: a name containing a business
// token, or appearing near business wording, is treated as organizational.
func (d *Detector) likelyPersonalName(name, fullText string) bool {
	lowerName := strings.ToLower(name)
	for _, token := range d.businessTokens {
		if strings.Contains(lowerName, strings.ToLower(token)) {
			return false
		}
	}

	pos := strings.Index(strings.ToLower(fullText), lowerName)
	if pos >= 0 {
		start := pos - contextRadius
		if start < 0 {
			start = 0
		}
		end := pos + len(name) + contextRadius
		if end > len(fullText) {
			end = len(fullText)
		}
		context := strings.ToLower(fullText[start:end])
		for _, bc := range d.businessContexts {
			if strings.Contains(context, bc) {
				return false
			}
		}
	}
	return true
}
