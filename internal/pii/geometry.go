package pii

import (
	"strings"

	"github.com/docstream/docproc/internal/ocr"
)

// Match couples a detection with the page region containing it.
type Match struct {
	Type       string     `json:"type"`
	Text       string     `json:"text"`
	Region     ocr.Region `json:"bounding_box"`
	Confidence Confidence `json:"confidence"`
}

// MapToRegions locates each detection on the page. The detected text is first
// matched against whole lines; PII usually sits inside a longer line, so a
// case-insensitive substring match is the fallback. Detections with no
// matching line are dropped; they cannot be redacted.
func MapToRegions(detections []Detection, lines []ocr.Line) []Match {
	var matches []Match

	exact := make(map[string]ocr.Region, len(lines))
	for _, l := range lines {
		exact[l.Text] = l.Region
	}

	for _, det := range detections {
		if region, ok := exact[det.Text]; ok {
			matches = append(matches, Match{
				Type:       det.Type,
				Text:       det.Text,
				Region:     region,
				Confidence: det.Confidence,
			})
			continue
		}

		lower := strings.ToLower(det.Text)
		for _, l := range lines {
			if strings.Contains(strings.ToLower(l.Text), lower) {
				matches = append(matches, Match{
					Type:       det.Type,
					Text:       det.Text,
					Region:     l.Region,
					Confidence: det.Confidence,
				})
				break
			}
		}
	}
	return matches
}
