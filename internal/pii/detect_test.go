package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/docstream/docproc/config"
)

func testDetector() *Detector {
	return NewDetector(&cfg.DefaultPipelineConfig().PII)
}

func byType(detections []Detection, piiType string) []Detection {
	var out []Detection
	for _, d := range detections {
		if d.Type == piiType {
			out = append(out, d)
		}
	}
	return out
}

func TestDetectSSN(t *testing.T) {
	detections := testDetector().Detect("SSN: 123-45-6789 on file.")
	hits := byType(detections, "ssn")
	require.Len(t, hits, 1)
	assert.Equal(t, "123-45-6789", hits[0].Text)
	assert.Equal(t, ConfidenceHigh, hits[0].Confidence)
}

func TestDetectEmail(t *testing.T) {
	detections := testDetector().Detect("Contact jane@example.com for details.")
	hits := byType(detections, "email")
	require.Len(t, hits, 1)
	assert.Equal(t, "jane@example.com", hits[0].Text)
	assert.Equal(t, ConfidenceHigh, hits[0].Confidence)
}

func TestDetectAccountNumberAndPhone(t *testing.T) {
	detections := testDetector().Detect("Card 4111 1111 1111 1111, call 555-867-5309.")
	assert.Len(t, byType(detections, "account_number"), 1)

	phones := byType(detections, "phone")
	require.NotEmpty(t, phones)
	assert.Equal(t, ConfidenceMedium, phones[0].Confidence)
}

func TestDetectAddressAndZip(t *testing.T) {
	detections := testDetector().Detect("Ship to 42 Elm Street, Springfield 62704.")
	assert.Len(t, byType(detections, "address"), 1)

	zips := byType(detections, "zip_code")
	require.Len(t, zips, 1)
	assert.Equal(t, ConfidenceLow, zips[0].Confidence)
}

func TestDetectOffsetsMatchText(t *testing.T) {
	text := "Account holder SSN 987-65-4321 verified."
	detections := testDetector().Detect(text)
	hits := byType(detections, "ssn")
	require.Len(t, hits, 1)
	assert.Equal(t, hits[0].Text, text[hits[0].StartPos:hits[0].EndPos])
}

func TestLabeledNameIsDetected(t *testing.T) {
	detections := testDetector().Detect("Dear John Smith,\nYour request was received.")
	names := byType(detections, "personal_name")
	require.Len(t, names, 1)
	assert.Equal(t, "John Smith", names[0].Text)
	assert.Equal(t, ConfidenceMedium, names[0].Confidence)
}

func TestUnlabeledNameIsIgnored(t *testing.T) {
	detections := testDetector().Detect("John Smith attended the meeting.")
	assert.Empty(t, byType(detections, "personal_name"))
}

func TestBusinessTokenDisqualifiesName(t *testing.T) {
	detections := testDetector().Detect("Customer: Smith Chevrolet")
	assert.Empty(t, byType(detections, "personal_name"))
}

func TestBusinessContextDisqualifiesName(t *testing.T) {
	detections := testDetector().Detect("Visit our dealership. Customer: John Smith")
	assert.Empty(t, byType(detections, "personal_name"))
}

func TestNoPIIYieldsNothing(t *testing.T) {
	assert.Empty(t, testDetector().Detect("The quick brown fox jumps over the lazy dog."))
}
