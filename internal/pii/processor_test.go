package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/docstream/docproc/config"
	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/internal/ocr"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/storage"
)

// geometryEngine serves canned line geometry for redaction.
type geometryEngine struct {
	lines map[string][]ocr.Line
}

func (e *geometryEngine) DetectSync(_ context.Context, pageKey string) ([]ocr.Line, error) {
	lines, ok := e.lines[pageKey]
	if !ok {
		return nil, fmt.Errorf("no geometry for %s", pageKey)
	}
	return lines, nil
}

func (e *geometryEngine) SubmitAsync(context.Context, string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (e *geometryEngine) PollAsync(context.Context, string) (*ocr.PollResult, error) {
	return nil, fmt.Errorf("not used")
}

func storeImage(t *testing.T, blobs storage.Storage, key string) {
	t.Helper()
	img := imaging.New(200, 100, color.NRGBA{R: 20, G: 20, B: 20, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	_, err := blobs.Store(context.Background(), bytes.NewReader(buf.Bytes()), key, "image/jpeg")
	require.NoError(t, err)
}

func newProcessorFixture(t *testing.T) (*Processor, storage.Storage, *geometryEngine, *models.Document) {
	t.Helper()
	blobs := storage.NewMemory()
	engine := &geometryEngine{lines: map[string][]ocr.Line{}}
	pcfg := cfg.DefaultPipelineConfig()
	proc := NewProcessor(engine, blobs, &pcfg.PII, logger.NewNop())

	doc := models.NewDocument("doc-3", "form", "form_1.jpg", time.Now())
	return proc, blobs, engine, doc
}

func addPage(t *testing.T, blobs storage.Storage, doc *models.Document, n int, text string) string {
	t.Helper()
	pageKey := fmt.Sprintf("incoming/form_%d.jpg", n)
	textKey := fmt.Sprintf("staging/doc-3/text_page_%d.txt", n)
	doc.AddPage(pageKey)
	doc.SetTextKey(n-1, textKey)
	_, err := blobs.Store(context.Background(), strings.NewReader(text), textKey, "text/plain")
	require.NoError(t, err)
	storeImage(t, blobs, pageKey)
	return pageKey
}

func readReport(t *testing.T, blobs storage.Storage, key string) *Report {
	t.Helper()
	body, err := blobs.Get(context.Background(), key)
	require.NoError(t, err)
	defer body.Close()
	var report Report
	require.NoError(t, json.NewDecoder(body).Decode(&report))
	return &report
}

func TestProcessDetectsAndRedacts(t *testing.T) {
	proc, blobs, engine, doc := newProcessorFixture(t)
	pageKey := addPage(t, blobs, doc, 1, "SSN: 123-45-6789\nNothing else here")
	engine.lines[pageKey] = []ocr.Line{
		{Text: "SSN: 123-45-6789", Region: ocr.Region{Left: 0.1, Top: 0.1, Width: 0.5, Height: 0.1}},
	}

	reportKey, err := proc.Process(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "pii-results/doc-3_pii_analysis.json", reportKey)

	report := readReport(t, blobs, reportKey)
	assert.True(t, report.DetectedPII)
	assert.Equal(t, "PII_PROCESSED", report.Status)
	assert.Equal(t, []string{"results/doc-3_page_1_redacted.jpg"}, report.RedactedImages)
	assert.Contains(t, report.Summary.PIITypesDetected, "ssn")
	assert.Equal(t, 1, report.Summary.TotalPages)
	assert.Equal(t, 1, report.Summary.PagesWithPII)

	redacted, err := blobs.Get(context.Background(), "results/doc-3_page_1_redacted.jpg")
	require.NoError(t, err)
	redacted.Close()
}

func TestProcessCleanDocument(t *testing.T) {
	proc, blobs, _, doc := newProcessorFixture(t)
	addPage(t, blobs, doc, 1, "Just ordinary prose with no sensitive values.")

	reportKey, err := proc.Process(context.Background(), doc)
	require.NoError(t, err)

	report := readReport(t, blobs, reportKey)
	assert.False(t, report.DetectedPII)
	assert.Empty(t, report.RedactedImages)
	assert.Empty(t, report.Detections)
	assert.Equal(t, 0, report.Summary.TotalPIIInstances)
}

func TestProcessContinuesWhenGeometryUnavailable(t *testing.T) {
	proc, blobs, _, doc := newProcessorFixture(t)
	addPage(t, blobs, doc, 1, "Contact jane@example.com")
	// No geometry registered; redaction fails but the run completes.

	reportKey, err := proc.Process(context.Background(), doc)
	require.NoError(t, err)

	report := readReport(t, blobs, reportKey)
	assert.True(t, report.DetectedPII)
	assert.Empty(t, report.RedactedImages)
	assert.Equal(t, 1, report.Summary.TotalPIIInstances)
}

func TestProcessRequiresExtractedText(t *testing.T) {
	proc, _, _, doc := newProcessorFixture(t)

	_, err := proc.Process(context.Background(), doc)
	require.Error(t, err)
}
