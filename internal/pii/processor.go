package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	cfg "github.com/docstream/docproc/config"
	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/internal/ocr"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/storage"
)

// Report is the stored PII analysis artifact for one document.
type Report struct {
	Status         string      `json:"status"`
	DetectedPII    bool        `json:"detected_pii"`
	RedactedImages []string    `json:"redacted_images"`
	Detections     []Detection `json:"pii_detections"`
	Summary        Summary     `json:"processing_summary"`
}

type Summary struct {
	TotalPages        int      `json:"total_pages"`
	PagesWithPII      int      `json:"pages_with_pii"`
	TotalPIIInstances int      `json:"total_pii_instances"`
	PIITypesDetected  []string `json:"pii_types_detected"`
}

// Processor runs PII analysis per page: detect in the extracted text, locate
// on the page via a fresh synchronous detection pass (line geometry is not
// kept in the text artifact), redact and store. The whole run is best-effort
// per page; a page whose geometry or redaction fails is reported undredacted
// rather than failing the document.
type Processor struct {
	detector *Detector
	engine   ocr.Engine
	store    storage.Storage
	padding  int
	logger   logger.Logger
}

func NewProcessor(engine ocr.Engine, store storage.Storage, c *cfg.PIIConfig, log logger.Logger) *Processor {
	return &Processor{
		detector: NewDetector(c),
		engine:   engine,
		store:    store,
		padding:  c.RedactionPadding,
		logger:   log,
	}
}

// Process analyzes every page of a completed document and stores the report.
// It returns the report key.
func (p *Processor) Process(ctx context.Context, doc *models.Document) (string, error) {
	if len(doc.OCRTextKeys) == 0 {
		return "", fmt.Errorf("document %s has no extracted text to analyze", doc.ID)
	}

	report := &Report{
		Status:         "PII_PROCESSED",
		RedactedImages: []string{},
		Detections:     []Detection{},
	}

	for i, pageKey := range doc.Pages {
		if i >= len(doc.OCRTextKeys) || doc.OCRTextKeys[i] == "" {
			continue
		}
		text, err := p.readText(ctx, doc.OCRTextKeys[i])
		if err != nil {
			p.logger.Warn("Skipping page with unreadable text",
				logger.String("document_id", doc.ID),
				logger.String("text_key", doc.OCRTextKeys[i]),
				logger.Error(err),
			)
			continue
		}

		detections := p.detector.Detect(text)
		if len(detections) == 0 {
			continue
		}
		report.DetectedPII = true
		report.Detections = append(report.Detections, detections...)

		redactedKey, err := p.redactPage(ctx, doc, i, pageKey, detections)
		if err != nil {
			p.logger.Warn("Failed to redact page",
				logger.String("document_id", doc.ID),
				logger.String("page", pageKey),
				logger.Error(err),
			)
			continue
		}
		report.RedactedImages = append(report.RedactedImages, redactedKey)
	}

	report.Summary = Summary{
		TotalPages:        len(doc.Pages),
		PagesWithPII:      len(report.RedactedImages),
		TotalPIIInstances: len(report.Detections),
		PIITypesDetected:  typesOf(report.Detections),
	}

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode pii report for %s: %w", doc.ID, err)
	}
	reportKey := fmt.Sprintf("pii-results/%s_pii_analysis.json", doc.ID)
	if _, err := p.store.Store(ctx, strings.NewReader(string(payload)), reportKey, "application/json"); err != nil {
		return "", fmt.Errorf("failed to store pii report for %s: %w", doc.ID, err)
	}

	p.logger.Info("PII analysis complete",
		logger.String("document_id", doc.ID),
		logger.Bool("detected", report.DetectedPII),
		logger.Int("instances", len(report.Detections)),
	)
	return reportKey, nil
}

func (p *Processor) redactPage(ctx context.Context, doc *models.Document, i int, pageKey string, detections []Detection) (string, error) {
	lines, err := p.engine.DetectSync(ctx, pageKey)
	if err != nil {
		return "", fmt.Errorf("failed to get line geometry: %w", err)
	}

	matches := MapToRegions(detections, lines)
	if len(matches) == 0 {
		return "", fmt.Errorf("no detections could be located on the page")
	}

	body, err := p.store.Get(ctx, pageKey)
	if err != nil {
		return "", err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read page image: %w", err)
	}

	redacted, err := RedactImage(data, matches, p.padding)
	if err != nil {
		return "", err
	}

	redactedKey := fmt.Sprintf("results/%s_page_%d_redacted.jpg", doc.ID, i+1)
	if _, err := p.store.Store(ctx, bytes.NewReader(redacted), redactedKey, "image/jpeg"); err != nil {
		return "", fmt.Errorf("failed to store redacted image: %w", err)
	}
	return redactedKey, nil
}

func (p *Processor) readText(ctx context.Context, key string) (string, error) {
	body, err := p.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func typesOf(detections []Detection) []string {
	seen := map[string]bool{}
	var types []string
	for _, d := range detections {
		if !seen[d.Type] {
			seen[d.Type] = true
			types = append(types, d.Type)
		}
	}
	if types == nil {
		types = []string{}
	}
	return types
}
