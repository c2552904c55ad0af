package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/otiai10/gosseract/v2"

	cfg "github.com/docstream/docproc/config"
	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/storage"
)

// TesseractEngine implements Engine locally: gosseract for images,
// ledongthuc/pdf for PDF text. Async jobs are emulated by running the
// detection at submit time and caching the result under a generated handle,
// so the tracker's polling protocol works unchanged against it.
type TesseractEngine struct {
	store     storage.Storage
	languages []string
	logger    logger.Logger

	mu   sync.Mutex
	jobs map[string]*PollResult
}

func NewTesseractEngine(store storage.Storage, c *cfg.OCRConfig, log logger.Logger) *TesseractEngine {
	return &TesseractEngine{
		store:     store,
		languages: c.Languages,
		logger:    log,
		jobs:      make(map[string]*PollResult),
	}
}

func (e *TesseractEngine) DetectSync(ctx context.Context, pageKey string) ([]Line, error) {
	body, err := e.store.Get(ctx, pageKey)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %s: %w", pageKey, err)
	}

	if strings.HasSuffix(strings.ToLower(pageKey), ".pdf") {
		return e.detectPDF(data)
	}
	return e.detectImage(data)
}

func (e *TesseractEngine) SubmitAsync(ctx context.Context, pageKey string) (string, error) {
	handle := uuid.New().String()

	lines, err := e.DetectSync(ctx, pageKey)
	result := &PollResult{}
	if err != nil {
		result.Status = JobStatusFailed
		result.Error = err.Error()
	} else {
		result.Status = JobStatusSucceeded
		result.Lines = lines
	}

	e.mu.Lock()
	e.jobs[handle] = result
	e.mu.Unlock()

	return handle, nil
}

func (e *TesseractEngine) PollAsync(ctx context.Context, handle string) (*PollResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, ok := e.jobs[handle]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", handle, models.ErrInvalidJob)
	}
	return result, nil
}

func (e *TesseractEngine) detectImage(data []byte) ([]Line, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(e.languages) > 0 {
		if err := client.SetLanguage(e.languages...); err != nil {
			return nil, fmt.Errorf("failed to set ocr language: %w", err)
		}
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("failed to detect text lines: %w", err)
	}

	// Regions are normalized to the image bounds to match the async
	// engine's coordinate space.
	imgCfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image bounds: %w", err)
	}
	w, h := float64(imgCfg.Width), float64(imgCfg.Height)

	var lines []Line
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		lines = append(lines, Line{
			Text: text,
			Region: Region{
				Left:   float64(box.Box.Min.X) / w,
				Top:    float64(box.Box.Min.Y) / h,
				Width:  float64(box.Box.Dx()) / w,
				Height: float64(box.Box.Dy()) / h,
			},
		})
	}
	return lines, nil
}

func (e *TesseractEngine) detectPDF(data []byte) ([]Line, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("failed to extract pdf text: %w", err)
	}
	text, err := io.ReadAll(textReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf text: %w", err)
	}

	// PDF text extraction yields no geometry; such lines are reported but
	// cannot be redacted.
	var lines []Line
	for _, raw := range strings.Split(string(text), "\n") {
		t := strings.TrimSpace(raw)
		if t == "" {
			continue
		}
		lines = append(lines, Line{Text: t})
	}
	return lines, nil
}
