// Package ocr drives text extraction: per-page sync-vs-async strategy, job
// polling and text merge.
package ocr

import (
	"context"
	"fmt"
	"strings"

	cfg "github.com/docstream/docproc/config"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/storage"
)

// Region is a unit-normalized rectangle locating a line on a page image.
type Region struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Line is one detected line of text with its geometry.
type Line struct {
	Text   string `json:"text"`
	Region Region `json:"region"`
}

// JobStatus is the state of an asynchronous extraction job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// PollResult is the outcome of one poll of an async job.
type PollResult struct {
	Status JobStatus
	Lines  []Line
	Error  string
}

// Engine is the text-extraction capability. DetectSync processes one page
// inline; SubmitAsync/PollAsync implement the poll-until-ready protocol.
// PollAsync returns models.ErrInvalidJob for expired or unknown handles,
// which callers answer by resubmitting.
type Engine interface {
	DetectSync(ctx context.Context, pageKey string) ([]Line, error)
	SubmitAsync(ctx context.Context, pageKey string) (string, error)
	PollAsync(ctx context.Context, handle string) (*PollResult, error)
}

// NewEngine builds the configured engine.
func NewEngine(ctx context.Context, store storage.Storage, log logger.Logger) (Engine, error) {
	c := cfg.GetOCRConfig()
	switch c.Engine {
	case "textract":
		return NewTextractEngine(ctx, c, log)
	case "tesseract":
		return NewTesseractEngine(store, c, log), nil
	default:
		return nil, fmt.Errorf("unsupported ocr engine: %s", c.Engine)
	}
}

// JoinLines renders detected lines as the page's text artifact, ordered as
// returned and newline-joined.
func JoinLines(lines []Line) string {
	texts := make([]string, 0, len(lines))
	for _, l := range lines {
		texts = append(texts, l.Text)
	}
	return strings.Join(texts, "\n")
}
