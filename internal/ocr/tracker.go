package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/storage"
)

// Tracker advances a document's per-page extraction jobs by one step. It is
// cooperative: a single Process call never blocks on a running job, it
// submits what is missing, harvests what finished and reports whether every
// page is done. The caller persists the mutated record and schedules the
// next call.
type Tracker struct {
	engine Engine
	store  storage.Storage
	logger logger.Logger
}

func NewTracker(engine Engine, store storage.Storage, log logger.Logger) *Tracker {
	return &Tracker{engine: engine, store: store, logger: log}
}

// Process runs one cooperative pass over the document's pages. A single-page
// document is extracted inline; multi-page documents go through the async
// submit/poll protocol. A returned error of type *models.StageError means a
// page failed permanently and the document should be failed.
func (t *Tracker) Process(ctx context.Context, doc *models.Document) (bool, error) {
	if doc.Jobs == nil {
		doc.Jobs = map[string]models.PageJob{}
	}

	if len(doc.Pages) == 1 {
		if err := t.processSingle(ctx, doc); err != nil {
			return false, err
		}
		return doc.OCRComplete(), nil
	}

	for i, pageKey := range doc.Pages {
		if err := t.processPage(ctx, doc, i, pageKey); err != nil {
			return false, err
		}
	}
	return doc.OCRComplete(), nil
}

func (t *Tracker) processSingle(ctx context.Context, doc *models.Document) error {
	pageKey := doc.Pages[0]
	if doc.Jobs[pageKey].Resolved() {
		return nil
	}

	lines, err := t.engine.DetectSync(ctx, pageKey)
	if err != nil {
		return models.OCRFailure(fmt.Errorf("page %s: %w", pageKey, err))
	}

	textKey, err := t.storeText(ctx, doc, 0, lines)
	if err != nil {
		return err
	}

	doc.Jobs[pageKey] = models.PageJob{Kind: models.JobSynchronous}
	doc.SetTextKey(0, textKey)

	t.logger.Info("Extracted single page synchronously",
		logger.String("document_id", doc.ID),
		logger.String("page", pageKey),
	)
	return nil
}

func (t *Tracker) processPage(ctx context.Context, doc *models.Document, i int, pageKey string) error {
	job := doc.Jobs[pageKey]

	switch job.Kind {
	case models.JobSynchronous, models.JobSucceeded:
		return nil

	case models.JobFailed:
		return models.OCRFailure(fmt.Errorf("page %s: %s", pageKey, job.Error))

	case models.JobAsync:
		result, err := t.engine.PollAsync(ctx, job.Handle)
		if err != nil {
			// An expired or unknown handle means the backend lost the
			// job; submit it again rather than failing the document.
			if errors.Is(err, models.ErrInvalidJob) {
				t.logger.Warn("Resubmitting lost extraction job",
					logger.String("document_id", doc.ID),
					logger.String("page", pageKey),
					logger.String("handle", job.Handle),
				)
				return t.submit(ctx, doc, pageKey)
			}
			return models.OCRFailure(fmt.Errorf("page %s: %w", pageKey, err))
		}

		switch result.Status {
		case JobStatusSucceeded:
			textKey, err := t.storeText(ctx, doc, i, result.Lines)
			if err != nil {
				return err
			}
			doc.Jobs[pageKey] = models.PageJob{Kind: models.JobSucceeded}
			doc.SetTextKey(i, textKey)
			return nil

		case JobStatusFailed:
			doc.Jobs[pageKey] = models.PageJob{Kind: models.JobFailed, Error: result.Error}
			return models.OCRFailure(fmt.Errorf("page %s: %s", pageKey, result.Error))

		default:
			// Still running; check again on the next pass.
			return nil
		}

	default:
		// Pending or never submitted.
		return t.submit(ctx, doc, pageKey)
	}
}

func (t *Tracker) submit(ctx context.Context, doc *models.Document, pageKey string) error {
	handle, err := t.engine.SubmitAsync(ctx, pageKey)
	if err != nil {
		return models.OCRFailure(fmt.Errorf("page %s: %w", pageKey, err))
	}
	doc.Jobs[pageKey] = models.PageJob{Kind: models.JobAsync, Handle: handle}
	return nil
}

func (t *Tracker) storeText(ctx context.Context, doc *models.Document, i int, lines []Line) (string, error) {
	textKey := fmt.Sprintf("staging/%s/text_page_%d.txt", doc.ID, i+1)
	text := JoinLines(lines)

	if _, err := t.store.Store(ctx, strings.NewReader(text), textKey, "text/plain"); err != nil {
		return "", fmt.Errorf("failed to store text for page %d of %s: %w", i+1, doc.ID, err)
	}
	return textKey, nil
}
