package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/docstream/docproc/internal/batch"
	"github.com/docstream/docproc/internal/correlate"
	"github.com/docstream/docproc/internal/docstate"
	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
)

// HandleIngest processes one upload notification: correlate the page to a
// document, append it, and decide through the batching window when OCR
// starts. ZIP archives are rerouted to the extraction stage.
func (p *Pipeline) HandleIngest(ctx context.Context, t *asynq.Task) error {
	var payload ObjectPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid ingest payload: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(payload.Key), ".zip") {
		return p.tasks.EnqueueZip(ctx, payload.Key)
	}

	ref, err := correlate.ParseKey(payload.Key)
	if err != nil {
		if errors.Is(err, models.ErrUnsupportedExtension) {
			p.logger.Warn("Skipping unsupported upload",
				logger.String("key", payload.Key),
				logger.Error(err),
			)
			return nil
		}
		return err
	}

	if err := p.checkContentType(ctx, payload.Key); err != nil {
		p.logger.Warn("Skipping upload with mismatched content type",
			logger.String("key", payload.Key),
			logger.Error(err),
		)
		return nil
	}

	doc, err := p.resolver.Resolve(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to resolve document for %s: %w", payload.Key, err)
	}

	var outcome batch.Outcome
	doc, err = p.records.Update(ctx, doc.ID, nil, func(d *models.Document) error {
		effects, stepErr := docstate.Step(d, docstate.PageArrived{Key: payload.Key})
		if stepErr != nil {
			return stepErr
		}
		for _, eff := range effects {
			if eff == docstate.EffectReopened {
				p.logger.Info("Late page reopened document",
					logger.String("document_id", d.ID),
					logger.String("key", payload.Key),
				)
			}
		}
		outcome = p.windows.OnPageAdded(d, ref.Explicit, time.Now().UTC())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record page %s: %w", payload.Key, err)
	}

	p.logger.Info("Page recorded",
		logger.String("document_id", doc.ID),
		logger.String("key", payload.Key),
		logger.Int("pages", doc.PagesReceived),
	)

	switch outcome.Decision {
	case batch.DecisionStart:
		return p.startProcessing(ctx, doc.ID)
	case batch.DecisionWait:
		return p.awaitWindow(ctx, doc.ID, outcome.Deadline)
	default:
		return nil
	}
}

// awaitWindow blocks until the batching deadline, then closes the window if
// no sibling slid it forward. A slid window extends the wait; the loop ends
// when the window closes or another invocation takes over the document.
func (p *Pipeline) awaitWindow(ctx context.Context, documentID string, deadline time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(deadline)):
		}

		var outcome batch.Outcome
		_, err := p.records.Update(ctx, documentID, nil, func(d *models.Document) error {
			outcome = p.windows.CheckExpiry(d, time.Now().UTC())
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to check batching window for %s: %w", documentID, err)
		}

		switch outcome.Decision {
		case batch.DecisionStart:
			return p.startProcessing(ctx, documentID)
		case batch.DecisionWait:
			deadline = outcome.Deadline
		default:
			// Another invocation already started processing.
			return nil
		}
	}
}

// startProcessing transitions the document to OCR and enqueues the stage.
func (p *Pipeline) startProcessing(ctx context.Context, documentID string) error {
	_, _, err := p.step(ctx, documentID, []models.Status{models.StatusAwaitingPages}, docstate.StartProcessing{})
	if err != nil {
		if stale(err) {
			return nil
		}
		return fmt.Errorf("failed to start processing %s: %w", documentID, err)
	}

	p.logger.Info("Starting document processing", logger.String("document_id", documentID))
	return p.tasks.EnqueueOCR(ctx, documentID, 0)
}

// checkContentType verifies the stored object's MIME type matches its
// extension when the backend reports one.
func (p *Pipeline) checkContentType(ctx context.Context, key string) error {
	info, err := p.blobs.Head(ctx, key)
	if err != nil {
		// Head support is optional; the page is validated again at decode.
		return nil
	}
	if info.ContentType == "" || info.ContentType == "application/octet-stream" {
		return nil
	}
	if !correlate.ValidContentType(info.ContentType) {
		return fmt.Errorf("content type %q is not processable", info.ContentType)
	}
	return nil
}
