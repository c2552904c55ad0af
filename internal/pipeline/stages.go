package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/docstream/docproc/internal/correlate"
	"github.com/docstream/docproc/internal/docstate"
	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
)

// HandleOCR runs one cooperative extraction pass. When jobs are still in
// flight the task re-enqueues itself with the poll interval; the queue is the
// scheduler, the handler never sleeps.
func (p *Pipeline) HandleOCR(ctx context.Context, t *asynq.Task) error {
	documentID, err := documentFromPayload(t)
	if err != nil {
		return err
	}

	var done bool
	doc, err := p.records.Update(ctx, documentID, []models.Status{models.StatusOCRRunning}, func(d *models.Document) error {
		var trackErr error
		done, trackErr = p.tracker.Process(ctx, d)
		return trackErr
	})
	if err != nil {
		if stale(err) {
			// A late page reopened the document or it already failed.
			p.logger.Info("Dropping stale ocr task", logger.String("document_id", documentID))
			return nil
		}
		return p.handleStageError(ctx, documentID, err)
	}

	if !done {
		p.logger.Debug("OCR jobs still in flight",
			logger.String("document_id", documentID),
			logger.Int("pages", len(doc.Pages)),
		)
		return p.tasks.EnqueueOCR(ctx, documentID, p.pcfg.PollInterval)
	}

	_, _, err = p.step(ctx, documentID, []models.Status{models.StatusOCRRunning}, docstate.OCRCompleted{})
	if err != nil {
		if stale(err) {
			return nil
		}
		return fmt.Errorf("document %s: %w", documentID, err)
	}

	if err := p.tasks.EnqueueAggregate(ctx, documentID); err != nil {
		return err
	}

	// PII runs as a parallel branch off the extracted text, so a slow or
	// failed analysis never holds up the document.
	if p.piiProc != nil && p.pcfg.PIIAllowedFor(p.bucket) {
		if err := p.tasks.EnqueuePII(ctx, documentID); err != nil {
			p.logger.Error("Failed to enqueue pii analysis",
				logger.String("document_id", documentID),
				logger.Error(err),
			)
		}
	}
	return nil
}

// HandleAggregate merges the page texts into the combined artifact.
func (p *Pipeline) HandleAggregate(ctx context.Context, t *asynq.Task) error {
	documentID, err := documentFromPayload(t)
	if err != nil {
		return err
	}

	doc, err := p.records.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("document %s: %w", documentID, err)
	}
	if doc.Status != models.StatusAggregating {
		p.logger.Info("Dropping stale aggregate task",
			logger.String("document_id", documentID),
			logger.String("status", string(doc.Status)),
		)
		return nil
	}

	combinedKey, err := p.aggregator.Combine(ctx, doc)
	if err != nil {
		// A missing text artifact will not appear on retry; fail fast.
		p.fail(ctx, documentID, err)
		return nil
	}

	_, _, err = p.step(ctx, documentID, []models.Status{models.StatusAggregating}, docstate.AggregationDone{CombinedKey: combinedKey})
	if err != nil {
		if stale(err) {
			return nil
		}
		return fmt.Errorf("document %s: %w", documentID, err)
	}
	return p.tasks.EnqueueLLM(ctx, documentID)
}

// HandleLLM classifies and extracts, stores the result artifact, archives
// the source pages and completes the document.
func (p *Pipeline) HandleLLM(ctx context.Context, t *asynq.Task) error {
	documentID, err := documentFromPayload(t)
	if err != nil {
		return err
	}

	doc, err := p.records.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("document %s: %w", documentID, err)
	}
	if doc.Status != models.StatusLLMRunning {
		p.logger.Info("Dropping stale llm task",
			logger.String("document_id", documentID),
			logger.String("status", string(doc.Status)),
		)
		return nil
	}

	outcome, err := p.analyzer.Analyze(ctx, doc)
	if err != nil {
		return p.handleStageError(ctx, documentID, err)
	}

	movedFiles := p.moveToComplete(ctx, doc)

	_, _, err = p.step(ctx, documentID, []models.Status{models.StatusLLMRunning}, docstate.AnalysisDone{
		ResultKey:    outcome.ResultKey,
		DocumentType: outcome.DocumentType,
		MovedFiles:   movedFiles,
	})
	if err != nil {
		if stale(err) {
			return nil
		}
		return fmt.Errorf("document %s: %w", documentID, err)
	}

	p.logger.Info("Document complete",
		logger.String("document_id", documentID),
		logger.String("document_type", outcome.DocumentType),
		logger.String("result_key", outcome.ResultKey),
	)
	return nil
}

// HandlePII runs the parallel PII branch and records its outcome on the
// document without touching the lifecycle status.
func (p *Pipeline) HandlePII(ctx context.Context, t *asynq.Task) error {
	documentID, err := documentFromPayload(t)
	if err != nil {
		return err
	}

	doc, err := p.records.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("document %s: %w", documentID, err)
	}

	reportKey, procErr := p.piiProc.Process(ctx, doc)

	_, err = p.records.Update(ctx, documentID, nil, func(d *models.Document) error {
		if procErr != nil {
			d.PIIProcessingComplete = false
			d.PIIError = procErr.Error()
		} else {
			d.PIIProcessingComplete = true
			d.PIIResultKey = reportKey
			d.PIIError = ""
		}
		return nil
	})
	if err != nil {
		p.logger.Error("Failed to record pii outcome",
			logger.String("document_id", documentID),
			logger.Error(err),
		)
	}

	if procErr != nil {
		return fmt.Errorf("pii analysis for %s: %w", documentID, procErr)
	}
	return nil
}

// moveToComplete archives the source pages under complete/{id}/. Failures
// are logged per page; the document still completes.
func (p *Pipeline) moveToComplete(ctx context.Context, doc *models.Document) []string {
	var moved []string
	for _, pageKey := range doc.Pages {
		dstKey := strings.Replace(pageKey, correlate.IncomingPrefix, "complete/"+doc.ID+"/", 1)
		if dstKey == pageKey {
			continue
		}
		if err := p.blobs.Copy(ctx, pageKey, dstKey); err != nil {
			p.logger.Warn("Failed to archive page",
				logger.String("document_id", doc.ID),
				logger.String("key", pageKey),
				logger.Error(err),
			)
			continue
		}
		if err := p.blobs.Delete(ctx, pageKey); err != nil {
			p.logger.Warn("Failed to delete archived page",
				logger.String("document_id", doc.ID),
				logger.String("key", pageKey),
				logger.Error(err),
			)
		}
		moved = append(moved, dstKey)
	}
	return moved
}

func documentFromPayload(t *asynq.Task) (string, error) {
	var payload DocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return "", fmt.Errorf("invalid %s payload: %w", t.Type(), err)
	}
	if payload.DocumentID == "" {
		return "", errors.New("task payload has no document id")
	}
	return payload.DocumentID, nil
}
