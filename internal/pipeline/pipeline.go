package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	cfg "github.com/docstream/docproc/config"
	"github.com/docstream/docproc/internal/aggregate"
	"github.com/docstream/docproc/internal/batch"
	"github.com/docstream/docproc/internal/correlate"
	"github.com/docstream/docproc/internal/docstate"
	"github.com/docstream/docproc/internal/llm"
	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/internal/ocr"
	"github.com/docstream/docproc/internal/pii"
	"github.com/docstream/docproc/internal/zipx"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/records"
	"github.com/docstream/docproc/pkg/storage"
)

// TaskEnqueuer is the slice of Enqueuer the stage handlers need; tests
// substitute a recorder.
type TaskEnqueuer interface {
	EnqueueIngest(ctx context.Context, key string) error
	EnqueueZip(ctx context.Context, key string) error
	EnqueueOCR(ctx context.Context, documentID string, delay time.Duration) error
	EnqueueAggregate(ctx context.Context, documentID string) error
	EnqueueLLM(ctx context.Context, documentID string) error
	EnqueuePII(ctx context.Context, documentID string) error
}

// Pipeline holds every stage's dependencies. One instance serves all
// handlers; they share nothing but the record store and the object store.
type Pipeline struct {
	records    records.Store
	blobs      storage.Storage
	resolver   *correlate.Resolver
	windows    *batch.Manager
	tracker    *ocr.Tracker
	aggregator *aggregate.Aggregator
	analyzer   *llm.Analyzer
	piiProc    *pii.Processor
	extractor  *zipx.Extractor
	tasks      TaskEnqueuer
	pcfg       *cfg.PipelineConfig
	bucket     string
	logger     logger.Logger
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Records    records.Store
	Blobs      storage.Storage
	Tracker    *ocr.Tracker
	Aggregator *aggregate.Aggregator
	Analyzer   *llm.Analyzer
	PII        *pii.Processor
	Extractor  *zipx.Extractor
	Tasks      TaskEnqueuer
	Config     *cfg.PipelineConfig
	Bucket     string
	Logger     logger.Logger
}

func New(d Deps) *Pipeline {
	return &Pipeline{
		records:    d.Records,
		blobs:      d.Blobs,
		resolver:   correlate.NewResolver(d.Records, d.Logger),
		windows:    batch.NewManager(d.Config.BatchingWindow),
		tracker:    d.Tracker,
		aggregator: d.Aggregator,
		analyzer:   d.Analyzer,
		piiProc:    d.PII,
		extractor:  d.Extractor,
		tasks:      d.Tasks,
		pcfg:       d.Config,
		bucket:     d.Bucket,
		logger:     d.Logger,
	}
}

// fail marks the document FAILED with the stage error as last_error. It is
// best-effort; the original error is what the caller reports.
func (p *Pipeline) fail(ctx context.Context, documentID string, cause error) {
	_, err := p.records.Update(ctx, documentID, nil, func(doc *models.Document) error {
		_, stepErr := docstate.Step(doc, docstate.StageFailed{Reason: cause.Error()})
		return stepErr
	})
	if err != nil {
		p.logger.Error("Failed to mark document failed",
			logger.String("document_id", documentID),
			logger.Error(err),
		)
	}
}

// step applies one lifecycle event under a conditional update and returns
// the effects and the updated record.
func (p *Pipeline) step(ctx context.Context, documentID string, expected []models.Status, ev docstate.Event) (*models.Document, []docstate.Effect, error) {
	var effects []docstate.Effect
	doc, err := p.records.Update(ctx, documentID, expected, func(doc *models.Document) error {
		var stepErr error
		effects, stepErr = docstate.Step(doc, ev)
		return stepErr
	})
	if err != nil {
		return nil, nil, err
	}
	return doc, effects, nil
}

// stale reports whether an error means the document moved on and this task
// should be dropped rather than retried.
func stale(err error) bool {
	var invalid *docstate.InvalidTransitionError
	return errors.Is(err, models.ErrConflict) || errors.As(err, &invalid)
}

// handleStageError routes a stage failure: fatal stage errors fail the
// document and consume the task, anything else is surfaced to asynq for
// retry.
func (p *Pipeline) handleStageError(ctx context.Context, documentID string, err error) error {
	var stageErr *models.StageError
	if errors.As(err, &stageErr) {
		p.logger.Error("Stage failed permanently",
			logger.String("document_id", documentID),
			logger.String("stage", stageErr.Stage),
			logger.Error(err),
		)
		p.fail(ctx, documentID, err)
		return nil
	}
	return fmt.Errorf("document %s: %w", documentID, err)
}
