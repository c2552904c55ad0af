package pipeline

import (
	"context"
	"fmt"

	cfg "github.com/docstream/docproc/config"
	"github.com/docstream/docproc/internal/aggregate"
	"github.com/docstream/docproc/internal/llm"
	"github.com/docstream/docproc/internal/ocr"
	"github.com/docstream/docproc/internal/pii"
	"github.com/docstream/docproc/internal/zipx"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/records"
	"github.com/docstream/docproc/pkg/storage"
)

// Runtime is the fully wired production pipeline and its shared stores.
type Runtime struct {
	Pipeline *Pipeline
	Enqueuer *Enqueuer
	Records  records.Store
	Blobs    storage.Storage
}

// Build assembles the pipeline from the environment configuration.
func Build(ctx context.Context, log logger.Logger) (*Runtime, error) {
	blobs, err := storage.New(storage.StorageType(cfg.GetStorageType()), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	recs, err := records.GetStore(log)
	if err != nil {
		return nil, fmt.Errorf("failed to create record store: %w", err)
	}

	engine, err := ocr.NewEngine(ctx, blobs, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create ocr engine: %w", err)
	}

	pcfg := cfg.GetPipelineConfig()
	enqueuer := NewEnqueuer(NewAsynqClient())

	var piiProc *pii.Processor
	if pcfg.PII.Enabled {
		piiProc = pii.NewProcessor(engine, blobs, &pcfg.PII, log)
	}

	client := llm.NewClient(cfg.GetLLMConfig(), log)

	p := New(Deps{
		Records:    recs,
		Blobs:      blobs,
		Tracker:    ocr.NewTracker(engine, blobs, log),
		Aggregator: aggregate.NewAggregator(blobs, log),
		Analyzer:   llm.NewAnalyzer(client, blobs, log),
		PII:        piiProc,
		Extractor:  zipx.NewExtractor(blobs, log),
		Tasks:      enqueuer,
		Config:     pcfg,
		Bucket:     cfg.GetS3Config().BucketName,
		Logger:     log,
	})

	return &Runtime{
		Pipeline: p,
		Enqueuer: enqueuer,
		Records:  recs,
		Blobs:    blobs,
	}, nil
}
