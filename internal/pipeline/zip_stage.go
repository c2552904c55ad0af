package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/docstream/docproc/pkg/logger"
)

// HandleZip expands an uploaded archive and feeds each extracted file back
// through ingest as its own upload.
func (p *Pipeline) HandleZip(ctx context.Context, t *asynq.Task) error {
	var payload ObjectPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid zip payload: %w", err)
	}

	keys, err := p.extractor.Extract(ctx, payload.Key)
	if err != nil {
		return fmt.Errorf("zip extraction for %s: %w", payload.Key, err)
	}

	p.logger.Info("Archive extracted",
		logger.String("key", payload.Key),
		logger.Int("files", len(keys)),
	)

	for _, key := range keys {
		if err := p.tasks.EnqueueIngest(ctx, key); err != nil {
			return fmt.Errorf("failed to enqueue extracted file %s: %w", key, err)
		}
	}
	return nil
}
