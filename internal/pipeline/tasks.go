// Package pipeline wires the processing stages together over the task queue.
// Each stage is one asynq handler; the document record carries all state, so
// every handler is safe to retry and safe to receive stale tasks.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	cfg "github.com/docstream/docproc/config"
)

const (
	TaskTypeIngest    = "doc:ingest"
	TaskTypeOCR       = "doc:ocr"
	TaskTypeAggregate = "doc:aggregate"
	TaskTypeLLM       = "doc:llm"
	TaskTypePII       = "doc:pii"
	TaskTypeZip       = "doc:zip"
)

// ObjectPayload names a stored object, used by ingest and zip tasks.
type ObjectPayload struct {
	Key string `json:"key"`
}

// DocumentPayload names a document record, used by every later stage.
type DocumentPayload struct {
	DocumentID string `json:"document_id"`
}

// Enqueuer submits stage tasks. Stage handlers use it to hand a document to
// the next stage; the API server uses it to feed uploads in.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// NewAsynqClient builds the queue client from the Redis configuration.
func NewAsynqClient() *asynq.Client {
	rc := cfg.GetRedisConfig()
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
}

func (e *Enqueuer) EnqueueIngest(ctx context.Context, key string) error {
	return e.enqueueObject(ctx, TaskTypeIngest, key, 0)
}

func (e *Enqueuer) EnqueueZip(ctx context.Context, key string) error {
	return e.enqueueObject(ctx, TaskTypeZip, key, 0)
}

func (e *Enqueuer) EnqueueOCR(ctx context.Context, documentID string, delay time.Duration) error {
	return e.enqueueDocument(ctx, TaskTypeOCR, documentID, delay)
}

func (e *Enqueuer) EnqueueAggregate(ctx context.Context, documentID string) error {
	return e.enqueueDocument(ctx, TaskTypeAggregate, documentID, 0)
}

func (e *Enqueuer) EnqueueLLM(ctx context.Context, documentID string) error {
	return e.enqueueDocument(ctx, TaskTypeLLM, documentID, 0)
}

func (e *Enqueuer) EnqueuePII(ctx context.Context, documentID string) error {
	return e.enqueueDocument(ctx, TaskTypePII, documentID, 0)
}

func (e *Enqueuer) enqueueObject(ctx context.Context, taskType, key string, delay time.Duration) error {
	payload, err := json.Marshal(ObjectPayload{Key: key})
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	return e.enqueue(ctx, taskType, payload, delay)
}

func (e *Enqueuer) enqueueDocument(ctx context.Context, taskType, documentID string, delay time.Duration) error {
	payload, err := json.Marshal(DocumentPayload{DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	return e.enqueue(ctx, taskType, payload, delay)
}

func (e *Enqueuer) enqueue(ctx context.Context, taskType string, payload []byte, delay time.Duration) error {
	opts := []asynq.Option{
		asynq.MaxRetry(cfg.GetPipelineConfig().MaxRetries),
		asynq.Timeout(10 * time.Minute),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(taskType, payload, opts...)
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}
	return nil
}
