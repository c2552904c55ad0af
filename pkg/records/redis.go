package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	cfg "github.com/docstream/docproc/config"
	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
)

const (
	docKeyPrefix   = "doc:"
	indexKeyPrefix = "docindex:"

	// updateAttempts bounds the optimistic retry loop under write races.
	updateAttempts = 8
)

// RedisStore implements Store on Redis. Documents live as JSON under
// doc:{id}; the base-name index under docindex:{base} is written with SETNX
// so document creation per base name is a single atomic create-if-absent.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, logger: log}
}

// GetStore builds a RedisStore from the environment configuration.
func GetStore(log logger.Logger) (*RedisStore, error) {
	rc := cfg.GetRedisConfig()
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, cfg.GetPipelineConfig().RecordTTL, log), nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Document, error) {
	data, err := s.client.Get(ctx, docKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}

	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &doc, nil
}

func (s *RedisStore) Put(ctx context.Context, doc *models.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", doc.ID, err)
	}
	if err := s.client.Set(ctx, docKeyPrefix+doc.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to put document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, id string, expected []models.Status, mutate func(*models.Document) error) (*models.Document, error) {
	key := docKeyPrefix + id
	var updated *models.Document

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return models.ErrDocumentNotFound
		}
		if err != nil {
			return err
		}

		var doc models.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to decode document %s: %w", id, err)
		}

		if !statusAllowed(doc.Status, expected) {
			return models.ErrConflict
		}

		if err := mutate(&doc); err != nil {
			return err
		}
		doc.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", id, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		updated = &doc
		return nil
	}

	for i := 0; i < updateAttempts; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Lost the race; re-read and try again so concurrent page
			// appends merge instead of clobbering.
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("update of document %s did not converge after %d attempts", id, updateAttempts)
}

func (s *RedisStore) ResolveBaseName(ctx context.Context, baseName, candidateID string) (string, bool, error) {
	key := indexKeyPrefix + baseName

	ok, err := s.client.SetNX(ctx, key, candidateID, s.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to bind base name %q: %w", baseName, err)
	}
	if ok {
		return candidateID, true, nil
	}

	id, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve base name %q: %w", baseName, err)
	}
	return id, false, nil
}
