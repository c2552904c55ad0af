package records

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/docstream/docproc/internal/models"
)

// MemoryStore implements Store in process, with the same conditional-update
// semantics as the Redis store. Used for local development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string][]byte
	index map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[string][]byte),
		index: make(map[string]string),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *MemoryStore) getLocked(id string) (*models.Document, error) {
	data, ok := s.docs[id]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MemoryStore) Put(ctx context.Context, doc *models.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = data
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, expected []models.Status, mutate func(*models.Document) error) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if !statusAllowed(doc.Status, expected) {
		return nil, models.ErrConflict
	}
	if err := mutate(doc); err != nil {
		return nil, err
	}
	doc.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	s.docs[id] = data
	return doc, nil
}

func (s *MemoryStore) ResolveBaseName(ctx context.Context, baseName, candidateID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.index[baseName]; ok {
		return id, false, nil
	}
	s.index[baseName] = candidateID
	return candidateID, true, nil
}
