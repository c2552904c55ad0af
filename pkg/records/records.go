// Package records is the typed accessor over the durable document record
// store. All mutations go through conditional updates so concurrent stage
// handlers converge instead of overwriting each other.
package records

import (
	"context"

	"github.com/docstream/docproc/internal/models"
)

// Store is the record store capability.
type Store interface {
	// Get returns the document or models.ErrDocumentNotFound.
	Get(ctx context.Context, id string) (*models.Document, error)

	// Put writes a full record unconditionally. Used only at creation.
	Put(ctx context.Context, doc *models.Document) error

	// Update re-reads the record, verifies its status is in expected (empty
	// slice accepts any), applies mutate and writes back atomically. Returns
	// models.ErrConflict when the status check fails, and retries internally
	// on concurrent-write races so page-list merges converge.
	Update(ctx context.Context, id string, expected []models.Status, mutate func(*models.Document) error) (*models.Document, error)

	// ResolveBaseName maps a normalized base filename to a document id with
	// create-if-absent semantics: the first caller binds candidateID and
	// gets created=true, every later caller gets the bound id. This is what
	// prevents two concurrent first-page uploads from creating two
	// documents for one logical document.
	ResolveBaseName(ctx context.Context, baseName, candidateID string) (docID string, created bool, err error)
}

// statusAllowed checks the optimistic-concurrency precondition.
func statusAllowed(s models.Status, expected []models.Status) bool {
	if len(expected) == 0 {
		return true
	}
	for _, e := range expected {
		if s == e {
			return true
		}
	}
	return false
}
