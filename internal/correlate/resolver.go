package correlate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/records"
)

// Resolver binds base names to document identities through the record
// store's atomic index, replacing the original scan-and-match lookup.
type Resolver struct {
	store  records.Store
	logger logger.Logger
}

func NewResolver(store records.Store, log logger.Logger) *Resolver {
	return &Resolver{store: store, logger: log}
}

// Resolve returns the document for a page's base name, creating the record
// when this is the first page seen for that name. Creation is serialized on
// the normalized base name, not the generated id, so two near-simultaneous
// first-page uploads converge on one document.
func (r *Resolver) Resolve(ctx context.Context, ref *PageRef) (*models.Document, error) {
	base := NormalizeBaseName(ref.BaseName)

	docID, created, err := r.store.ResolveBaseName(ctx, base, uuid.New().String())
	if err != nil {
		return nil, err
	}

	if created {
		doc := models.NewDocument(docID, base, ref.Filename, time.Now().UTC())
		if err := r.store.Put(ctx, doc); err != nil {
			return nil, err
		}
		r.logger.Info("Created document",
			logger.String("document_id", docID),
			logger.String("base_name", base),
		)
		return doc, nil
	}

	doc, err := r.store.Get(ctx, docID)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, models.ErrDocumentNotFound) {
		return nil, err
	}

	// Index won the SETNX race but the record write is not visible yet, or
	// the record expired ahead of its index entry. Recreate it.
	doc = models.NewDocument(docID, base, ref.Filename, time.Now().UTC())
	if err := r.store.Put(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
