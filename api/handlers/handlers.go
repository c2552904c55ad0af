package handlers

import (
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/records"
	"github.com/docstream/docproc/pkg/storage"
)

type Handlers struct {
	Document *DocumentHandler
}

func NewHandlers(
	blobs storage.Storage,
	recs records.Store,
	tasks Ingestor,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(blobs, recs, tasks, logger),
	}
}
