// Package zipx unpacks uploaded ZIP archives into individual page uploads.
package zipx

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/docstream/docproc/internal/correlate"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/storage"
)

// ArchivePrefix is where processed ZIP files are parked.
const ArchivePrefix = "archive/"

// Extractor expands an archive's entries into incoming/ under fresh unique
// names. Renaming on purpose: the archive's internal filenames would
// otherwise correlate with unrelated uploads, and each extracted file is its
// own single-page document.
type Extractor struct {
	store  storage.Storage
	logger logger.Logger
}

func NewExtractor(store storage.Storage, log logger.Logger) *Extractor {
	return &Extractor{store: store, logger: log}
}

// Extract unpacks the archive, stores each file entry under
// incoming/{uuid}{ext}, moves the archive itself to archive/ and returns the
// new incoming keys. Entries that fail to extract are skipped.
func (e *Extractor) Extract(ctx context.Context, zipKey string) ([]string, error) {
	body, err := e.store.Get(ctx, zipKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archive %s: %w", zipKey, err)
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", zipKey, err)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive %s is not a valid zip: %w", zipKey, err)
	}

	var extracted []string
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}

		ext := strings.ToLower(path.Ext(f.Name))
		contentType, ok := correlate.ContentTypeFor(strings.TrimPrefix(ext, "."))
		if !ok {
			contentType = "application/octet-stream"
		}

		key := correlate.IncomingPrefix + uuid.New().String() + ext
		if err := e.storeEntry(ctx, f, key, contentType); err != nil {
			e.logger.Warn("Failed to extract archive entry",
				logger.String("archive", zipKey),
				logger.String("entry", f.Name),
				logger.Error(err),
			)
			continue
		}

		e.logger.Info("Extracted archive entry",
			logger.String("archive", zipKey),
			logger.String("entry", f.Name),
			logger.String("key", key),
		)
		extracted = append(extracted, key)
	}

	if err := e.archive(ctx, zipKey); err != nil {
		e.logger.Warn("Failed to archive processed zip",
			logger.String("key", zipKey),
			logger.Error(err),
		)
	}
	return extracted, nil
}

func (e *Extractor) storeEntry(ctx context.Context, f *zip.File, key, contentType string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = e.store.Store(ctx, rc, key, contentType)
	return err
}

func (e *Extractor) archive(ctx context.Context, zipKey string) error {
	dst := ArchivePrefix + path.Base(zipKey)
	if err := e.store.Copy(ctx, zipKey, dst); err != nil {
		return err
	}
	return e.store.Delete(ctx, zipKey)
}
