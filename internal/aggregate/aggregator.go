// Package aggregate merges per-page text artifacts into the single combined
// document handed to analysis.
package aggregate

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/storage"
)

// Aggregator reads every page's extracted text and writes the combined
// artifact. Missing or unreadable pages fail the whole aggregation; a partial
// combined document would silently corrupt downstream analysis.
type Aggregator struct {
	store  storage.Storage
	logger logger.Logger
}

func NewAggregator(store storage.Storage, log logger.Logger) *Aggregator {
	return &Aggregator{store: store, logger: log}
}

// Combine concatenates page texts in page order under per-page headers and
// stores the result. It returns the combined artifact's key.
func (a *Aggregator) Combine(ctx context.Context, doc *models.Document) (string, error) {
	if len(doc.OCRTextKeys) != len(doc.Pages) {
		return "", fmt.Errorf("document %s has %d pages but %d text artifacts",
			doc.ID, len(doc.Pages), len(doc.OCRTextKeys))
	}

	// Page texts are fetched in parallel and joined in page order.
	texts := make([]string, len(doc.OCRTextKeys))
	g, gctx := errgroup.WithContext(ctx)
	for i, textKey := range doc.OCRTextKeys {
		if textKey == "" {
			return "", fmt.Errorf("document %s page %d has no text artifact", doc.ID, i+1)
		}
		g.Go(func() error {
			text, err := a.readText(gctx, textKey)
			if err != nil {
				return fmt.Errorf("failed to read text for page %d of %s: %w", i+1, doc.ID, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var combined strings.Builder
	for i, text := range texts {
		fmt.Fprintf(&combined, "--- Page %d ---\n%s\n\n", i+1, text)
	}

	combinedKey := fmt.Sprintf("staging/%s/combined.txt", doc.ID)
	if _, err := a.store.Store(ctx, strings.NewReader(combined.String()), combinedKey, "text/plain"); err != nil {
		return "", fmt.Errorf("failed to store combined text for %s: %w", doc.ID, err)
	}

	a.logger.Info("Aggregated document text",
		logger.String("document_id", doc.ID),
		logger.Int("pages", len(doc.Pages)),
		logger.String("combined_key", combinedKey),
	)
	return combinedKey, nil
}

func (a *Aggregator) readText(ctx context.Context, key string) (string, error) {
	body, err := a.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
