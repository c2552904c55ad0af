package records

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstream/docproc/internal/models"
)

func TestGetMissingDocument(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	store := NewMemoryStore()
	doc := models.NewDocument("doc-1", "scan", "scan.jpg", time.Now().UTC())
	doc.AddPage("incoming/scan.jpg")

	require.NoError(t, store.Put(context.Background(), doc))

	got, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, doc.Pages, got.Pages)
	assert.Equal(t, models.StatusAwaitingPages, got.Status)
}

func TestUpdateEnforcesExpectedStatus(t *testing.T) {
	store := NewMemoryStore()
	doc := models.NewDocument("doc-1", "scan", "scan.jpg", time.Now().UTC())
	require.NoError(t, store.Put(context.Background(), doc))

	_, err := store.Update(context.Background(), "doc-1",
		[]models.Status{models.StatusOCRRunning},
		func(d *models.Document) error { return nil },
	)
	assert.ErrorIs(t, err, models.ErrConflict)

	updated, err := store.Update(context.Background(), "doc-1",
		[]models.Status{models.StatusAwaitingPages},
		func(d *models.Document) error {
			d.Status = models.StatusOCRRunning
			return nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOCRRunning, updated.Status)
}

func TestUpdateMutateErrorDiscardsWrite(t *testing.T) {
	store := NewMemoryStore()
	doc := models.NewDocument("doc-1", "scan", "scan.jpg", time.Now().UTC())
	require.NoError(t, store.Put(context.Background(), doc))

	_, err := store.Update(context.Background(), "doc-1", nil, func(d *models.Document) error {
		d.Status = models.StatusFailed
		return assert.AnError
	})
	require.Error(t, err)

	got, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingPages, got.Status)
}

func TestConcurrentPageAppendsMerge(t *testing.T) {
	store := NewMemoryStore()
	doc := models.NewDocument("doc-1", "scan", "scan_1.jpg", time.Now().UTC())
	require.NoError(t, store.Put(context.Background(), doc))

	keys := []string{
		"incoming/scan_1.jpg",
		"incoming/scan_2.jpg",
		"incoming/scan_3.jpg",
		"incoming/scan_4.jpg",
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			_, err := store.Update(context.Background(), "doc-1", nil, func(d *models.Document) error {
				d.AddPage(k)
				return nil
			})
			assert.NoError(t, err)
		}(key)
	}
	wg.Wait()

	got, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, len(keys), got.PagesReceived)
	assert.ElementsMatch(t, keys, got.Pages)
}

func TestResolveBaseNameBindsOnce(t *testing.T) {
	store := NewMemoryStore()

	id, created, err := store.ResolveBaseName(context.Background(), "scan", "cand-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "cand-1", id)

	id, created, err = store.ResolveBaseName(context.Background(), "scan", "cand-2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "cand-1", id)
}

func TestConcurrentResolveConvergesOnOneID(t *testing.T) {
	store := NewMemoryStore()

	results := make([]string, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, _, err := store.ResolveBaseName(context.Background(), "scan", "cand-"+string(rune('a'+n)))
			assert.NoError(t, err)
			results[n] = id
		}(i)
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, results[0], id)
	}
}
