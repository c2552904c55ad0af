package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/docstream/docproc/config"
	"github.com/docstream/docproc/internal/aggregate"
	"github.com/docstream/docproc/internal/llm"
	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/internal/ocr"
	"github.com/docstream/docproc/internal/zipx"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/records"
	"github.com/docstream/docproc/pkg/storage"
)

// queuedTask is one recorded enqueue call.
type queuedTask struct {
	taskType string
	payload  []byte
	delay    time.Duration
}

// fakeQueue records stage handoffs instead of touching Redis.
type fakeQueue struct {
	mu    sync.Mutex
	tasks []queuedTask
}

func (q *fakeQueue) add(taskType string, payload any, delay time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, queuedTask{taskType: taskType, payload: data, delay: delay})
	return nil
}

func (q *fakeQueue) EnqueueIngest(_ context.Context, key string) error {
	return q.add(TaskTypeIngest, ObjectPayload{Key: key}, 0)
}

func (q *fakeQueue) EnqueueZip(_ context.Context, key string) error {
	return q.add(TaskTypeZip, ObjectPayload{Key: key}, 0)
}

func (q *fakeQueue) EnqueueOCR(_ context.Context, id string, delay time.Duration) error {
	return q.add(TaskTypeOCR, DocumentPayload{DocumentID: id}, delay)
}

func (q *fakeQueue) EnqueueAggregate(_ context.Context, id string) error {
	return q.add(TaskTypeAggregate, DocumentPayload{DocumentID: id}, 0)
}

func (q *fakeQueue) EnqueueLLM(_ context.Context, id string) error {
	return q.add(TaskTypeLLM, DocumentPayload{DocumentID: id}, 0)
}

func (q *fakeQueue) EnqueuePII(_ context.Context, id string) error {
	return q.add(TaskTypePII, DocumentPayload{DocumentID: id}, 0)
}

// pop takes the oldest queued task.
func (q *fakeQueue) pop() (queuedTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return queuedTask{}, false
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, true
}

func (q *fakeQueue) types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, t := range q.tasks {
		out = append(out, t.taskType)
	}
	return out
}

// syncEngine answers every page synchronously and succeeds async jobs on the
// first poll.
type syncEngine struct {
	texts map[string]string
}

func (e *syncEngine) DetectSync(_ context.Context, pageKey string) ([]ocr.Line, error) {
	text, ok := e.texts[pageKey]
	if !ok {
		return nil, fmt.Errorf("no such page %s", pageKey)
	}
	return []ocr.Line{{Text: text}}, nil
}

func (e *syncEngine) SubmitAsync(_ context.Context, pageKey string) (string, error) {
	return "job:" + pageKey, nil
}

func (e *syncEngine) PollAsync(_ context.Context, handle string) (*ocr.PollResult, error) {
	pageKey := strings.TrimPrefix(handle, "job:")
	lines, err := e.DetectSync(context.Background(), pageKey)
	if err != nil {
		return &ocr.PollResult{Status: ocr.JobStatusFailed, Error: err.Error()}, nil
	}
	return &ocr.PollResult{Status: ocr.JobStatusSucceeded, Lines: lines}, nil
}

type fixture struct {
	pipeline *Pipeline
	records  records.Store
	blobs    storage.Storage
	queue    *fakeQueue
	engine   *syncEngine
}

func newFixture(t *testing.T, llmURL string) *fixture {
	t.Helper()

	store := records.NewMemoryStore()
	blobs := storage.NewMemory()
	queue := &fakeQueue{}
	engine := &syncEngine{texts: map[string]string{}}
	log := logger.NewNop()

	pcfg := cfg.DefaultPipelineConfig()
	pcfg.BatchingWindow = 30 * time.Millisecond
	pcfg.PollInterval = time.Millisecond

	client := llm.NewClient(&cfg.LLMConfig{
		APIKey:      "test-key",
		BaseURL:     llmURL,
		Model:       "gpt-3.5-turbo",
		MaxTokens:   2000,
		Temperature: 0.1,
	}, log)

	p := New(Deps{
		Records:    store,
		Blobs:      blobs,
		Tracker:    ocr.NewTracker(engine, blobs, log),
		Aggregator: aggregate.NewAggregator(blobs, log),
		Analyzer:   llm.NewAnalyzer(client, blobs, log),
		Extractor:  zipx.NewExtractor(blobs, log),
		Tasks:      queue,
		Config:     pcfg,
		Bucket:     "docproc-test",
		Logger:     log,
	})
	return &fixture{pipeline: p, records: store, blobs: blobs, queue: queue, engine: engine}
}

func (f *fixture) upload(t *testing.T, key, text string) {
	t.Helper()
	f.engine.texts[key] = text
	_, err := f.blobs.Store(context.Background(), strings.NewReader("image-bytes"), key, "image/jpeg")
	require.NoError(t, err)
}

// drain dispatches queued tasks until the queue is empty.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		task, ok := f.queue.pop()
		if !ok {
			return
		}
		at := asynq.NewTask(task.taskType, task.payload)
		var err error
		switch task.taskType {
		case TaskTypeIngest:
			err = f.pipeline.HandleIngest(ctx, at)
		case TaskTypeOCR:
			err = f.pipeline.HandleOCR(ctx, at)
		case TaskTypeAggregate:
			err = f.pipeline.HandleAggregate(ctx, at)
		case TaskTypeLLM:
			err = f.pipeline.HandleLLM(ctx, at)
		case TaskTypeZip:
			err = f.pipeline.HandleZip(ctx, at)
		}
		require.NoError(t, err)
	}
	t.Fatal("queue did not drain")
}

func (f *fixture) document(t *testing.T, baseName string) *models.Document {
	t.Helper()
	id, created, err := f.records.ResolveBaseName(context.Background(), baseName, "missing")
	require.NoError(t, err)
	require.False(t, created, "document %s was never created", baseName)
	doc, err := f.records.Get(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func classifierServer(t *testing.T, docType string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"role":    "assistant",
					"content": fmt.Sprintf(`{"document_type": %q}`, docType),
				}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func ingestTask(key string) *asynq.Task {
	payload, _ := json.Marshal(ObjectPayload{Key: key})
	return asynq.NewTask(TaskTypeIngest, payload)
}

func TestSinglePageFlowsToComplete(t *testing.T) {
	srv := classifierServer(t, "invoice")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	f.upload(t, "incoming/report.jpg", "Annual report body")
	require.NoError(t, f.pipeline.HandleIngest(context.Background(), ingestTask("incoming/report.jpg")))
	f.drain(t)

	doc := f.document(t, "report")
	assert.Equal(t, models.StatusComplete, doc.Status)
	assert.Equal(t, "invoice", doc.DocumentType)
	assert.Equal(t, fmt.Sprintf("results/%s_response.json", doc.ID), doc.ResultKey)
	assert.Equal(t, []string{fmt.Sprintf("complete/%s/report.jpg", doc.ID)}, doc.MovedFiles)

	// Pages were archived out of incoming/.
	_, err := f.blobs.Get(context.Background(), "incoming/report.jpg")
	assert.Error(t, err)
	_, err = f.blobs.Get(context.Background(), doc.MovedFiles[0])
	assert.NoError(t, err)
}

func TestPagedBurstMergesIntoOneDocument(t *testing.T) {
	srv := classifierServer(t, "banking")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	f.upload(t, "incoming/stmt_1.jpg", "page one")
	f.upload(t, "incoming/stmt_2.jpg", "page two")

	// The two notifications land concurrently, as a burst would.
	var wg sync.WaitGroup
	for _, key := range []string{"incoming/stmt_1.jpg", "incoming/stmt_2.jpg"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			assert.NoError(t, f.pipeline.HandleIngest(context.Background(), ingestTask(k)))
		}(key)
	}
	wg.Wait()
	f.drain(t)

	doc := f.document(t, "stmt")
	assert.Equal(t, models.StatusComplete, doc.Status)
	assert.Equal(t, 2, doc.PagesReceived)
	assert.ElementsMatch(t, []string{"incoming/stmt_1.jpg", "incoming/stmt_2.jpg"}, doc.Pages)

	combined, err := f.blobs.Get(context.Background(), doc.CombinedKey)
	require.NoError(t, err)
	combined.Close()
}

func TestUnsupportedUploadIsSkipped(t *testing.T) {
	f := newFixture(t, "http://unused")

	err := f.pipeline.HandleIngest(context.Background(), ingestTask("incoming/notes.txt"))
	require.NoError(t, err)
	assert.Empty(t, f.queue.types())
}

func TestZipUploadIsRerouted(t *testing.T) {
	f := newFixture(t, "http://unused")

	require.NoError(t, f.pipeline.HandleIngest(context.Background(), ingestTask("incoming/batch.zip")))
	assert.Equal(t, []string{TaskTypeZip}, f.queue.types())
}

func TestOCRFailureMarksDocumentFailed(t *testing.T) {
	srv := classifierServer(t, "invoice")
	defer srv.Close()
	f := newFixture(t, srv.URL)

	// Two pages so the async path is taken; the second page's image is
	// missing, so its job fails.
	f.upload(t, "incoming/claim_1.jpg", "page one")
	_, err := f.blobs.Store(context.Background(), strings.NewReader("img"), "incoming/claim_2.jpg", "image/jpeg")
	require.NoError(t, err)

	require.NoError(t, f.pipeline.HandleIngest(context.Background(), ingestTask("incoming/claim_1.jpg")))
	require.NoError(t, f.pipeline.HandleIngest(context.Background(), ingestTask("incoming/claim_2.jpg")))
	f.drain(t)

	doc := f.document(t, "claim")
	assert.Equal(t, models.StatusFailed, doc.Status)
	assert.NotEmpty(t, doc.LastError)
}

func TestStaleOCRTaskIsDropped(t *testing.T) {
	f := newFixture(t, "http://unused")

	doc := models.NewDocument("doc-stale", "x", "x.jpg", time.Now())
	doc.Status = models.StatusFailed
	require.NoError(t, f.records.Put(context.Background(), doc))

	payload, _ := json.Marshal(DocumentPayload{DocumentID: "doc-stale"})
	err := f.pipeline.HandleOCR(context.Background(), asynq.NewTask(TaskTypeOCR, payload))
	require.NoError(t, err)
	assert.Empty(t, f.queue.types())
}
