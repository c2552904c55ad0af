package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/docstream/docproc/config"
	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/storage"
)

// fakeChatServer answers chat completions in arrival order.
func fakeChatServer(t *testing.T, replies ...string) (*httptest.Server, *[]string) {
	t.Helper()
	var prompts []string
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Messages, 2)
		prompts = append(prompts, req.Messages[1].Content)

		require.Less(t, call, len(replies), "unexpected extra completion call")
		reply := replies[call]
		call++

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	return srv, &prompts
}

func newAnalyzer(t *testing.T, store storage.Storage, baseURL string) *Analyzer {
	t.Helper()
	client := NewClient(&cfg.LLMConfig{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Model:       "gpt-3.5-turbo",
		MaxTokens:   2000,
		Temperature: 0.1,
	}, logger.NewNop())
	return NewAnalyzer(client, store, logger.NewNop())
}

func seedCombined(t *testing.T, store storage.Storage, text string) *models.Document {
	t.Helper()
	doc := models.NewDocument("doc-5", "stmt", "stmt.jpg", time.Now())
	doc.AddPage("incoming/stmt.jpg")
	doc.CombinedKey = "staging/doc-5/combined.txt"
	_, err := store.Store(context.Background(), strings.NewReader(text), doc.CombinedKey, "text/plain")
	require.NoError(t, err)
	return doc
}

func seedSchema(t *testing.T, store storage.Storage, name, content string) {
	t.Helper()
	_, err := store.Store(context.Background(), strings.NewReader(content),
		SchemaPrefix+name+".json", "application/json")
	require.NoError(t, err)
}

func TestAnalyzeRunsBothPasses(t *testing.T) {
	srv, prompts := fakeChatServer(t,
		`{"document_type": "invoice", "confidence": 0.95}`,
		`{"vendor": "Acme", "total": 12.5}`,
	)
	defer srv.Close()

	store := storage.NewMemory()
	seedSchema(t, store, "classification", `{"description": "classify"}`)
	seedSchema(t, store, "invoice", `{"description": "invoice fields"}`)
	doc := seedCombined(t, store, "--- Page 1 ---\nInvoice from Acme\n\n")

	outcome, err := newAnalyzer(t, store, srv.URL).Analyze(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "results/doc-5_response.json", outcome.ResultKey)
	assert.Equal(t, "invoice", outcome.DocumentType)

	require.Len(t, *prompts, 2)
	assert.Contains(t, (*prompts)[0], "CLASSIFICATION GUIDELINES")
	assert.Contains(t, (*prompts)[1], "invoice fields")
	assert.NotContains(t, (*prompts)[1], "CLASSIFICATION GUIDELINES")

	body, err := store.Get(context.Background(), outcome.ResultKey)
	require.NoError(t, err)
	defer body.Close()
	var analysis Analysis
	require.NoError(t, json.NewDecoder(body).Decode(&analysis))
	assert.Equal(t, []string{"classification", "specific_extraction_invoice"}, analysis.SchemaPasses)
	assert.True(t, analysis.DocumentAnalysis["classification"].Success)
	assert.True(t, analysis.DocumentAnalysis["specific_extraction"].Success)
}

func TestAnalyzeMapsTypeToBorrowedSchema(t *testing.T) {
	srv, _ := fakeChatServer(t,
		`{"document_type": "receipt"}`,
		`{"vendor": "Corner Store"}`,
	)
	defer srv.Close()

	store := storage.NewMemory()
	seedSchema(t, store, "classification", `{"description": "classify"}`)
	seedSchema(t, store, "invoice", `{"description": "invoice fields"}`)
	doc := seedCombined(t, store, "receipt text")

	outcome, err := newAnalyzer(t, store, srv.URL).Analyze(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "receipt", outcome.DocumentType)

	body, err := store.Get(context.Background(), outcome.ResultKey)
	require.NoError(t, err)
	defer body.Close()
	var analysis Analysis
	require.NoError(t, json.NewDecoder(body).Decode(&analysis))
	assert.Contains(t, analysis.SchemaPasses, "specific_extraction_invoice")
}

func TestAnalyzeSkipsExtractionWithoutSchema(t *testing.T) {
	srv, prompts := fakeChatServer(t, `{"document_type": "other"}`)
	defer srv.Close()

	store := storage.NewMemory()
	seedSchema(t, store, "classification", `{"description": "classify"}`)
	doc := seedCombined(t, store, "unclear text")

	outcome, err := newAnalyzer(t, store, srv.URL).Analyze(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "other", outcome.DocumentType)
	assert.Len(t, *prompts, 1)
}

func TestAnalyzeNonJSONReplyFallsBackToRawText(t *testing.T) {
	srv, _ := fakeChatServer(t, "This looks like an insurance letter.")
	defer srv.Close()

	store := storage.NewMemory()
	seedSchema(t, store, "classification", `{"description": "classify"}`)
	doc := seedCombined(t, store, "letter text")

	outcome, err := newAnalyzer(t, store, srv.URL).Analyze(context.Background(), doc)
	require.NoError(t, err)
	// A reply that is not JSON carries no document_type.
	assert.Equal(t, "unknown", outcome.DocumentType)

	body, err := store.Get(context.Background(), outcome.ResultKey)
	require.NoError(t, err)
	defer body.Close()
	var analysis Analysis
	require.NoError(t, json.NewDecoder(body).Decode(&analysis))
	var data map[string]string
	require.NoError(t, json.Unmarshal(analysis.DocumentAnalysis["classification"].Data, &data))
	assert.Equal(t, "This looks like an insurance letter.", data["raw_text"])
}

func TestAnalyzeFailsWhenCompletionFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := storage.NewMemory()
	seedSchema(t, store, "classification", `{"description": "classify"}`)
	doc := seedCombined(t, store, "text")

	_, err := newAnalyzer(t, store, srv.URL).Analyze(context.Background(), doc)
	require.Error(t, err)
	var stageErr *models.StageError
	require.ErrorAs(t, err, &stageErr)

	// The partial analysis is still stored for inspection.
	_, err = store.Get(context.Background(), "results/doc-5_response.json")
	assert.NoError(t, err)
}

func TestSchemaValidationRecorded(t *testing.T) {
	srv, _ := fakeChatServer(t,
		`{"document_type": "invoice"}`,
		`{"total": "not-a-number"}`,
	)
	defer srv.Close()

	store := storage.NewMemory()
	seedSchema(t, store, "classification", `{"description": "classify"}`)
	seedSchema(t, store, "invoice", `{
		"type": "object",
		"properties": {"total": {"type": "number"}},
		"required": ["total"]
	}`)
	doc := seedCombined(t, store, "invoice text")

	outcome, err := newAnalyzer(t, store, srv.URL).Analyze(context.Background(), doc)
	require.NoError(t, err)

	body, err := store.Get(context.Background(), outcome.ResultKey)
	require.NoError(t, err)
	defer body.Close()
	var analysis Analysis
	require.NoError(t, json.NewDecoder(body).Decode(&analysis))

	extraction := analysis.DocumentAnalysis["specific_extraction"]
	require.NotNil(t, extraction.SchemaValid)
	assert.False(t, *extraction.SchemaValid)
	assert.True(t, extraction.Success)
}
