package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/records"
	"github.com/docstream/docproc/pkg/storage"
)

type recordingIngestor struct {
	keys []string
}

func (r *recordingIngestor) EnqueueIngest(_ context.Context, key string) error {
	r.keys = append(r.keys, key)
	return nil
}

func setup(t *testing.T) (*gin.Engine, *recordingIngestor, storage.Storage, records.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	blobs := storage.NewMemory()
	recs := records.NewMemoryStore()
	ingestor := &recordingIngestor{}
	h := NewDocumentHandler(blobs, recs, ingestor, logger.NewNop())

	r := gin.New()
	r.POST("/documents/upload", h.Upload)
	r.GET("/documents/:documentId", h.GetStatus)
	r.GET("/documents/:documentId/result", h.DownloadResult)
	return r, ingestor, blobs, recs
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadAcceptsAndEnqueues(t *testing.T) {
	r, ingestor, blobs, _ := setup(t)

	body, contentType := multipartBody(t, "file", "scan_1.jpg", "jpeg-bytes")
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "incoming/scan_1.jpg", resp.Key)
	assert.Equal(t, []string{"incoming/scan_1.jpg"}, ingestor.keys)

	obj, err := blobs.Get(context.Background(), "incoming/scan_1.jpg")
	require.NoError(t, err)
	obj.Close()
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	r, ingestor, _, _ := setup(t)

	body, contentType := multipartBody(t, "file", "notes.txt", "text")
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Empty(t, ingestor.keys)
}

func TestUploadAcceptsZip(t *testing.T) {
	r, ingestor, _, _ := setup(t)

	body, contentType := multipartBody(t, "file", "batch.zip", "zip-bytes")
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"incoming/batch.zip"}, ingestor.keys)
}

func TestGetStatusReturnsRecord(t *testing.T) {
	r, _, _, recs := setup(t)

	doc := models.NewDocument("doc-7", "scan", "scan.jpg", time.Now().UTC())
	doc.Status = models.StatusOCRRunning
	require.NoError(t, recs.Put(context.Background(), doc))

	req := httptest.NewRequest(http.MethodGet, "/documents/doc-7", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got models.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "doc-7", got.ID)
	assert.Equal(t, models.StatusOCRRunning, got.Status)
}

func TestGetStatusNotFound(t *testing.T) {
	r, _, _, _ := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/documents/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadResultStreamsArtifact(t *testing.T) {
	r, _, blobs, recs := setup(t)

	doc := models.NewDocument("doc-7", "scan", "scan.jpg", time.Now().UTC())
	doc.Status = models.StatusComplete
	doc.ResultKey = "results/doc-7_response.json"
	require.NoError(t, recs.Put(context.Background(), doc))
	_, err := blobs.Store(context.Background(), strings.NewReader(`{"ok":true}`), doc.ResultKey, "application/json")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/documents/doc-7/result", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "result_doc-7.json")
}

func TestDownloadResultBeforeCompletion(t *testing.T) {
	r, _, _, recs := setup(t)

	doc := models.NewDocument("doc-7", "scan", "scan.jpg", time.Now().UTC())
	require.NoError(t, recs.Put(context.Background(), doc))

	req := httptest.NewRequest(http.MethodGet, "/documents/doc-7/result", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}
