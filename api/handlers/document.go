package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/docstream/docproc/internal/correlate"
	"github.com/docstream/docproc/internal/models"
	"github.com/docstream/docproc/pkg/logger"
	"github.com/docstream/docproc/pkg/records"
	"github.com/docstream/docproc/pkg/storage"
)

// Ingestor is the queue capability the API needs: hand an uploaded object to
// the pipeline.
type Ingestor interface {
	EnqueueIngest(ctx context.Context, key string) error
}

type DocumentHandler struct {
	blobs   storage.Storage
	records records.Store
	tasks   Ingestor
	logger  logger.Logger
}

// UploadResponse describes one accepted upload.
type UploadResponse struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
	FileSize int64  `json:"fileSize"`
	Status   string `json:"status"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

func NewDocumentHandler(blobs storage.Storage, recs records.Store, tasks Ingestor, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		blobs:   blobs,
		records: recs,
		tasks:   tasks,
		logger:  log,
	}
}

// Upload accepts one page or archive and feeds it to the pipeline. The
// original filename is preserved in the object key; it carries the
// correlation identity.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	resp, err := h.accept(c.Request.Context(), file, header.Filename, header.Size)
	if err != nil {
		if errors.Is(err, models.ErrUnsupportedExtension) {
			h.handleError(c, http.StatusUnsupportedMediaType, "Unsupported file type", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to accept upload", err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// UploadBatch accepts several pages in one request.
func (h *DocumentHandler) UploadBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid form data", err)
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		h.handleError(c, http.StatusBadRequest, "No files provided", nil)
		return
	}

	responses := make([]UploadResponse, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			h.handleError(c, http.StatusBadRequest, fmt.Sprintf("Cannot read %s", fh.Filename), err)
			return
		}
		resp, err := h.accept(c.Request.Context(), f, fh.Filename, fh.Size)
		f.Close()
		if err != nil {
			h.handleError(c, http.StatusInternalServerError, fmt.Sprintf("Failed to accept %s", fh.Filename), err)
			return
		}
		responses = append(responses, *resp)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": fmt.Sprintf("Accepted %d files", len(responses)),
		"uploads": responses,
	})
}

func (h *DocumentHandler) accept(ctx context.Context, r io.Reader, filename string, size int64) (*UploadResponse, error) {
	contentType := "application/octet-stream"
	if !strings.EqualFold(filepath.Ext(filename), ".zip") {
		if _, err := correlate.ParseKey(filename); err != nil {
			return nil, err
		}
		if ct, ok := correlate.ContentTypeFor(strings.TrimPrefix(filepath.Ext(filename), ".")); ok {
			contentType = ct
		}
	} else {
		contentType = "application/zip"
	}

	key := correlate.IncomingPrefix + filepath.Base(filename)
	if _, err := h.blobs.Store(ctx, r, key, contentType); err != nil {
		return nil, err
	}
	if err := h.tasks.EnqueueIngest(ctx, key); err != nil {
		return nil, err
	}

	h.logger.Info("Upload accepted",
		logger.String("key", key),
		logger.Int64("size", size),
	)
	return &UploadResponse{
		Key:      key,
		Filename: filename,
		FileSize: size,
		Status:   "accepted",
	}, nil
}

// GetStatus returns the document record's processing view.
func (h *DocumentHandler) GetStatus(c *gin.Context) {
	documentID := c.Param("documentId")

	doc, err := h.records.Get(c.Request.Context(), documentID)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			h.handleError(c, http.StatusNotFound, "Document not found", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to get document", err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

// DownloadResult streams the analysis artifact of a completed document.
func (h *DocumentHandler) DownloadResult(c *gin.Context) {
	h.streamArtifact(c, func(doc *models.Document) (string, string) {
		return doc.ResultKey, fmt.Sprintf("result_%s.json", doc.ID)
	})
}

// DownloadPIIReport streams the PII analysis artifact.
func (h *DocumentHandler) DownloadPIIReport(c *gin.Context) {
	h.streamArtifact(c, func(doc *models.Document) (string, string) {
		return doc.PIIResultKey, fmt.Sprintf("pii_%s.json", doc.ID)
	})
}

func (h *DocumentHandler) streamArtifact(c *gin.Context, pick func(*models.Document) (key, filename string)) {
	documentID := c.Param("documentId")

	doc, err := h.records.Get(c.Request.Context(), documentID)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			h.handleError(c, http.StatusNotFound, "Document not found", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to get document", err)
		return
	}

	key, filename := pick(doc)
	if key == "" {
		h.handleError(c, http.StatusConflict, "Result not available yet", nil)
		return
	}

	body, err := h.blobs.Get(c.Request.Context(), key)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to fetch result", err)
		return
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to read result", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, "application/json", data)
}

func (h *DocumentHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	c.JSON(status, response)
}
