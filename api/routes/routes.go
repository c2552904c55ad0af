package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/docstream/docproc/api/handlers"
	"github.com/docstream/docproc/api/middleware"
)

// SetupRoutes registers the document API.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	v1 := r.Group("/api/v1")

	docs := v1.Group("/documents")
	{
		docs.POST("/upload", h.Document.Upload)
		docs.POST("/batch", h.Document.UploadBatch)
		docs.GET("/:documentId", h.Document.GetStatus)
		docs.GET("/:documentId/result", h.Document.DownloadResult)
		docs.GET("/:documentId/pii", h.Document.DownloadPIIReport)
	}
}
