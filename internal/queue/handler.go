package queue

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docscan-backend/internal/documents"
	"docscan-backend/internal/shared/server/middleware"
	"docscan-backend/internal/shared/server/respond"
	"docscan-backend/internal/shared/telemetry"
)

// Handler accepts uploads and queues them for a worker.
type Handler struct {
	Client  Client
	Uploads *documents.Handler
	now     func() time.Time
}

// NewHandler constructs a Handler. A nil client disables the route's work.
func NewHandler(client Client, uploads *documents.Handler) *Handler {
	return &Handler{Client: client, Uploads: uploads, now: time.Now}
}

// JobResponse acknowledges a queued job.
type JobResponse struct {
	DocumentID string `json:"documentId"`
	RequestID  string `json:"requestId"`
	Status     string `json:"status"`
}

// RegisterRoutes attaches the job route behind the upload guards.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, uploadGuards ...gin.HandlerFunc) {
	handlers := make([]gin.HandlerFunc, 0, len(uploadGuards)+1)
	handlers = append(handlers, uploadGuards...)
	rg.POST("/jobs", append(handlers, h.enqueue)...)
}

func (h *Handler) enqueue(c *gin.Context) {
	if h.Client == nil {
		respond.Error(c, http.StatusServiceUnavailable, "job_queue_not_configured", "job queue is not configured", nil)
		return
	}
	stored, ok := h.Uploads.ReadUpload(c)
	if !ok {
		return
	}
	c.Set(middleware.DocumentIDKey, stored.Document.ID)

	requestID := middleware.RequestIDFromContext(c)
	msg := Message{
		DocumentID: stored.Document.ID,
		RequestID:  requestID,
		EnqueuedAt: h.now().UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
	if err := h.Client.Send(c.Request.Context(), msg); err != nil {
		telemetry.Error("jobs.enqueue_failed", map[string]any{
			"document_id": stored.Document.ID,
			"request_id":  requestID,
			"error":       err.Error(),
		})
		respond.Error(c, http.StatusBadGateway, "enqueue_failed", "failed to enqueue job", nil)
		return
	}
	telemetry.Info("jobs.enqueued", map[string]any{"document_id": stored.Document.ID, "request_id": requestID})
	respond.Accepted(c, JobResponse{DocumentID: stored.Document.ID, RequestID: requestID, Status: "queued"})
}
