package documents

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docscan-backend/internal/shared/server/respond"
	"docscan-backend/internal/shared/telemetry"
)

// MultipartSlack covers multipart framing on top of the file itself.
const MultipartSlack = 1 << 20

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group. Guards run
// before the upload handler only.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, uploadGuards ...gin.HandlerFunc) {
	rg.POST("/documents", withGuards(uploadGuards, h.upload)...)
	rg.GET("/documents", h.list)
	rg.GET("/documents/:id", h.get)
}

// ReadUpload stores the multipart "file" field and writes the error response
// itself when that fails. ok is false if a response was written.
func (h *Handler) ReadUpload(c *gin.Context) (Stored, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxFileSize+MultipartSlack)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondFormError(c, err)
		return Stored{}, false
	}
	return h.store(c, fileHeader)
}

// ReadUploads stores every multipart "file" field in form order, for
// documents scanned as several pages. If one file fails, the ones already
// stored are discarded again. ok is false if a response was written.
func (h *Handler) ReadUploads(c *gin.Context) ([]Stored, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxPages*MaxFileSize+MultipartSlack)

	form, err := c.MultipartForm()
	if err != nil {
		respondFormError(c, err)
		return nil, false
	}
	files := form.File["file"]
	switch {
	case len(files) == 0:
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return nil, false
	case len(files) > MaxPages:
		respond.Error(c, http.StatusBadRequest, "validation_error", fmt.Sprintf("at most %d files are allowed", MaxPages), nil)
		return nil, false
	}

	out := make([]Stored, 0, len(files))
	for _, fileHeader := range files {
		stored, ok := h.store(c, fileHeader)
		if !ok {
			h.Discard(c.Request.Context(), out...)
			return nil, false
		}
		out = append(out, stored)
	}
	return out, true
}

// Discard removes documents that were stored but will not be used. Failures
// are logged.
func (h *Handler) Discard(ctx context.Context, stored ...Stored) {
	for _, s := range stored {
		if err := h.Svc.Discard(ctx, s.Document); err != nil {
			telemetry.Warn("documents.discard_failed", map[string]any{
				"document_id": s.Document.ID,
				"error":       err.Error(),
			})
		}
	}
}

func respondFormError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds the maximum size", nil)
		return
	}
	respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
}

func (h *Handler) store(c *gin.Context, fileHeader *multipart.FileHeader) (Stored, bool) {
	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return Stored{}, false
	}
	defer file.Close()

	stored, err := h.Svc.Upload(c.Request.Context(), fileHeader.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, ErrFileTooLarge):
			respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", err.Error(), nil)
		case errors.Is(err, ErrUnsupportedType):
			respond.Error(c, http.StatusUnsupportedMediaType, "unsupported_type", err.Error(), nil)
		case IsValidation(err):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to upload document", nil)
		}
		return Stored{}, false
	}
	return stored, true
}

func (h *Handler) upload(c *gin.Context) {
	stored, ok := h.ReadUpload(c)
	if !ok {
		return
	}
	respond.JSON(c, http.StatusCreated, ToResponse(stored.Document))
}

func (h *Handler) get(c *gin.Context) {
	doc, err := h.Svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch document", nil)
		}
		return
	}
	respond.OK(c, ToResponse(doc))
}

func (h *Handler) list(c *gin.Context) {
	limit := 20
	offset := 0

	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if limit > 50 {
		limit = 50
	}

	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	docs, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list documents", nil)
		return
	}

	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, ToResponse(doc))
	}
	respond.OK(c, resp)
}

func withGuards(guards []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(guards)+1)
	out = append(out, guards...)
	return append(out, h)
}
