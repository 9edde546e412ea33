package analysis

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docscan-backend/internal/documents"
	"docscan-backend/internal/shared/server/middleware"
	"docscan-backend/internal/shared/server/respond"
)

const defaultEventBuffer = 16

// Handler exposes the coordinator over HTTP.
type Handler struct {
	Coord       *Coordinator
	Uploads     *documents.Handler
	EventBuffer int
	// Heartbeat is the SSE keep-alive interval; zero disables it.
	Heartbeat time.Duration
}

// NewHandler constructs a Handler.
func NewHandler(coord *Coordinator, uploads *documents.Handler, eventBuffer int) *Handler {
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	return &Handler{Coord: coord, Uploads: uploads, EventBuffer: eventBuffer, Heartbeat: 15 * time.Second}
}

// RegisterRoutes attaches analysis routes. Guards run before the start handler only.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, uploadGuards ...gin.HandlerFunc) {
	start := make([]gin.HandlerFunc, 0, len(uploadGuards)+1)
	start = append(start, uploadGuards...)
	start = append(start, h.start)

	rg.POST("/analysis", start...)
	rg.DELETE("/analysis", h.cancel)
	rg.GET("/analysis", h.state)
	rg.GET("/analysis/events", h.events)
	rg.POST("/analysis/feedback", h.feedback)
	rg.GET("/analysis/invoice", h.invoice)
}

// ExtractionsResponse is the JSON form of a delivered result.
type ExtractionsResponse struct {
	RequestID   string      `json:"requestId"`
	DocumentID  string      `json:"documentId,omitempty"`
	PageIDs     []string    `json:"pageDocumentIds,omitempty"`
	Status      string      `json:"status"`
	Extractions Extractions `json:"extractions,omitempty"`
	Document    *Document   `json:"document,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// StateResponse is the JSON form of Snapshot.
type StateResponse struct {
	Analyzing     bool        `json:"analyzing"`
	RequestID     string      `json:"requestId,omitempty"`
	LastRequestID string      `json:"lastRequestId,omitempty"`
	LastResult    Extractions `json:"lastResult,omitempty"`
	LastDocument  *Document   `json:"lastDocument,omitempty"`
	LastError     string      `json:"lastError,omitempty"`
}

// EventResponse is the data payload of an SSE event.
type EventResponse struct {
	Kind        EventKind   `json:"kind"`
	RequestID   string      `json:"requestId"`
	DocumentID  string      `json:"documentId,omitempty"`
	Extractions Extractions `json:"extractions,omitempty"`
	Document    *Document   `json:"document,omitempty"`
	Error       string      `json:"error,omitempty"`
	At          time.Time   `json:"at"`
}

func (h *Handler) start(c *gin.Context) {
	// Fail fast before storing the upload. Start remains the authority.
	if h.Coord.IsAnalyzing() {
		respondBusy(c)
		return
	}

	pages, ok := h.Uploads.ReadUploads(c)
	if !ok {
		return
	}
	first := pages[0].Document
	c.Set(middleware.DocumentIDKey, first.ID)

	ticket, err := h.Coord.Start(buildRequest(pages), nil)
	if err != nil {
		// Nothing will reference the stored pages.
		h.Uploads.Discard(context.WithoutCancel(c.Request.Context()), pages...)
		switch {
		case errors.Is(err, ErrAlreadyInProgress):
			respondBusy(c)
		case errors.Is(err, ErrEmptyImage):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start analysis", nil)
		}
		return
	}
	c.Set(middleware.AnalysisRequestIDKey, ticket.ID())

	if !wantsWait(c) {
		respond.Accepted(c, ExtractionsResponse{
			RequestID:  ticket.ID(),
			DocumentID: first.ID,
			PageIDs:    pageIDs(pages),
			Status:     "analyzing",
		})
		return
	}

	select {
	case <-ticket.Done():
	case <-c.Request.Context().Done():
		// The client left; the analysis keeps running and stays observable.
		return
	}

	outcome, delivered := ticket.Outcome()
	switch {
	case !delivered:
		respond.Error(c, http.StatusGone, "cancelled", "analysis was cancelled", gin.H{"requestId": ticket.ID()})
	case outcome.Err != nil:
		respond.Error(c, http.StatusBadGateway, "backend_error", outcome.Err.Error(), gin.H{"requestId": ticket.ID()})
	default:
		respond.OK(c, ExtractionsResponse{
			RequestID:   outcome.RequestID,
			DocumentID:  outcome.DocumentID,
			Status:      "completed",
			Extractions: outcome.Extractions,
			Document:    outcome.Document,
		})
	}
}

// buildRequest sends a single upload as is and several uploads as the
// ordered pages of one document.
func buildRequest(stored []documents.Stored) Request {
	first := stored[0].Document
	req := Request{
		FileName:   first.FileName,
		MimeType:   first.MimeType,
		DocumentID: first.ID,
	}
	if len(stored) == 1 {
		req.Data = stored[0].Data
		return req
	}
	req.Pages = make([]Page, len(stored))
	for i, s := range stored {
		req.Pages[i] = Page{Data: s.Data, FileName: s.Document.FileName, MimeType: s.Document.MimeType}
	}
	return req
}

func pageIDs(stored []documents.Stored) []string {
	if len(stored) < 2 {
		return nil
	}
	ids := make([]string, len(stored))
	for i, s := range stored {
		ids[i] = s.Document.ID
	}
	return ids
}

func respondBusy(c *gin.Context) {
	respond.Error(c, http.StatusConflict, "already_in_progress", ErrAlreadyInProgress.Error(), nil)
}

func wantsWait(c *gin.Context) bool {
	v := strings.TrimSpace(c.Query("wait"))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func (h *Handler) cancel(c *gin.Context) {
	h.Coord.Cancel()
	respond.NoContent(c)
}

func (h *Handler) state(c *gin.Context) {
	respond.OK(c, toStateResponse(h.Coord.Snapshot()))
}

func toStateResponse(st State) StateResponse {
	resp := StateResponse{
		Analyzing:     st.Analyzing,
		RequestID:     st.RequestID,
		LastRequestID: st.LastRequestID,
		LastResult:    st.LastResult,
		LastDocument:  st.LastDocument,
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
	}
	return resp
}

func toEventResponse(ev Event) EventResponse {
	resp := EventResponse{
		Kind:        ev.Kind,
		RequestID:   ev.RequestID,
		DocumentID:  ev.DocumentID,
		Extractions: ev.Extractions,
		Document:    ev.Document,
		At:          ev.At,
	}
	if ev.Err != nil {
		resp.Error = ev.Err.Error()
	}
	return resp
}

func (h *Handler) events(c *gin.Context) {
	sub := h.Coord.Events().Subscribe(h.EventBuffer)
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	// Send headers now so clients see the stream open before the first event.
	c.Writer.Flush()

	var heartbeat <-chan time.Time
	if h.Heartbeat > 0 {
		ticker := time.NewTicker(h.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(ev.Kind.String(), toEventResponse(ev))
			return true
		case <-heartbeat:
			c.SSEvent("ping", gin.H{"analyzing": h.Coord.IsAnalyzing()})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

type feedbackRequest struct {
	DocumentID  string                  `json:"documentId"`
	Extractions map[string]feedbackItem `json:"extractions"`
	LineItems   []feedbackLineItem      `json:"lineItems"`
}

type feedbackItem struct {
	Value  string `json:"value"`
	Entity string `json:"entity"`
	Box    *Box   `json:"box"`
}

type feedbackLineItem struct {
	Extractions map[string]feedbackItem `json:"extractions"`
	// DeselectedReason is set for items the user is returning.
	DeselectedReason Reason `json:"deselectedReason"`
}

func toExtractions(items map[string]feedbackItem) (Extractions, error) {
	out := make(Extractions, len(items))
	for name, item := range items {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("extraction names must not be empty")
		}
		out[name] = Extraction{Name: name, Value: item.Value, Entity: item.Entity, Box: item.Box}
	}
	return out, nil
}

func (h *Handler) feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if len(req.Extractions) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "extractions are required", nil)
		return
	}

	updated, err := toExtractions(req.Extractions)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	var lineItems []Extractions
	if len(req.LineItems) > 0 {
		raw := make([]Extractions, len(req.LineItems))
		for i, item := range req.LineItems {
			if raw[i], err = toExtractions(item.Extractions); err != nil {
				respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
				return
			}
		}
		inv, err := NewDigitalInvoice(updated, raw)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
			return
		}
		for i, item := range req.LineItems {
			if item.DeselectedReason == "" {
				continue
			}
			if err := inv.LineItems[i].Deselect(item.DeselectedReason); err != nil {
				respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
				return
			}
		}
		lineItems = inv.LineItemExtractions()
	}

	err = h.Coord.SendFeedback(c.Request.Context(), strings.TrimSpace(req.DocumentID), updated, lineItems)
	if err != nil {
		switch {
		case errors.Is(err, ErrFeedbackUnsupported):
			respond.Error(c, http.StatusNotImplemented, "feedback_unsupported", err.Error(), nil)
		case errors.Is(err, ErrNoAnalyzedDocument):
			respond.Error(c, http.StatusConflict, "no_analyzed_document", err.Error(), nil)
		default:
			respond.Error(c, http.StatusBadGateway, "backend_error", err.Error(), nil)
		}
		return
	}
	respond.NoContent(c)
}

// InvoiceResponse is the digital invoice view of the last result.
type InvoiceResponse struct {
	RequestID   string             `json:"requestId"`
	DocumentID  string             `json:"documentId"`
	LineItems   []LineItemResponse `json:"lineItems"`
	Addons      []AddonResponse    `json:"addons,omitempty"`
	Total       string             `json:"total"`
	NumSelected int                `json:"numSelected"`
	NumTotal    int                `json:"numTotal"`
}

// LineItemResponse is one invoice row.
type LineItemResponse struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	Price      string `json:"price"`
	TotalPrice string `json:"totalPrice"`
	Selected   bool   `json:"selected"`
}

// AddonResponse is an invoice-level charge or discount.
type AddonResponse struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Price string `json:"price"`
}

func (h *Handler) invoice(c *gin.Context) {
	st := h.Coord.Snapshot()
	if st.LastDocument == nil {
		respond.Error(c, http.StatusConflict, "no_analyzed_document", ErrNoAnalyzedDocument.Error(), nil)
		return
	}
	inv, err := NewDigitalInvoice(st.LastResult, st.LastDocument.LineItems)
	if err != nil {
		respond.Error(c, http.StatusUnprocessableEntity, "not_an_invoice", err.Error(), nil)
		return
	}
	total, err := inv.Total()
	if err != nil {
		respond.Error(c, http.StatusUnprocessableEntity, "not_an_invoice", err.Error(), nil)
		return
	}

	resp := InvoiceResponse{
		RequestID:   st.LastRequestID,
		DocumentID:  st.LastDocument.ID,
		LineItems:   make([]LineItemResponse, 0, len(inv.LineItems)),
		Total:       total.ExtractionString(),
		NumSelected: inv.NumSelected(),
		NumTotal:    inv.NumTotal(),
	}
	for _, li := range inv.LineItems {
		resp.LineItems = append(resp.LineItems, LineItemResponse{
			Name:       li.Name,
			Quantity:   li.Quantity,
			Price:      li.Price.ExtractionString(),
			TotalPrice: li.TotalPrice().ExtractionString(),
			Selected:   li.Selected(),
		})
	}
	for _, a := range inv.Addons {
		resp.Addons = append(resp.Addons, AddonResponse{Key: a.Key, Label: a.Label, Price: a.Price.ExtractionString()})
	}
	respond.OK(c, resp)
}
