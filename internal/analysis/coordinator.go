package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docscan-backend/internal/shared/metrics"
	"docscan-backend/internal/shared/telemetry"
)

const backendCancelTimeout = 30 * time.Second

// Coordinator runs at most one analysis at a time against a Backend.
//
// Start, Cancel and backend completions may race. All state changes happen
// under mu, and the decision to deliver or discard a response is taken under
// the same lock that Cancel uses to mark the token. Delivery itself runs after
// unlocking, so a Cancel that arrives after that decision does not suppress it.
// Cancellation is therefore best effort rather than linearizable.
type Coordinator struct {
	backend   Backend
	bus       *Bus
	lifecycle Lifecycle
	timeout   time.Duration
	newID     func() string
	now       func() time.Time

	mu            sync.Mutex
	current       *flight
	lastRequestID string
	lastResult    Extractions
	lastDocument  *Document
	lastError     error
}

type flight struct {
	ticket *Ticket
	stop   context.CancelFunc
	timer  *time.Timer
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithTimeout cancels an analysis that runs longer than d, exactly as if
// Cancel had been called. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithLifecycle registers an observer for request lifecycles.
func WithLifecycle(l Lifecycle) Option {
	return func(c *Coordinator) { c.lifecycle = l }
}

// WithBus publishes events on bus instead of a private one.
func WithBus(bus *Bus) Option {
	return func(c *Coordinator) { c.bus = bus }
}

// WithIDGenerator overrides request id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) { c.newID = fn }
}

// NewCoordinator constructs an idle Coordinator.
func NewCoordinator(backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend: backend,
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = NewBus()
	}
	return c
}

// Events returns the bus on which results and errors are published.
func (c *Coordinator) Events() *Bus {
	return c.bus
}

// Start dispatches req to the backend and returns without waiting for it.
// It fails with ErrAlreadyInProgress while another analysis is in flight; the
// in-flight request is unaffected and completion is not called.
func (c *Coordinator) Start(req Request, completion Completion) (*Ticket, error) {
	if req.empty() {
		return nil, ErrEmptyImage
	}
	if c.backend == nil {
		return nil, errors.New("analysis backend not configured")
	}

	c.mu.Lock()
	if c.current != nil {
		busyID := c.current.ticket.id
		c.mu.Unlock()
		metrics.IncAnalysisRejected()
		telemetry.Warn("analysis.rejected", map[string]any{
			"in_flight_request_id": busyID,
			"document_id":          req.DocumentID,
		})
		return nil, ErrAlreadyInProgress
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = c.newID()
	}
	ticket := &Ticket{
		id:    id,
		token: &Token{},
		done:  make(chan struct{}),
		info: Info{
			DocumentID: req.DocumentID,
			FileName:   req.FileName,
			MimeType:   req.MimeType,
			SizeBytes:  req.SizeBytes(),
			PageCount:  req.PageCount(),
			StartedAt:  c.now(),
		},
	}
	ticket.info.RequestID = ticket.id

	ctx, stop := context.WithCancel(context.Background())
	f := &flight{ticket: ticket, stop: stop}
	if c.timeout > 0 {
		f.timer = time.AfterFunc(c.timeout, func() {
			if c.cancel(ticket, "timeout") {
				telemetry.Warn("analysis.timeout", map[string]any{
					"request_id": ticket.id,
					"timeout_ms": c.timeout.Milliseconds(),
				})
			}
		})
	}
	c.current = f
	c.lastError = nil
	c.mu.Unlock()

	metrics.IncAnalysisStarted()
	telemetry.Info("analysis.started", map[string]any{
		"request_id":  ticket.id,
		"document_id": req.DocumentID,
		"file_name":   req.FileName,
		"size_bytes":  ticket.info.SizeBytes,
		"pages":       ticket.info.PageCount,
	})

	go c.run(ctx, stop, ticket, req, completion)
	return ticket, nil
}

// Cancel abandons the in-flight analysis, if any. The coordinator is idle when
// Cancel returns; the backend is asked to stop but is not waited for, and its
// eventual response is discarded.
func (c *Coordinator) Cancel() {
	c.cancel(nil, "caller")
}

// CancelTicket cancels t only while it is the in-flight request, so a caller
// cannot abandon an analysis started by someone else. It reports whether t
// was cancelled.
func (c *Coordinator) CancelTicket(t *Ticket, reason string) bool {
	if t == nil {
		return false
	}
	return c.cancel(t, reason)
}

// cancel cancels the current flight, or only the given ticket's flight when
// target is non-nil. It reports whether anything was cancelled.
func (c *Coordinator) cancel(target *Ticket, reason string) bool {
	c.mu.Lock()
	f := c.current
	if f == nil || (target != nil && f.ticket != target) {
		c.mu.Unlock()
		return false
	}
	f.ticket.token.Cancel()
	c.clearCurrentLocked()
	c.mu.Unlock()

	f.stop()
	metrics.IncAnalysisCancelled()
	telemetry.Info("analysis.cancelled", map[string]any{
		"request_id": f.ticket.id,
		"reason":     reason,
	})

	if canceler, ok := c.backend.(OperationCanceler); ok {
		go func(requestID string) {
			ctx, done := context.WithTimeout(context.Background(), backendCancelTimeout)
			defer done()
			if err := canceler.CancelOperation(ctx, requestID); err != nil {
				telemetry.Warn("analysis.backend_cancel_failed", map[string]any{
					"request_id": requestID,
					"error":      err.Error(),
				})
			}
		}(f.ticket.id)
	}
	return true
}

// IsAnalyzing reports whether an analysis is in flight.
func (c *Coordinator) IsAnalyzing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Snapshot returns the current state, including the latest delivered outcome.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		Analyzing:     c.current != nil,
		LastRequestID: c.lastRequestID,
		LastResult:    c.lastResult.Clone(),
		LastError:     c.lastError,
	}
	if c.current != nil {
		st.RequestID = c.current.ticket.id
	}
	st.LastDocument = c.lastDocument.Clone()
	return st
}

// SendFeedback forwards corrected extractions and line items for documentID,
// or for the most recently analyzed document when documentID is empty.
func (c *Coordinator) SendFeedback(ctx context.Context, documentID string, updated Extractions, lineItems []Extractions) error {
	sender, ok := c.backend.(FeedbackSender)
	if !ok {
		return ErrFeedbackUnsupported
	}
	if strings.TrimSpace(documentID) == "" {
		c.mu.Lock()
		if c.lastDocument != nil {
			documentID = c.lastDocument.ID
		}
		c.mu.Unlock()
	}
	if documentID == "" {
		return ErrNoAnalyzedDocument
	}
	if err := sender.SendFeedback(ctx, documentID, updated, lineItems); err != nil {
		return fmt.Errorf("send feedback document=%s: %w", documentID, err)
	}
	telemetry.Info("analysis.feedback_sent", map[string]any{
		"document_id": documentID,
		"extractions": len(updated),
		"line_items":  len(lineItems),
	})
	return nil
}

func (c *Coordinator) run(ctx context.Context, stop context.CancelFunc, ticket *Ticket, req Request, completion Completion) {
	defer stop()
	if c.lifecycle != nil {
		c.lifecycle.Started(ticket.info)
	}

	var (
		extractions Extractions
		document    *Document
		err         error
	)
	if !ticket.token.IsCancelled() {
		extractions, document, err = c.analyze(ctx, ticket.id, req)
	}
	c.finish(ticket, extractions, document, err, completion)
}

func (c *Coordinator) analyze(ctx context.Context, requestID string, req Request) (extractions Extractions, document *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			extractions, document, err = nil, nil, fmt.Errorf("backend panic: %v", r)
		}
	}()
	extractions, document, err = c.backend.Analyze(ctx, requestID, req)
	if err == nil && document == nil {
		err = ErrNoDocument
	}
	if err != nil {
		return nil, nil, err
	}
	if extractions == nil {
		extractions = Extractions{}
	}
	return extractions, document, nil
}

func (c *Coordinator) finish(ticket *Ticket, extractions Extractions, document *Document, err error, completion Completion) {
	c.mu.Lock()
	if c.current != nil && c.current.ticket == ticket {
		c.clearCurrentLocked()
	}
	discard := ticket.token.IsCancelled()
	outcome := Outcome{
		RequestID:   ticket.id,
		DocumentID:  ticket.info.DocumentID,
		Extractions: extractions,
		Document:    document,
		Err:         err,
		FinishedAt:  c.now(),
	}
	if !discard {
		c.lastRequestID = ticket.id
		if err != nil {
			c.lastError = err
		} else {
			c.lastResult = extractions.Clone()
			c.lastDocument = document
			c.lastError = nil
		}
	}
	c.mu.Unlock()

	durationMs := float64(outcome.FinishedAt.Sub(ticket.info.StartedAt).Microseconds()) / 1000.0
	if discard {
		metrics.IncAnalysisDiscarded()
		telemetry.Info("analysis.discarded", map[string]any{
			"request_id":  ticket.id,
			"duration_ms": durationMs,
		})
		if c.lifecycle != nil {
			c.lifecycle.Discarded(ticket.info)
		}
		ticket.resolve(nil)
		return
	}

	metrics.ObserveAnalysisDurationMs(durationMs)
	if err != nil {
		metrics.IncAnalysisFailed()
		telemetry.Error("analysis.failed", map[string]any{
			"request_id":  ticket.id,
			"document_id": ticket.info.DocumentID,
			"duration_ms": durationMs,
			"error":       err.Error(),
		})
	} else {
		metrics.IncAnalysisCompleted()
		telemetry.Info("analysis.completed", map[string]any{
			"request_id":         ticket.id,
			"document_id":        ticket.info.DocumentID,
			"remote_document_id": document.ID,
			"extractions":        len(extractions),
			"duration_ms":        durationMs,
		})
	}

	if completion != nil {
		c.callCompletion(ticket.id, completion, outcome)
	}
	c.bus.Publish(outcome.Event())
	if c.lifecycle != nil {
		c.lifecycle.Finished(ticket.info, outcome)
	}
	ticket.resolve(&outcome)
}

func (c *Coordinator) callCompletion(requestID string, completion Completion, outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("analysis.completion_panic", map[string]any{
				"request_id": requestID,
				"error":      fmt.Sprint(r),
			})
		}
	}()
	if outcome.Err != nil {
		completion(nil, nil, outcome.Err)
		return
	}
	completion(outcome.Extractions, outcome.Document, nil)
}

func (c *Coordinator) clearCurrentLocked() {
	if c.current.timer != nil {
		c.current.timer.Stop()
	}
	c.current = nil
}

// Ticket identifies an accepted request.
type Ticket struct {
	id    string
	token *Token
	info  Info
	done  chan struct{}

	outcome   Outcome
	delivered bool
}

// ID returns the request id.
func (t *Ticket) ID() string { return t.id }

// Token returns the request's cancellation token.
func (t *Ticket) Token() *Token { return t.token }

// Info returns the request metadata.
func (t *Ticket) Info() Info { return t.info }

// Done is closed once the request has been delivered or discarded.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Outcome returns the delivered outcome. It reports false while the request is
// running and when its response was discarded.
func (t *Ticket) Outcome() (Outcome, bool) {
	select {
	case <-t.done:
		return t.outcome, t.delivered
	default:
		return Outcome{}, false
	}
}

func (t *Ticket) resolve(outcome *Outcome) {
	if outcome != nil {
		t.outcome = *outcome
		t.delivered = true
	}
	close(t.done)
}
