// Package workerproc turns queue messages into coordinator requests.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"docscan-backend/internal/analysis"
	"docscan-backend/internal/documents"
	"docscan-backend/internal/queue"
)

// ErrDiscarded means the request was cancelled before it produced an outcome.
var ErrDiscarded = errors.New("analysis discarded")

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingDocumentID indicates a message without a document id.
type ErrMissingDocumentID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingDocumentID) Error() string { return "missing document id" }

// ErrProcess indicates processing failed after successful parsing. Retry
// tells the consumer to leave the message for redelivery.
type ErrProcess struct {
	DocumentID string
	RequestID  string
	Err        error
	Retry      bool
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process document"
	}
	return "process document: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.DocumentID) == "" {
		return msg, meta, ErrMissingDocumentID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.Message) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.Message, bool) {
	if ctx == nil {
		return queue.Message{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.Message)
	return msg, ok
}

// Processor runs the analysis a message asks for.
type Processor interface {
	Process(ctx context.Context, msg queue.Message) error
}

// HandleMessage parses, validates, and processes a message payload.
func HandleMessage(ctx context.Context, p Processor, body string) error {
	if p == nil {
		return errors.New("processor not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			return err
		}
	}
	if strings.TrimSpace(msg.DocumentID) == "" {
		return ErrMissingDocumentID{Meta: ComputeMeta(body), RequestID: msg.RequestID}
	}
	return p.Process(ctx, msg)
}

// DocumentLoader loads a stored upload with its bytes.
type DocumentLoader interface {
	Load(ctx context.Context, id string) (documents.Stored, error)
}

// Runner analyzes queued documents through a coordinator, one at a time.
type Runner struct {
	Docs  DocumentLoader
	Coord *analysis.Coordinator
}

// Process loads the document, starts an analysis under the message's request
// id and waits for its outcome. Cancelling ctx cancels that analysis only.
func (r *Runner) Process(ctx context.Context, msg queue.Message) error {
	fail := func(err error, retry bool) error {
		return ErrProcess{DocumentID: msg.DocumentID, RequestID: msg.RequestID, Err: err, Retry: retry}
	}
	if r == nil || r.Docs == nil || r.Coord == nil {
		return fail(errors.New("runner not configured"), true)
	}

	stored, err := r.Docs.Load(ctx, msg.DocumentID)
	if err != nil {
		return fail(err, !errors.Is(err, documents.ErrNotFound) && !errors.Is(err, documents.ErrInvalidInput))
	}

	ticket, err := r.Coord.Start(analysis.Request{
		ID:         msg.RequestID,
		Data:       stored.Data,
		FileName:   stored.Document.FileName,
		MimeType:   stored.Document.MimeType,
		DocumentID: stored.Document.ID,
	}, nil)
	if err != nil {
		return fail(err, errors.Is(err, analysis.ErrAlreadyInProgress))
	}

	select {
	case <-ticket.Done():
	case <-ctx.Done():
		r.Coord.CancelTicket(ticket, "shutdown")
		return fail(ctx.Err(), true)
	}

	outcome, delivered := ticket.Outcome()
	switch {
	case !delivered:
		return fail(ErrDiscarded, true)
	case outcome.Err != nil:
		return fail(outcome.Err, false)
	}
	return nil
}

var _ Processor = (*Runner)(nil)
