// Package stub provides an in-process analysis backend for local development
// and tests. It returns canned extractions after a configurable delay.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docscan-backend/internal/analysis"
)

// Backend is a fake analysis backend.
type Backend struct {
	Delay time.Duration
	// Extractions are returned for every request; DefaultExtractions when nil.
	Extractions analysis.Extractions
	// LineItems are returned on every document; DefaultLineItems when nil.
	LineItems []analysis.Extractions
	// Err, when set, is returned instead of a result.
	Err error

	now func() time.Time

	mu                sync.Mutex
	feedback          map[string]analysis.Extractions
	feedbackLineItems map[string][]analysis.Extractions
	cancelled         []string
}

// New constructs a Backend with the given delay.
func New(delay time.Duration) *Backend {
	return &Backend{Delay: delay}
}

// DefaultExtractions is a typical remittance slip result.
func DefaultExtractions() analysis.Extractions {
	return analysis.Extractions{
		"amountToPay":      {Name: "amountToPay", Value: "42.00:EUR", Entity: "amount"},
		"paymentRecipient": {Name: "paymentRecipient", Value: "Example GmbH", Entity: "companyname"},
		"iban":             {Name: "iban", Value: "DE89370400440532013000", Entity: "iban"},
		"paymentReference": {Name: "paymentReference", Value: "INV-2024-0001", Entity: "reference"},
		"invoiceDate":      {Name: "invoiceDate", Value: "2024-01-01", Entity: "date"},
	}
}

// DefaultLineItems are the rows of a typical online shop invoice.
func DefaultLineItems() []analysis.Extractions {
	row := func(name, quantity, price string) analysis.Extractions {
		return analysis.Extractions{
			"description": {Name: "description", Value: name, Entity: "text"},
			"quantity":    {Name: "quantity", Value: quantity, Entity: "numeric"},
			"grossPrice":  {Name: "grossPrice", Value: price, Entity: "amount"},
		}
	}
	return []analysis.Extractions{
		row("Nike Sportswear Air Max 97 - Sneaker", "3", "76.48:EUR"),
		row("Erbauer EPT1500 254 Planer/Thicknesser", "1", "220.00:EUR"),
		row("Brace & Bit", "2", "89.93:EUR"),
	}
}

// Analyze waits for Delay and returns the canned result. It returns early
// with ctx.Err() when ctx is cancelled.
func (b *Backend) Analyze(ctx context.Context, requestID string, req analysis.Request) (analysis.Extractions, *analysis.Document, error) {
	if b.Delay > 0 {
		timer := time.NewTimer(b.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if b.Err != nil {
		return nil, nil, b.Err
	}
	extractions := b.Extractions
	if extractions == nil {
		extractions = DefaultExtractions()
	}
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	lineItems := b.LineItems
	if lineItems == nil {
		lineItems = DefaultLineItems()
	}
	doc := &analysis.Document{
		ID:        "stub-" + requestID,
		Name:      req.FileName,
		PageCount: req.PageCount(),
		Links: map[string]string{
			"extractions": fmt.Sprintf("stub://documents/stub-%s/extractions", requestID),
		},
		CreatedAt: now().UTC(),
		LineItems: analysis.CloneLineItems(lineItems),
	}
	if len(req.Pages) > 0 && doc.Name == "" {
		doc.Name = req.Pages[0].FileName
	}
	return extractions.Clone(), doc, nil
}

// CancelOperation records the cancelled request.
func (b *Backend) CancelOperation(ctx context.Context, requestID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, requestID)
	return nil
}

// SendFeedback records corrected extractions and line items in memory.
func (b *Backend) SendFeedback(ctx context.Context, documentID string, updated analysis.Extractions, lineItems []analysis.Extractions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.feedback == nil {
		b.feedback = make(map[string]analysis.Extractions)
		b.feedbackLineItems = make(map[string][]analysis.Extractions)
	}
	b.feedback[documentID] = updated.Clone()
	b.feedbackLineItems[documentID] = analysis.CloneLineItems(lineItems)
	return nil
}

// FeedbackLineItems returns the line items of the last feedback for documentID.
func (b *Backend) FeedbackLineItems(documentID string) []analysis.Extractions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return analysis.CloneLineItems(b.feedbackLineItems[documentID])
}

// Feedback returns the last feedback recorded for documentID.
func (b *Backend) Feedback(documentID string) (analysis.Extractions, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fb, ok := b.feedback[documentID]
	return fb.Clone(), ok
}

// Cancelled returns the request ids passed to CancelOperation.
func (b *Backend) Cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}

var (
	_ analysis.Backend           = (*Backend)(nil)
	_ analysis.OperationCanceler = (*Backend)(nil)
	_ analysis.FeedbackSender    = (*Backend)(nil)
)
