package analysis

import "context"

// Backend performs the actual document analysis. Analyze must return once ctx
// is cancelled, though its result is discarded in that case.
type Backend interface {
	Analyze(ctx context.Context, requestID string, req Request) (Extractions, *Document, error)
}

// OperationCanceler is implemented by backends that can abort remote work for
// a request, e.g. by deleting a document that was already uploaded.
type OperationCanceler interface {
	CancelOperation(ctx context.Context, requestID string) error
}

// FeedbackSender is implemented by backends that accept corrected extractions.
// lineItems may be nil when the document has no compound extractions.
type FeedbackSender interface {
	SendFeedback(ctx context.Context, documentID string, updated Extractions, lineItems []Extractions) error
}

// Lifecycle observes every request, including the cancelled ones that never
// reach completions or subscribers. Calls for one request arrive in order.
type Lifecycle interface {
	Started(info Info)
	Finished(info Info, outcome Outcome)
	Discarded(info Info)
}
