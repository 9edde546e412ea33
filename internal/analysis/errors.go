package analysis

import "errors"

var (
	// ErrAlreadyInProgress is returned by Start while another analysis is in flight.
	ErrAlreadyInProgress = errors.New("analysis already in progress")
	// ErrEmptyImage is returned by Start when no image data is supplied.
	ErrEmptyImage = errors.New("image data is required")
	// ErrNoDocument means the backend finished without an error or a document.
	ErrNoDocument = errors.New("backend returned no document")
	// ErrFeedbackUnsupported means the configured backend cannot take feedback.
	ErrFeedbackUnsupported = errors.New("backend does not support feedback")
	// ErrNoAnalyzedDocument means feedback was requested before any document was analyzed.
	ErrNoAnalyzedDocument = errors.New("no analyzed document")
)
