package history

import (
	"time"

	"docscan-backend/internal/analysis"
)

// Status of a recorded analysis request.
const (
	StatusAnalyzing = "analyzing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Record is the persisted lifecycle of one coordinator request.
type Record struct {
	ID               string
	DocumentID       string
	Status           string
	Extractions      analysis.Extractions
	RemoteDocumentID string
	ErrorMessage     string
	StartedAt        time.Time
	FinishedAt       *time.Time
}

// Terminal reports whether the record reached a final status.
func (r Record) Terminal() bool {
	return r.Status != StatusAnalyzing
}
