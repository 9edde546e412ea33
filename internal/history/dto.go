package history

import (
	"time"

	"docscan-backend/internal/analysis"
)

// RecordResponse is the JSON form of a Record.
type RecordResponse struct {
	ID               string               `json:"id"`
	DocumentID       string               `json:"documentId,omitempty"`
	Status           string               `json:"status"`
	Extractions      analysis.Extractions `json:"extractions,omitempty"`
	RemoteDocumentID string               `json:"remoteDocumentId,omitempty"`
	ErrorMessage     string               `json:"errorMessage,omitempty"`
	StartedAt        time.Time            `json:"startedAt"`
	FinishedAt       *time.Time           `json:"finishedAt,omitempty"`
}

// ToResponse converts a Record for the API.
func ToResponse(rec Record) RecordResponse {
	return RecordResponse{
		ID:               rec.ID,
		DocumentID:       rec.DocumentID,
		Status:           rec.Status,
		Extractions:      rec.Extractions,
		RemoteDocumentID: rec.RemoteDocumentID,
		ErrorMessage:     rec.ErrorMessage,
		StartedAt:        rec.StartedAt,
		FinishedAt:       rec.FinishedAt,
	}
}
