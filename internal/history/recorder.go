package history

import (
	"context"
	"time"

	"docscan-backend/internal/analysis"
	"docscan-backend/internal/shared/telemetry"
)

const defaultWriteTimeout = 5 * time.Second

// Recorder persists every coordinator request, cancelled ones included.
type Recorder struct {
	Repo Repo
	// WriteTimeout bounds each repository write.
	WriteTimeout time.Duration
	now          func() time.Time
}

// NewRecorder constructs a Recorder backed by repo.
func NewRecorder(repo Repo) *Recorder {
	return &Recorder{Repo: repo, WriteTimeout: defaultWriteTimeout, now: time.Now}
}

// Started records a request as analyzing.
func (r *Recorder) Started(info analysis.Info) {
	r.save(Record{
		ID:         info.RequestID,
		DocumentID: info.DocumentID,
		Status:     StatusAnalyzing,
		StartedAt:  info.StartedAt,
	})
}

// Finished records the delivered outcome.
func (r *Recorder) Finished(info analysis.Info, outcome analysis.Outcome) {
	finished := outcome.FinishedAt
	if finished.IsZero() {
		finished = r.clock()
	}
	rec := Record{
		ID:          info.RequestID,
		DocumentID:  info.DocumentID,
		Status:      StatusCompleted,
		Extractions: outcome.Extractions,
		StartedAt:   info.StartedAt,
		FinishedAt:  &finished,
	}
	if outcome.Document != nil {
		rec.RemoteDocumentID = outcome.Document.ID
	}
	if outcome.Err != nil {
		rec.Status = StatusFailed
		rec.ErrorMessage = outcome.Err.Error()
	}
	r.save(rec)
}

// Discarded records a cancelled request.
func (r *Recorder) Discarded(info analysis.Info) {
	finished := r.clock()
	r.save(Record{
		ID:         info.RequestID,
		DocumentID: info.DocumentID,
		Status:     StatusCancelled,
		StartedAt:  info.StartedAt,
		FinishedAt: &finished,
	})
}

func (r *Recorder) save(rec Record) {
	if r == nil || r.Repo == nil {
		return
	}
	timeout := r.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.Repo.Save(ctx, rec); err != nil {
		telemetry.Error("history.save_failed", map[string]any{
			"request_id": rec.ID,
			"status":     rec.Status,
			"error":      err.Error(),
		})
	}
}

func (r *Recorder) clock() time.Time {
	if r.now != nil {
		return r.now().UTC()
	}
	return time.Now().UTC()
}

var _ analysis.Lifecycle = (*Recorder)(nil)
