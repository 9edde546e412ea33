package history

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"docscan-backend/internal/analysis"
)

var recordColumns = []string{"id", "document_id", "status", "extractions", "remote_document_id", "error_message", "started_at", "finished_at"}

func newMock(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoSaveUpserts(t *testing.T) {
	repo, mock := newMock(t)
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)

	mock.ExpectExec("INSERT INTO analysis_history (.+) ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs("req-1", sql.NullString{}, StatusAnalyzing, nil, sql.NullString{}, sql.NullString{}, started, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO analysis_history").
		WithArgs("req-1", sql.NullString{String: "doc-1", Valid: true}, StatusCompleted,
			`{"amount":{"name":"amount","value":"1.00"}}`,
			sql.NullString{String: "remote-1", Valid: true}, sql.NullString{}, started, finished).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Save(context.Background(), Record{ID: "req-1", Status: StatusAnalyzing, StartedAt: started}); err != nil {
		t.Fatalf("save analyzing: %v", err)
	}
	err := repo.Save(context.Background(), Record{
		ID:               "req-1",
		DocumentID:       "doc-1",
		Status:           StatusCompleted,
		Extractions:      analysis.Extractions{"amount": {Name: "amount", Value: "1.00"}},
		RemoteDocumentID: "remote-1",
		StartedAt:        started,
		FinishedAt:       &finished,
	})
	if err != nil {
		t.Fatalf("save completed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByID(t *testing.T) {
	repo, mock := newMock(t)
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	finished := started.Add(time.Second)

	mock.ExpectQuery("SELECT (.+) FROM analysis_history WHERE id = \\$1").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("req-1", "doc-1", StatusFailed, nil, nil, "upstream 500", started, finished))
	mock.ExpectQuery("SELECT (.+) FROM analysis_history WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	rec, err := repo.GetByID(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != StatusFailed || rec.ErrorMessage != "upstream 500" || rec.RemoteDocumentID != "" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.FinishedAt == nil || !rec.FinishedAt.Equal(finished) || rec.Extractions != nil {
		t.Fatalf("unexpected record times/extractions: %+v", rec)
	}
	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoListDecodesExtractions(t *testing.T) {
	repo, mock := newMock(t)
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM analysis_history ORDER BY started_at DESC LIMIT \\$1 OFFSET \\$2").
		WithArgs(100, 0).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow("req-2", nil, StatusCompleted, `{"iban":{"name":"iban","value":"DE00"}}`, "remote-2", nil, started, started).
			AddRow("req-1", nil, StatusAnalyzing, nil, nil, nil, started, nil))

	recs, err := repo.List(context.Background(), 500, -3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Extractions["iban"].Value != "DE00" || recs[0].RemoteDocumentID != "remote-2" {
		t.Fatalf("unexpected first record: %+v", recs[0])
	}
	if recs[1].FinishedAt != nil || recs[1].Terminal() {
		t.Fatalf("unexpected second record: %+v", recs[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
