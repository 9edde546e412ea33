package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"docscan-backend/internal/analysis"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const selectColumns = `id, document_id, status, extractions, remote_document_id, error_message, started_at, finished_at`

// Save upserts a record keyed by id.
func (r *PGRepo) Save(ctx context.Context, rec Record) error {
	const query = `
INSERT INTO analysis_history (
    id,
    document_id,
    status,
    extractions,
    remote_document_id,
    error_message,
    started_at,
    finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    extractions = EXCLUDED.extractions,
    remote_document_id = EXCLUDED.remote_document_id,
    error_message = EXCLUDED.error_message,
    finished_at = EXCLUDED.finished_at`

	extractions, err := marshalJSONB(rec.Extractions)
	if err != nil {
		return err
	}
	var finishedAt any
	if rec.FinishedAt != nil {
		finishedAt = *rec.FinishedAt
	}
	_, err = r.DB.ExecContext(
		ctx,
		query,
		rec.ID,
		nullString(rec.DocumentID),
		rec.Status,
		extractions,
		nullString(rec.RemoteDocumentID),
		nullString(rec.ErrorMessage),
		rec.StartedAt,
		finishedAt,
	)
	return err
}

// GetByID fetches a record by id.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Record, error) {
	query := `SELECT ` + selectColumns + ` FROM analysis_history WHERE id = $1 LIMIT 1`
	rec, err := scanRecord(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// List lists records newest first.
func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + selectColumns + ` FROM analysis_history ORDER BY started_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var documentID sql.NullString
	var extractions sql.NullString
	var remoteDocumentID sql.NullString
	var errorMessage sql.NullString
	var finishedAt sql.NullTime
	err := row.Scan(
		&rec.ID,
		&documentID,
		&rec.Status,
		&extractions,
		&remoteDocumentID,
		&errorMessage,
		&rec.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.DocumentID = documentID.String
	rec.RemoteDocumentID = remoteDocumentID.String
	rec.ErrorMessage = errorMessage.String
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	if extractions.Valid && extractions.String != "" {
		var parsed analysis.Extractions
		if err := json.Unmarshal([]byte(extractions.String), &parsed); err == nil {
			rec.Extractions = parsed
		}
	}
	return rec, nil
}

func marshalJSONB(e analysis.Extractions) (any, error) {
	if e == nil {
		return nil, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Repo = (*PGRepo)(nil)
