package history

import "context"

// Repo persists analysis records.
type Repo interface {
	// Save inserts rec or replaces the record with the same id.
	Save(ctx context.Context, rec Record) error
	GetByID(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, limit, offset int) ([]Record, error)
}
