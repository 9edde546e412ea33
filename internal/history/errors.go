package history

import "errors"

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("analysis record not found")
