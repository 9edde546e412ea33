package analysis

import "sync/atomic"

// Token is a cooperative cancellation flag shared between the coordinator and
// the operation it started. Once cancelled it stays cancelled.
type Token struct {
	cancelled atomic.Bool
}

// Cancel marks the token as cancelled. Calling it again has no further effect.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	return t.cancelled.Load()
}
