package analysis

import (
	"sync"
	"testing"
)

func TestTokenStartsUncancelled(t *testing.T) {
	var token Token
	if token.IsCancelled() {
		t.Fatalf("expected new token to be uncancelled")
	}
}

func TestTokenCancelIsIdempotent(t *testing.T) {
	var token Token
	token.Cancel()
	token.Cancel()
	if !token.IsCancelled() {
		t.Fatalf("expected token to stay cancelled")
	}
}

func TestTokenCancelVisibleAcrossGoroutines(t *testing.T) {
	token := &Token{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token.Cancel()
		}()
	}
	wg.Wait()

	seen := make(chan bool)
	go func() { seen <- token.IsCancelled() }()
	if !<-seen {
		t.Fatalf("expected polling goroutine to observe cancellation")
	}
}
