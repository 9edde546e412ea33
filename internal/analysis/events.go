package analysis

import (
	"fmt"
	"sync"
	"time"

	"docscan-backend/internal/shared/metrics"
	"docscan-backend/internal/shared/telemetry"
)

// EventKind identifies a notification published by the coordinator.
type EventKind int

const (
	EventResult EventKind = iota + 1
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "AnalysisDidReceiveResult"
	case EventError:
		return "AnalysisDidReceiveError"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (k *EventKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "AnalysisDidReceiveResult":
		*k = EventResult
	case "AnalysisDidReceiveError":
		*k = EventError
	default:
		return fmt.Errorf("unknown event kind %q", text)
	}
	return nil
}

// Event is delivered to subscribers when an analysis completes or fails.
type Event struct {
	Kind        EventKind
	RequestID   string
	DocumentID  string
	Extractions Extractions
	Document    *Document
	Err         error
	At          time.Time
}

// Bus fans events out to subscribers. Delivery never blocks the publisher: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription is a subscriber's handle on the bus.
type Subscription struct {
	bus    *Bus
	ch     chan Event
	kinds  map[EventKind]bool
	closed bool
}

// Subscribe attaches a subscriber. With no kinds it receives every event.
func (b *Bus) Subscribe(buffer int, kinds ...EventKind) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{bus: b, ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscriber. Nothing is delivered after Close returns.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.bus.subs, s)
	close(s.ch)
}

// Len returns the number of attached subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers ev to every interested subscriber and returns how many got it.
func (b *Bus) Publish(ev Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[ev.Kind] {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			metrics.IncEventsDropped()
			telemetry.Warn("analysis.event_dropped", map[string]any{
				"request_id": ev.RequestID,
				"event":      ev.Kind.String(),
			})
		}
	}
	return delivered
}
