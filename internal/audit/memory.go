package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTrail keeps events in memory. Used by tests and dry runs.
type MemoryTrail struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryTrail() *MemoryTrail {
	return &MemoryTrail{}
}

func (m *MemoryTrail) Record(_ context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	m.mu.Lock()
	m.events = append(m.events, evt)
	m.mu.Unlock()
	return nil
}

func (m *MemoryTrail) Recent(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.events) {
		limit = len(m.events)
	}
	out := make([]Event, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.events[len(m.events)-1-i]
	}
	return out, nil
}

func (m *MemoryTrail) BySignal(_ context.Context, signalID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, evt := range m.events {
		if evt.SignalID == signalID {
			out = append(out, evt)
		}
	}
	return out, nil
}

// All returns a copy of everything recorded, oldest first.
func (m *MemoryTrail) All() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryTrail) Close() error { return nil }
