package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Kind buckets audit events for querying.
type Kind string

const (
	KindTransition     Kind = "transition"     // signal state change
	KindVerdicts       Kind = "verdicts"       // full validation verdict list
	KindOrder          Kind = "order"          // order state change
	KindOperator       Kind = "operator"       // privileged control action
	KindReconciliation Kind = "reconciliation" // late/ambiguous outcome flagged for a human
)

// Event is one append-only audit record. Every signal and order transition
// produces one; the pipeline does not advance past a stage until the
// stage's event is durable.
type Event struct {
	ID       string          `json:"id"`
	SignalID string          `json:"signal_id,omitempty"`
	OrderID  string          `json:"order_id,omitempty"`
	Kind     Kind            `json:"kind"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Code     string          `json:"code,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	At       time.Time       `json:"at"`
}

// Trail is the write-ahead audit contract. Record must be durable before it
// returns; it is never skipped, rejection paths included.
type Trail interface {
	Record(ctx context.Context, evt Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	BySignal(ctx context.Context, signalID string) ([]Event, error)
	Close() error
}
