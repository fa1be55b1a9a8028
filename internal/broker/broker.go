package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Request is one physical broker action derived from an approved signal.
type Request struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Kind     string          `json:"kind"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price,omitempty"`
	Trigger  decimal.Decimal `json:"trigger,omitempty"`

	// RefBrokerID targets an existing broker order for modify/cancel/exit.
	RefBrokerID string `json:"ref_broker_id,omitempty"`
}

// Ack is the broker's acceptance of a request.
type Ack struct {
	BrokerID string    `json:"broker_id"`
	PlacedAt time.Time `json:"placed_at"`
}

// Client is the execution back-end boundary. The back end must honor
// at-most-once semantics per idempotency key: repeating a call with the
// same key never places a second order.
type Client interface {
	Execute(ctx context.Context, idempotencyKey string, req Request) (*Ack, error)
}

// TransportError marks unreachable/timeout failures. These are retryable
// with the same idempotency key; the order may or may not exist upstream.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("broker transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError marks an explicit broker refusal. Terminal, never retried.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return fmt.Sprintf("broker rejected: %s", e.Reason) }

// IsTransport reports whether err is a retryable transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejected reports whether err is a terminal broker rejection.
func IsRejected(err error) (string, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
