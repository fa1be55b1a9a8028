package pipeline

import (
	"encoding/json"
	"time"

	"github.com/herambskanda/teletrade/internal/intent"
	"github.com/herambskanda/teletrade/internal/risk"
)

// SignalState is the admission lifecycle. Transitions are one-directional;
// no state is ever revisited.
type SignalState string

const (
	StateReceived       SignalState = "received"
	StateDedupedOut     SignalState = "deduped_out"
	StateValidating     SignalState = "validating"
	StateApproved       SignalState = "approved"
	StateRejected       SignalState = "rejected"
	StateDispatching    SignalState = "dispatching"
	StateExecuted       SignalState = "executed"
	StateDispatchFailed SignalState = "dispatch_failed"
)

// Terminal reports whether the signal's journey is over.
func (s SignalState) Terminal() bool {
	switch s {
	case StateDedupedOut, StateRejected, StateExecuted, StateDispatchFailed:
		return true
	}
	return false
}

var signalTransitions = map[SignalState][]SignalState{
	StateReceived:    {StateDedupedOut, StateValidating},
	StateValidating:  {StateApproved, StateRejected},
	StateApproved:    {StateDispatching},
	StateDispatching: {StateExecuted, StateDispatchFailed},
}

func (s SignalState) canTransition(to SignalState) bool {
	for _, next := range signalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Signal wraps one intent through admission. Only the pipeline actor
// mutates it; observers get copies.
type Signal struct {
	ID          string
	Fingerprint string
	Intent      *intent.Intent
	State       SignalState
	Verdicts    []risk.Verdict
	Code        string
	Reason      string
	OrderID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// View is the copy handed to the HTTP surface.
type View struct {
	ID          string         `json:"id"`
	Fingerprint string         `json:"fingerprint"`
	Symbol      string         `json:"symbol"`
	Source      string         `json:"source"`
	State       SignalState    `json:"state"`
	Verdicts    []risk.Verdict `json:"verdicts,omitempty"`
	Code        string         `json:"code,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	OrderID     string         `json:"order_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (s *Signal) view() View {
	v := View{
		ID:          s.ID,
		Fingerprint: s.Fingerprint,
		State:       s.State,
		Code:        s.Code,
		Reason:      s.Reason,
		OrderID:     s.OrderID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.Intent != nil {
		v.Symbol = s.Intent.NormalizedSymbol()
		v.Source = s.Intent.SourceChannel
	}
	if len(s.Verdicts) > 0 {
		v.Verdicts = make([]risk.Verdict, len(s.Verdicts))
		copy(v.Verdicts, s.Verdicts)
	}
	return v
}

// EventType names the messages the actor loop consumes.
type EventType string

const (
	EvtIntent          EventType = "INTENT"
	EvtVerdicts        EventType = "VERDICTS"
	EvtDispatchOutcome EventType = "DISPATCH_OUTCOME"
	EvtOrderTerminal   EventType = "ORDER_TERMINAL"
	EvtLateAck         EventType = "LATE_ACK"
)

// EventEnvelope is the standard message the actor receives.
type EventEnvelope struct {
	ID        string
	Type      EventType
	Payload   json.RawMessage
	CreatedAt time.Time

	// ReplyCh unblocks synchronous senders (optional).
	ReplyCh chan error `json:"-"`
}

// IntentPayload admits a freshly interpreted intent.
type IntentPayload struct {
	SignalID string         `json:"signal_id"`
	Intent   *intent.Intent `json:"intent"`
}

// VerdictsPayload carries validation results back into the loop.
type VerdictsPayload struct {
	SignalID string         `json:"signal_id"`
	Verdicts []risk.Verdict `json:"verdicts"`
}

// DispatchOutcomePayload reports the dispatch attempt sequence.
type DispatchOutcomePayload struct {
	SignalID  string `json:"signal_id"`
	OrderID   string `json:"order_id,omitempty"`
	BrokerID  string `json:"broker_id,omitempty"`
	Rejected  bool   `json:"rejected,omitempty"`
	Ambiguous bool   `json:"ambiguous,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// OrderTerminalPayload reports an order reaching a terminal state.
type OrderTerminalPayload struct {
	SignalID string `json:"signal_id"`
	OrderID  string `json:"order_id"`
	State    string `json:"state"`
}

// LateAckPayload flags a broker ack that arrived after the pipeline gave
// up on the signal. Recorded for operator reconciliation, never merged.
type LateAckPayload struct {
	SignalID string `json:"signal_id"`
	BrokerID string `json:"broker_id"`
	Note     string `json:"note,omitempty"`
}
