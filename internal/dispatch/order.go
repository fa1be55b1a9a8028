package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/herambskanda/teletrade/internal/broker"
)

// OrderState is the lifecycle of one physical broker action. Transitions
// are one-directional; modify/exit arrive as new intents, never as
// transitions on an existing order.
type OrderState string

const (
	OrderPlaced           OrderState = "placed"
	OrderPartiallyFilled  OrderState = "partially_filled"
	OrderFilled           OrderState = "filled"
	OrderRejectedByBroker OrderState = "rejected_by_broker"
	OrderCancelled        OrderState = "cancelled"
)

// Terminal reports whether the state ends the order lifecycle.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderRejectedByBroker, OrderCancelled:
		return true
	}
	return false
}

var orderTransitions = map[OrderState][]OrderState{
	OrderPlaced:          {OrderPartiallyFilled, OrderFilled, OrderRejectedByBroker, OrderCancelled},
	OrderPartiallyFilled: {OrderPartiallyFilled, OrderFilled, OrderCancelled},
}

func (s OrderState) canTransition(to OrderState) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Order tracks one dispatched action. The idempotency key is stable across
// retries, so the broker sees at most one order per key.
type Order struct {
	mu sync.Mutex

	ID             string
	SignalID       string
	IdempotencyKey string
	BrokerID       string
	Request        broker.Request
	State          OrderState
	Reason         string
	FilledQty      decimal.Decimal
	AvgFillPrice   decimal.Decimal
	PlacedAt       time.Time
	UpdatedAt      time.Time

	ledgerApplied bool
}

// transition moves the order forward, rejecting anything the state machine
// does not allow. Returns whether this call crossed into a terminal state.
func (o *Order) transition(to OrderState) (bool, error) {
	if o.State == to && to == OrderPartiallyFilled {
		return false, nil
	}
	if !o.State.canTransition(to) {
		return false, fmt.Errorf("order %s: illegal transition %s -> %s", o.ID, o.State, to)
	}
	o.State = to
	o.UpdatedAt = time.Now()
	return to.Terminal(), nil
}

// snapshotLocked copies the fields the store row needs. Callers hold o.mu.
func (o *Order) snapshotLocked() OrderView {
	return OrderView{
		ID:             o.ID,
		SignalID:       o.SignalID,
		IdempotencyKey: o.IdempotencyKey,
		BrokerID:       o.BrokerID,
		Request:        o.Request,
		State:          o.State,
		Reason:         o.Reason,
		FilledQty:      o.FilledQty,
		AvgFillPrice:   o.AvgFillPrice,
	}
}

// OrderView is the immutable copy handed to observers.
type OrderView struct {
	ID             string
	SignalID       string
	IdempotencyKey string
	BrokerID       string
	Request        broker.Request
	State          OrderState
	Reason         string
	FilledQty      decimal.Decimal
	AvgFillPrice   decimal.Decimal
}
