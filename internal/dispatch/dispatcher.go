package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/herambskanda/teletrade/internal/audit"
	"github.com/herambskanda/teletrade/internal/broker"
	"github.com/herambskanda/teletrade/internal/intent"
	"github.com/herambskanda/teletrade/internal/ledger"
	"github.com/herambskanda/teletrade/internal/logger"
	"github.com/herambskanda/teletrade/internal/store"
)

// RetryPolicy bounds transport-failure retries. The same idempotency key is
// reused on every attempt, so exhausting retries leaves at most one order
// upstream; the ambiguous outcome records that we do not know which.
type RetryPolicy struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	AttemptTimeout time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = 200 * time.Millisecond
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = 5 * time.Second
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = 10 * time.Second
	}
	return p
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BackoffBase << uint(attempt)
	if d > p.BackoffCap {
		d = p.BackoffCap
	}
	return d
}

// Outcome reports one dispatch attempt sequence back to the pipeline.
type Outcome struct {
	Order     *OrderView
	Rejected  bool   // broker explicitly refused; terminal, recorded
	Reason    string // rejection reason when Rejected
	Ambiguous bool   // transport retries exhausted; order may or may not exist
	Err       error
}

// Dispatcher turns approved signals into at-most-one broker action each and
// reconciles execution reports back into the risk ledger.
type Dispatcher struct {
	broker broker.Client
	trail  audit.Trail
	store  *store.Store
	ledger *ledger.Ledger
	retry  RetryPolicy

	mu     sync.Mutex
	orders map[string]*Order // by order ID
	byKey  map[string]string // idempotency key -> order ID
}

func New(client broker.Client, trail audit.Trail, st *store.Store, led *ledger.Ledger, retry RetryPolicy) *Dispatcher {
	return &Dispatcher{
		broker: client,
		trail:  trail,
		store:  st,
		ledger: led,
		retry:  retry.withDefaults(),
		orders: make(map[string]*Order),
		byKey:  make(map[string]string),
	}
}

// IdempotencyKey derives the broker-facing key from the signal fingerprint.
// Retries of the same signal always produce the same key.
func IdempotencyKey(fingerprint string) string {
	if len(fingerprint) > 24 {
		fingerprint = fingerprint[:24]
	}
	return "ord-" + fingerprint
}

// Dispatch places the action for an approved signal. Transport failures
// retry with bounded exponential backoff and the same idempotency key;
// broker rejections are terminal and recorded without retry.
func (d *Dispatcher) Dispatch(ctx context.Context, signalID, fingerprint string, it *intent.Intent) Outcome {
	key := IdempotencyKey(fingerprint)
	req := requestFromIntent(it)

	// A replayed dispatch for a known key returns the original order.
	if existing := d.orderByKey(key); existing != nil {
		existing.mu.Lock()
		view := existing.snapshotLocked()
		existing.mu.Unlock()
		logger.Warnf("dispatch: key %s already has order %s, not placing again", key, view.ID)
		return Outcome{Order: &view}
	}

	var lastErr error
	for attempt := 0; attempt < d.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.retry.delay(attempt - 1)):
			case <-ctx.Done():
				return Outcome{Ambiguous: true, Err: ctx.Err()}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, d.retry.AttemptTimeout)
		ack, err := d.broker.Execute(callCtx, key, req)
		cancel()

		switch {
		case err == nil:
			order := d.registerOrder(ctx, signalID, key, req, ack)
			order.mu.Lock()
			view := order.snapshotLocked()
			order.mu.Unlock()
			return Outcome{Order: &view}

		case broker.IsTransport(err):
			lastErr = err
			logger.Warnf("dispatch: transport failure for signal %s attempt %d/%d: %v",
				signalID, attempt+1, d.retry.MaxAttempts, err)
			continue

		default:
			reason, _ := broker.IsRejected(err)
			if reason == "" {
				reason = err.Error()
			}
			d.recordRejection(ctx, signalID, key, req, reason)
			return Outcome{Rejected: true, Reason: reason, Err: err}
		}
	}

	logger.Errorf("dispatch: retries exhausted for signal %s key %s, order existence unknown", signalID, key)
	return Outcome{Ambiguous: true, Err: lastErr}
}

// registerOrder creates the placed order, persists it and audits the
// placement before returning control to the pipeline.
func (d *Dispatcher) registerOrder(ctx context.Context, signalID, key string, req broker.Request, ack *broker.Ack) *Order {
	order := &Order{
		ID:             uuid.NewString(),
		SignalID:       signalID,
		IdempotencyKey: key,
		BrokerID:       ack.BrokerID,
		Request:        req,
		State:          OrderPlaced,
		PlacedAt:       ack.PlacedAt,
		UpdatedAt:      ack.PlacedAt,
	}
	d.mu.Lock()
	d.orders[order.ID] = order
	d.byKey[key] = order.ID
	d.mu.Unlock()

	d.persist(ctx, order)
	d.audit(ctx, audit.Event{
		SignalID: signalID,
		OrderID:  order.ID,
		Kind:     audit.KindOrder,
		To:       string(OrderPlaced),
		Reason:   "broker accepted, id " + ack.BrokerID,
	})
	return order
}

func (d *Dispatcher) recordRejection(ctx context.Context, signalID, key string, req broker.Request, reason string) {
	order := &Order{
		ID:             uuid.NewString(),
		SignalID:       signalID,
		IdempotencyKey: key,
		Request:        req,
		State:          OrderRejectedByBroker,
		Reason:         reason,
		UpdatedAt:      time.Now(),
		ledgerApplied:  true, // nothing executed, nothing to fold in
	}
	d.mu.Lock()
	d.orders[order.ID] = order
	d.byKey[key] = order.ID
	d.mu.Unlock()

	d.persist(ctx, order)
	d.audit(ctx, audit.Event{
		SignalID: signalID,
		OrderID:  order.ID,
		Kind:     audit.KindOrder,
		To:       string(OrderRejectedByBroker),
		Code:     "broker_rejected",
		Reason:   reason,
	})
}

// ExecutionReport is one fill/cancel notification from the execution back
// end (webhook, user stream or paper broker).
type ExecutionReport struct {
	OrderID   string
	State     OrderState
	FilledQty decimal.Decimal
	FillPrice decimal.Decimal
}

// ApplyExecution folds a report into the order state machine. The ledger
// update happens exactly once, under the order lock and atomically with the
// terminal transition; per-symbol serialization inside the ledger then
// guarantees fills apply in terminal-state order.
func (d *Dispatcher) ApplyExecution(ctx context.Context, rep ExecutionReport) error {
	d.mu.Lock()
	order, ok := d.orders[rep.OrderID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("execution report for unknown order %s", rep.OrderID)
	}

	order.mu.Lock()
	terminal, err := order.transition(rep.State)
	if err != nil {
		order.mu.Unlock()
		return err
	}
	if rep.FilledQty.IsPositive() {
		order.FilledQty = rep.FilledQty
		order.AvgFillPrice = rep.FillPrice
	}
	applyLedger := terminal && !order.ledgerApplied && order.FilledQty.IsPositive()
	if applyLedger {
		order.ledgerApplied = true
		d.ledger.ApplyFill(ledger.Fill{
			Symbol:   order.Request.Symbol,
			Quantity: signedQty(order.Request.Side, order.FilledQty),
			Price:    order.AvgFillPrice,
		})
	}
	view := order.snapshotLocked()
	order.mu.Unlock()

	d.persist(ctx, order)
	d.audit(ctx, audit.Event{
		SignalID: view.SignalID,
		OrderID:  view.ID,
		Kind:     audit.KindOrder,
		To:       string(rep.State),
		Reason:   fmt.Sprintf("filled %s @ %s", view.FilledQty.String(), view.AvgFillPrice.String()),
	})
	return nil
}

// Order returns a copy of the tracked order, if known.
func (d *Dispatcher) Order(id string) (OrderView, bool) {
	d.mu.Lock()
	order, ok := d.orders[id]
	d.mu.Unlock()
	if !ok {
		return OrderView{}, false
	}
	order.mu.Lock()
	defer order.mu.Unlock()
	return order.snapshotLocked(), true
}

func (d *Dispatcher) persist(ctx context.Context, order *Order) {
	if d.store == nil {
		return
	}
	order.mu.Lock()
	reqJSON, _ := json.Marshal(order.Request)
	row := &store.OrderModel{
		ID:             order.ID,
		SignalID:       order.SignalID,
		IdempotencyKey: order.IdempotencyKey,
		BrokerID:       order.BrokerID,
		Symbol:         order.Request.Symbol,
		Side:           order.Request.Side,
		State:          string(order.State),
		Reason:         order.Reason,
		Request:        reqJSON,
		FilledQty:      order.FilledQty.String(),
		FillPrice:      order.AvgFillPrice.String(),
	}
	order.mu.Unlock()
	if err := d.store.SaveOrder(ctx, row); err != nil {
		logger.Errorf("dispatch: persisting order %s failed: %v", order.ID, err)
	}
}

func (d *Dispatcher) audit(ctx context.Context, evt audit.Event) {
	if d.trail == nil {
		return
	}
	if err := d.trail.Record(ctx, evt); err != nil {
		logger.Errorf("dispatch: audit record failed: %v", err)
	}
}

func (d *Dispatcher) orderByKey(key string) *Order {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byKey[key]; ok {
		return d.orders[id]
	}
	return nil
}

func requestFromIntent(it *intent.Intent) broker.Request {
	return broker.Request{
		Symbol:      it.NormalizedSymbol(),
		Side:        string(it.Side),
		Kind:        string(it.Kind),
		Quantity:    it.Quantity,
		Price:       it.Price,
		Trigger:     it.Trigger,
		RefBrokerID: it.RefOrderID,
	}
}

func signedQty(side string, qty decimal.Decimal) decimal.Decimal {
	if side == string(intent.SideSell) || side == string(intent.SideExit) {
		return qty.Neg()
	}
	return qty
}
