package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herambskanda/teletrade/internal/audit"
	"github.com/herambskanda/teletrade/internal/broker"
	"github.com/herambskanda/teletrade/internal/intent"
	"github.com/herambskanda/teletrade/internal/ledger"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		BackoffBase:    time.Millisecond,
		BackoffCap:     5 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func buyIntent(sym string, qty, price float64) *intent.Intent {
	return &intent.Intent{
		Symbol:        sym,
		Side:          intent.SideBuy,
		Kind:          intent.KindLimit,
		Quantity:      dec(qty),
		Price:         dec(price),
		SourceChannel: "chan-1",
		Confidence:    0.9,
		ArrivedAt:     time.Now(),
	}
}

const fpA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const fpB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func TestDispatchPlacesOnce(t *testing.T) {
	paper := broker.NewPaper()
	led := ledger.New(dec(100000))
	d := New(paper, audit.NewMemoryTrail(), nil, led, fastRetry(3))

	out := d.Dispatch(context.Background(), "sig-1", fpA, buyIntent("X", 10, 100))
	require.NoError(t, out.Err)
	require.NotNil(t, out.Order)
	assert.Equal(t, OrderPlaced, out.Order.State)
	assert.NotEmpty(t, out.Order.BrokerID)
	assert.Equal(t, 1, paper.Placed())

	// replay with the same fingerprint returns the original order
	out2 := d.Dispatch(context.Background(), "sig-1", fpA, buyIntent("X", 10, 100))
	require.NotNil(t, out2.Order)
	assert.Equal(t, out.Order.ID, out2.Order.ID)
	assert.Equal(t, 1, paper.Placed())
}

func TestDispatchRetriesTransportWithSameKey(t *testing.T) {
	paper := broker.NewPaper()
	paper.FailFirst = 2
	d := New(paper, audit.NewMemoryTrail(), nil, ledger.New(dec(100000)), fastRetry(3))

	out := d.Dispatch(context.Background(), "sig-1", fpA, buyIntent("X", 10, 100))
	require.NotNil(t, out.Order)
	assert.Equal(t, 1, paper.Placed())
	assert.Equal(t, 3, paper.Attempts(IdempotencyKey(fpA)))
}

func TestDispatchExhaustsRetriesAmbiguously(t *testing.T) {
	paper := broker.NewPaper()
	paper.FailFirst = 99
	d := New(paper, audit.NewMemoryTrail(), nil, ledger.New(dec(100000)), fastRetry(3))

	out := d.Dispatch(context.Background(), "sig-1", fpA, buyIntent("X", 10, 100))
	assert.True(t, out.Ambiguous)
	assert.Nil(t, out.Order)
	assert.Error(t, out.Err)
	assert.Equal(t, 0, paper.Placed())
	assert.Equal(t, 3, paper.Attempts(IdempotencyKey(fpA)))
}

func TestDispatchBrokerRejectionIsTerminal(t *testing.T) {
	paper := broker.NewPaper()
	paper.RejectAll = "insufficient funds"
	trail := audit.NewMemoryTrail()
	d := New(paper, trail, nil, ledger.New(dec(100000)), fastRetry(3))

	out := d.Dispatch(context.Background(), "sig-1", fpA, buyIntent("X", 10, 100))
	assert.True(t, out.Rejected)
	assert.Equal(t, "insufficient funds", out.Reason)
	// no retry on rejection
	assert.Equal(t, 1, paper.Attempts(IdempotencyKey(fpA)))

	events := trail.All()
	require.NotEmpty(t, events)
	assert.Equal(t, string(OrderRejectedByBroker), events[len(events)-1].To)
}

func TestApplyExecutionLedgerOnce(t *testing.T) {
	paper := broker.NewPaper()
	led := ledger.New(dec(100000))
	d := New(paper, audit.NewMemoryTrail(), nil, led, fastRetry(3))

	out := d.Dispatch(context.Background(), "sig-1", fpA, buyIntent("X", 10, 100))
	require.NotNil(t, out.Order)

	require.NoError(t, d.ApplyExecution(context.Background(), ExecutionReport{
		OrderID: out.Order.ID, State: OrderPartiallyFilled, FilledQty: dec(5), FillPrice: dec(100),
	}))
	assert.True(t, led.Snapshot().Position("X").Quantity.IsZero(), "partial fill must not touch the ledger")

	require.NoError(t, d.ApplyExecution(context.Background(), ExecutionReport{
		OrderID: out.Order.ID, State: OrderFilled, FilledQty: dec(10), FillPrice: dec(100),
	}))
	assert.True(t, led.Snapshot().Position("X").Quantity.Equal(dec(10)))

	// terminal states never transition again
	err := d.ApplyExecution(context.Background(), ExecutionReport{
		OrderID: out.Order.ID, State: OrderFilled, FilledQty: dec(10), FillPrice: dec(100),
	})
	assert.Error(t, err)
	assert.True(t, led.Snapshot().Position("X").Quantity.Equal(dec(10)))
}

// Ledger updates follow terminal-state order, not submission order: the
// second-submitted order fills first and its fill is applied first.
func TestLedgerReflectsFillOrderNotSubmissionOrder(t *testing.T) {
	paper := broker.NewPaper()
	led := ledger.New(dec(100000))
	led.SetPosition("X", ledger.Position{Quantity: dec(5), AvgPrice: dec(100)})
	d := New(paper, audit.NewMemoryTrail(), nil, led, fastRetry(3))

	sellIt := buyIntent("X", 10, 110)
	sellIt.Side = intent.SideSell
	first := d.Dispatch(context.Background(), "sig-first", fpA, sellIt)
	require.NotNil(t, first.Order)

	second := d.Dispatch(context.Background(), "sig-second", fpB, buyIntent("X", 3, 120))
	require.NotNil(t, second.Order)

	// fills arrive in reverse submission order
	require.NoError(t, d.ApplyExecution(context.Background(), ExecutionReport{
		OrderID: second.Order.ID, State: OrderFilled, FilledQty: dec(3), FillPrice: dec(120),
	}))
	require.NoError(t, d.ApplyExecution(context.Background(), ExecutionReport{
		OrderID: first.Order.ID, State: OrderFilled, FilledQty: dec(10), FillPrice: dec(110),
	}))

	snap := led.Snapshot()
	// buy-first accounting: long 8 @ 107.5, then flip on the 10-lot sell
	// realizes 8 * (110 - 107.5) = 20; submission order would realize 50.
	assert.True(t, snap.DayPnL.Equal(dec(20)), "day pnl %s", snap.DayPnL)
	assert.True(t, snap.Position("X").Quantity.Equal(dec(-2)))
}

func TestIdempotencyKeyStable(t *testing.T) {
	assert.Equal(t, IdempotencyKey(fpA), IdempotencyKey(fpA))
	assert.NotEqual(t, IdempotencyKey(fpA), IdempotencyKey(fpB))
}
