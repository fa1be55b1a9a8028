package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herambskanda/teletrade/internal/account"
	"github.com/herambskanda/teletrade/internal/intent"
	"github.com/herambskanda/teletrade/internal/ledger"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func testLimits() Limits {
	return Limits{
		ConfidenceFloor:  0.70,
		MaxNotional:      dec(100000),
		DailyLossLimit:   dec(5000),
		DrawdownCeiling:  dec(0.20),
		WorstCaseMovePct: dec(0.05),
		AnomalyThreshold: 0.8,
		StalenessMax:     time.Minute,
	}
}

func alwaysOpen() *Calendar {
	return &Calendar{AlwaysOpen: true}
}

func testChain() *Chain {
	return NewChain(testLimits(), alwaysOpen(),
		account.StaticProvider{Margin: dec(1000000)}, ConstScorer(0))
}

func buyIntent(conf float64) *intent.Intent {
	return &intent.Intent{
		Symbol:        "X",
		Side:          intent.SideBuy,
		Kind:          intent.KindLimit,
		Instrument:    intent.InstrumentEquity,
		Quantity:      decimal.NewFromInt(10),
		Price:         dec(100),
		SourceChannel: "chan-1",
		Confidence:    conf,
		ArrivedAt:     time.Now(),
	}
}

func emptySnap() ledger.Snapshot {
	return ledger.New(dec(100000)).Snapshot()
}

func TestEvaluateAllPass(t *testing.T) {
	verdicts := testChain().Evaluate(context.Background(), buyIntent(0.95), emptySnap())

	assert.Len(t, verdicts, 8)
	assert.True(t, Approved(verdicts))
	assert.Equal(t, CodeKillSwitch, verdicts[0].Code)
	assert.Equal(t, CodeAnomaly, verdicts[7].Code)
}

func TestEvaluateConfidenceFloor(t *testing.T) {
	verdicts := testChain().Evaluate(context.Background(), buyIntent(0.50), emptySnap())

	rej, ok := FirstRejection(verdicts)
	require.True(t, ok)
	assert.Equal(t, CodeConfidence, rej.Code)
	// short-circuit: kill_switch, market_window, confidence
	assert.Len(t, verdicts, 3)
}

func TestEvaluateKillSwitchShortCircuits(t *testing.T) {
	l := ledger.New(dec(100000))
	l.EmergencyStop()

	verdicts := testChain().Evaluate(context.Background(), buyIntent(0.95), l.Snapshot())

	require.Len(t, verdicts, 1)
	assert.Equal(t, CodeKillSwitch, verdicts[0].Code)
	assert.False(t, verdicts[0].Passed)
}

func TestEvaluatePositionSize(t *testing.T) {
	l := ledger.New(dec(1000000))
	l.ApplyFill(ledger.Fill{Symbol: "X", Quantity: dec(950), Price: dec(100)}) // 95k exposure

	it := buyIntent(0.95) // adds 1k, resulting 96k < 100k
	verdicts := testChain().Evaluate(context.Background(), it, l.Snapshot())
	assert.True(t, Approved(verdicts))

	it.Quantity = decimal.NewFromInt(100) // adds 10k, resulting 105k
	verdicts = testChain().Evaluate(context.Background(), it, l.Snapshot())
	rej, ok := FirstRejection(verdicts)
	require.True(t, ok)
	assert.Equal(t, CodePositionSize, rej.Code)
}

func TestEvaluateDailyLoss(t *testing.T) {
	l := ledger.New(dec(1000000))
	l.SetDailyPnL(dec(-5000))

	verdicts := testChain().Evaluate(context.Background(), buyIntent(0.95), l.Snapshot())
	rej, ok := FirstRejection(verdicts)
	require.True(t, ok)
	assert.Equal(t, CodeDailyLoss, rej.Code)
}

func TestEvaluateDrawdownProjection(t *testing.T) {
	ch := NewChain(Limits{
		ConfidenceFloor:  0.70,
		DrawdownCeiling:  dec(0.02),
		WorstCaseMovePct: dec(0.05),
	}, alwaysOpen(), account.StaticProvider{Margin: dec(1000000)}, ConstScorer(0))

	// 10 @ 100 = 1000 notional; worst case loss 50 on 1000 base equity -> 5% > 2%
	snap := ledger.New(dec(1000)).Snapshot()
	verdicts := ch.Evaluate(context.Background(), buyIntent(0.95), snap)

	rej, ok := FirstRejection(verdicts)
	require.True(t, ok)
	assert.Equal(t, CodeDrawdown, rej.Code)
}

func TestEvaluateMarginInsufficient(t *testing.T) {
	ch := NewChain(testLimits(), alwaysOpen(), account.StaticProvider{Margin: dec(500)}, ConstScorer(0))

	verdicts := ch.Evaluate(context.Background(), buyIntent(0.95), emptySnap())
	rej, ok := FirstRejection(verdicts)
	require.True(t, ok)
	assert.Equal(t, CodeMargin, rej.Code)
}

// staleProvider answers with a snapshot pinned in the past.
type staleProvider struct {
	age time.Duration
}

func (p staleProvider) State(context.Context) (account.State, error) {
	return account.State{
		AvailableMargin: dec(1_000_000),
		OpenPositions:   map[string]decimal.Decimal{},
		AsOf:            time.Now().Add(-p.age),
	}, nil
}

func TestEvaluateMarginStaleSnapshot(t *testing.T) {
	ch := NewChain(testLimits(), alwaysOpen(), staleProvider{age: 5 * time.Minute}, ConstScorer(0))

	verdicts := ch.Evaluate(context.Background(), buyIntent(0.95), emptySnap())
	rej, ok := FirstRejection(verdicts)
	require.True(t, ok)
	assert.Equal(t, CodeMargin, rej.Code)
	assert.Contains(t, rej.Reason, "stale")
}

func TestEvaluateAnomalyGate(t *testing.T) {
	ch := NewChain(testLimits(), alwaysOpen(), account.StaticProvider{Margin: dec(1000000)}, ConstScorer(0.95))

	verdicts := ch.Evaluate(context.Background(), buyIntent(0.95), emptySnap())
	rej, ok := FirstRejection(verdicts)
	require.True(t, ok)
	assert.Equal(t, CodeAnomaly, rej.Code)
	assert.Len(t, verdicts, 8)
}

func TestEvaluateMarketWindow(t *testing.T) {
	cal := DefaultCalendar()
	ch := NewChain(testLimits(), cal, account.StaticProvider{Margin: dec(1000000)}, ConstScorer(0))

	it := buyIntent(0.95)
	// Sunday, well outside the NSE session
	it.ArrivedAt = time.Date(2026, 8, 23, 11, 0, 0, 0, time.UTC)
	verdicts := ch.Evaluate(context.Background(), it, emptySnap())

	rej, ok := FirstRejection(verdicts)
	require.True(t, ok)
	assert.Equal(t, CodeMarketWindow, rej.Code)
}

func TestExitIntentsSkipExposureChecks(t *testing.T) {
	it := buyIntent(0.95)
	it.Side = intent.SideCancel
	it.RefOrderID = "ord-1"

	verdicts := testChain().Evaluate(context.Background(), it, emptySnap())
	assert.True(t, Approved(verdicts))
}
