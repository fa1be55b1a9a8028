package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/herambskanda/teletrade/internal/account"
	"github.com/herambskanda/teletrade/internal/intent"
	"github.com/herambskanda/teletrade/internal/ledger"
)

// Limits are the tunable gates. They reload on config change, so reads go
// through the chain's copy taken per evaluation.
type Limits struct {
	ConfidenceFloor  float64
	MaxNotional      decimal.Decimal
	DailyLossLimit   decimal.Decimal
	DrawdownCeiling  decimal.Decimal // fraction, e.g. 0.10
	WorstCaseMovePct decimal.Decimal // conservative adverse move, e.g. 0.05
	AnomalyThreshold float64
	StalenessMax     time.Duration
}

// Chain runs the fixed, documented check order against a candidate intent
// and a ledger snapshot. Checks are pure given their inputs; the first
// failure short-circuits and is the authoritative reason. The returned
// slice holds every verdict actually evaluated, in order, for audit.
//
// Order (cheap first): kill_switch, market_window, confidence,
// position_size, daily_loss, drawdown, margin, anomaly.
type Chain struct {
	mu       sync.RWMutex
	limits   Limits
	calendar *Calendar
	account  account.Provider
	scorer   Scorer
}

func NewChain(limits Limits, cal *Calendar, acct account.Provider, scorer Scorer) *Chain {
	if cal == nil {
		cal = DefaultCalendar()
	}
	if scorer == nil {
		scorer = ConstScorer(0)
	}
	return &Chain{limits: limits, calendar: cal, account: acct, scorer: scorer}
}

// SetLimits swaps the gate values, used by the config hot-reload watcher.
func (c *Chain) SetLimits(l Limits) {
	c.mu.Lock()
	c.limits = l
	c.mu.Unlock()
}

func (c *Chain) Evaluate(ctx context.Context, it *intent.Intent, snap ledger.Snapshot) []Verdict {
	c.mu.RLock()
	lim := c.limits
	c.mu.RUnlock()
	verdicts := make([]Verdict, 0, 8)

	run := func(v Verdict) bool {
		verdicts = append(verdicts, v)
		return v.Passed
	}

	if !run(c.checkKillSwitch(snap)) {
		return verdicts
	}
	if !run(c.checkMarketWindow(it)) {
		return verdicts
	}
	if !run(c.checkConfidence(it, lim)) {
		return verdicts
	}
	if !run(c.checkPositionSize(it, snap, lim)) {
		return verdicts
	}
	if !run(c.checkDailyLoss(snap, lim)) {
		return verdicts
	}
	if !run(c.checkDrawdown(it, snap, lim)) {
		return verdicts
	}
	if !run(c.checkMargin(ctx, it, lim)) {
		return verdicts
	}
	run(c.checkAnomaly(ctx, it, lim))
	return verdicts
}

func (c *Chain) checkKillSwitch(snap ledger.Snapshot) Verdict {
	if snap.KillSwitch {
		return reject(CodeKillSwitch, "kill switch is set")
	}
	return pass(CodeKillSwitch)
}

func (c *Chain) checkMarketWindow(it *intent.Intent) Verdict {
	if !c.calendar.InSession(it.ArrivedAt) {
		return reject(CodeMarketWindow, fmt.Sprintf("outside trading session at %s", it.ArrivedAt.Format(time.RFC3339)))
	}
	return pass(CodeMarketWindow)
}

func (c *Chain) checkConfidence(it *intent.Intent, lim Limits) Verdict {
	if it.Confidence < lim.ConfidenceFloor {
		return reject(CodeConfidence, fmt.Sprintf("confidence %.2f below floor %.2f", it.Confidence, lim.ConfidenceFloor))
	}
	return pass(CodeConfidence)
}

func (c *Chain) checkPositionSize(it *intent.Intent, snap ledger.Snapshot, lim Limits) Verdict {
	if !it.IsEntry() || lim.MaxNotional.IsZero() {
		return pass(CodePositionSize)
	}
	add, ok := referenceNotional(it, snap)
	if !ok {
		// market intent with no price reference at all; margin check still gates
		return pass(CodePositionSize)
	}
	resulting := snap.Exposure(it.Symbol).Add(add)
	if resulting.GreaterThan(lim.MaxNotional) {
		return reject(CodePositionSize, fmt.Sprintf("resulting exposure %s exceeds max notional %s",
			resulting.StringFixed(2), lim.MaxNotional.StringFixed(2)))
	}
	return pass(CodePositionSize)
}

func (c *Chain) checkDailyLoss(snap ledger.Snapshot, lim Limits) Verdict {
	if lim.DailyLossLimit.IsZero() {
		return pass(CodeDailyLoss)
	}
	loss := snap.DayPnL.Neg()
	if loss.GreaterThanOrEqual(lim.DailyLossLimit) {
		return reject(CodeDailyLoss, fmt.Sprintf("daily loss %s at or over limit %s",
			loss.StringFixed(2), lim.DailyLossLimit.StringFixed(2)))
	}
	return pass(CodeDailyLoss)
}

// checkDrawdown projects the watermark with a conservative worst-case move
// against the new exposure; fills are unknown at validation time so actual
// prices never enter here.
func (c *Chain) checkDrawdown(it *intent.Intent, snap ledger.Snapshot, lim Limits) Verdict {
	if !it.IsEntry() || lim.DrawdownCeiling.IsZero() || !snap.EquityPeak.IsPositive() {
		return pass(CodeDrawdown)
	}
	add, ok := referenceNotional(it, snap)
	if !ok {
		return pass(CodeDrawdown)
	}
	worstLoss := add.Mul(lim.WorstCaseMovePct)
	equity := snap.BaseEquity.Add(snap.DayPnL).Sub(worstLoss)
	projected := snap.EquityPeak.Sub(equity).Div(snap.EquityPeak)
	if projected.LessThan(snap.MaxDrawdown) {
		projected = snap.MaxDrawdown
	}
	if projected.GreaterThan(lim.DrawdownCeiling) {
		return reject(CodeDrawdown, fmt.Sprintf("projected drawdown %s exceeds ceiling %s",
			projected.StringFixed(4), lim.DrawdownCeiling.StringFixed(4)))
	}
	return pass(CodeDrawdown)
}

func (c *Chain) checkMargin(ctx context.Context, it *intent.Intent, lim Limits) Verdict {
	if !it.IsEntry() || c.account == nil {
		return pass(CodeMargin)
	}
	state, err := c.account.State(ctx)
	if err != nil {
		return reject(CodeMargin, fmt.Sprintf("account snapshot unavailable: %v", err))
	}
	if lim.StalenessMax > 0 && state.Age(time.Now()) > lim.StalenessMax {
		return reject(CodeMargin, fmt.Sprintf("account snapshot stale by %s", state.Age(time.Now())))
	}
	required := it.Notional()
	if required.IsZero() {
		required = it.Quantity // minimal floor for market orders with no price reference
	}
	if state.AvailableMargin.LessThan(required) {
		return reject(CodeMargin, fmt.Sprintf("available margin %s below required %s",
			state.AvailableMargin.StringFixed(2), required.StringFixed(2)))
	}
	return pass(CodeMargin)
}

func (c *Chain) checkAnomaly(ctx context.Context, it *intent.Intent, lim Limits) Verdict {
	if lim.AnomalyThreshold <= 0 {
		return pass(CodeAnomaly)
	}
	score, err := c.scorer.Score(ctx, it.NormalizedSymbol())
	if err != nil {
		return reject(CodeAnomaly, fmt.Sprintf("anomaly score unavailable: %v", err))
	}
	if score > lim.AnomalyThreshold {
		return reject(CodeAnomaly, fmt.Sprintf("anomaly score %.3f above threshold %.3f", score, lim.AnomalyThreshold))
	}
	return pass(CodeAnomaly)
}

// referenceNotional derives the notional used by size/drawdown checks:
// intent price fields first, falling back to the held average price.
func referenceNotional(it *intent.Intent, snap ledger.Snapshot) (decimal.Decimal, bool) {
	if n := it.Notional(); n.IsPositive() {
		return n, true
	}
	pos := snap.Position(it.Symbol)
	if pos.AvgPrice.IsPositive() {
		return it.Quantity.Mul(pos.AvgPrice), true
	}
	return decimal.Zero, false
}
