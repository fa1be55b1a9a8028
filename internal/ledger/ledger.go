package ledger

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/herambskanda/teletrade/internal/logger"
)

// Position is the signed exposure held for one symbol.
type Position struct {
	Quantity decimal.Decimal // positive long, negative short
	AvgPrice decimal.Decimal
}

// cell holds the mutable per-symbol state. Each cell has its own lock so
// fills on unrelated symbols never contend.
type cell struct {
	mu       sync.Mutex
	pos      Position
	realized decimal.Decimal
}

// Ledger is the process-wide risk aggregate: per-symbol positions, the
// daily realized P&L accumulator, the drawdown watermark and the
// kill-switch. It is the single source of truth consulted by validation.
//
// Locking: cells serialize per symbol; mu guards the cell map and the day
// aggregates; the kill-switch is a lone atomic flag so the emergency stop
// never waits on pipeline load.
type Ledger struct {
	mu         sync.RWMutex
	cells      map[string]*cell
	dayPnL     decimal.Decimal
	baseEquity decimal.Decimal
	equityPeak decimal.Decimal
	drawdown   decimal.Decimal // worst observed fraction, monotone
	day        time.Time
	nowFn      func() time.Time // test clock; nil means time.Now

	killSwitch atomic.Bool
}

func New(baseEquity decimal.Decimal) *Ledger {
	return &Ledger{
		cells:      make(map[string]*cell),
		baseEquity: baseEquity,
		equityPeak: baseEquity,
		day:        time.Now().UTC().Truncate(24 * time.Hour),
	}
}

func (l *Ledger) getCell(symbol string) *cell {
	symbol = normalize(symbol)
	l.mu.RLock()
	c, ok := l.cells[symbol]
	l.mu.RUnlock()
	if ok {
		return c
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok = l.cells[symbol]; ok {
		return c
	}
	c = &cell{}
	l.cells[symbol] = c
	return c
}

// Fill is one terminal execution outcome to fold into the ledger.
type Fill struct {
	Symbol   string
	Quantity decimal.Decimal // signed: buy positive, sell negative
	Price    decimal.Decimal
}

// ApplyFill folds exactly one fill into the symbol's cell and the day
// aggregates. Average-cost accounting: extending exposure moves the average
// price, reducing it realizes P&L against the average. Callers apply fills
// in terminal-state order; the cell lock makes the update linearizable per
// symbol.
func (l *Ledger) ApplyFill(f Fill) decimal.Decimal {
	c := l.getCell(f.Symbol)

	c.mu.Lock()
	oldQty := c.pos.Quantity
	newQty := oldQty.Add(f.Quantity)
	realizedDelta := decimal.Zero

	switch {
	case oldQty.IsZero() || oldQty.Sign() == f.Quantity.Sign():
		// opening or extending: re-average the entry price
		oldNotional := oldQty.Mul(c.pos.AvgPrice)
		addNotional := f.Quantity.Mul(f.Price)
		c.pos.AvgPrice = safeDiv(oldNotional.Add(addNotional), newQty)
	case newQty.IsZero() || newQty.Sign() == oldQty.Sign():
		// reducing (possibly to flat): realize on the closed quantity
		closed := f.Quantity.Neg()
		realizedDelta = closed.Mul(f.Price.Sub(c.pos.AvgPrice))
		if newQty.IsZero() {
			c.pos.AvgPrice = decimal.Zero
		}
	default:
		// flipping through zero: realize the whole old position, open the rest
		realizedDelta = oldQty.Mul(f.Price.Sub(c.pos.AvgPrice))
		c.pos.AvgPrice = f.Price
	}
	c.pos.Quantity = newQty
	c.realized = c.realized.Add(realizedDelta)
	c.mu.Unlock()

	l.mu.Lock()
	l.rollDayLocked()
	l.dayPnL = l.dayPnL.Add(realizedDelta)
	equity := l.baseEquity.Add(l.dayPnL)
	if equity.GreaterThan(l.equityPeak) {
		l.equityPeak = equity
	}
	if l.equityPeak.IsPositive() {
		dd := l.equityPeak.Sub(equity).Div(l.equityPeak)
		if dd.GreaterThan(l.drawdown) {
			l.drawdown = dd
		}
	}
	l.mu.Unlock()

	if !realizedDelta.IsZero() {
		logger.Debugf("ledger: %s realized %s on fill qty=%s @%s",
			normalize(f.Symbol), realizedDelta.StringFixed(2), f.Quantity.String(), f.Price.String())
	}
	return realizedDelta
}

// SetPosition seeds a symbol cell, used when rehydrating from the store.
func (l *Ledger) SetPosition(symbol string, pos Position) {
	c := l.getCell(symbol)
	c.mu.Lock()
	c.pos = pos
	c.mu.Unlock()
}

func (l *Ledger) now() time.Time {
	if l.nowFn != nil {
		return l.nowFn()
	}
	return time.Now()
}

// rollDayLocked clears the daily counters once the UTC date advances past
// the tracked day. Positions, the equity peak and the drawdown watermark
// carry across days. Caller holds l.mu.
func (l *Ledger) rollDayLocked() {
	today := l.now().UTC().Truncate(24 * time.Hour)
	if !today.After(l.day) {
		return
	}
	l.dayPnL = decimal.Zero
	l.day = today
	logger.Infof("ledger: daily counters rolled over to %s", today.Format("2006-01-02"))
}

// rollDay is the lock-acquiring form used on read paths. The fast path
// stays on the read lock.
func (l *Ledger) rollDay() {
	l.mu.RLock()
	stale := l.now().UTC().Truncate(24 * time.Hour).After(l.day)
	l.mu.RUnlock()
	if !stale {
		return
	}
	l.mu.Lock()
	l.rollDayLocked()
	l.mu.Unlock()
}

// ResetDay clears the daily counters. Positions are never implicitly reset.
func (l *Ledger) ResetDay(now time.Time) {
	l.mu.Lock()
	l.dayPnL = decimal.Zero
	l.day = now.UTC().Truncate(24 * time.Hour)
	l.mu.Unlock()
	logger.Infof("ledger: daily counters reset for %s", l.day.Format("2006-01-02"))
}

// SetDailyPnL seeds the day accumulator on restart.
func (l *Ledger) SetDailyPnL(v decimal.Decimal) {
	l.mu.Lock()
	l.dayPnL = v
	l.mu.Unlock()
}

// EmergencyStop sets the kill-switch. Never auto-cleared.
func (l *Ledger) EmergencyStop() {
	if l.killSwitch.CompareAndSwap(false, true) {
		logger.Errorf("ledger: KILL SWITCH SET, all new signals will be rejected")
	}
}

// ClearEmergencyStop is the distinct privileged action that re-opens the gate.
func (l *Ledger) ClearEmergencyStop() {
	if l.killSwitch.CompareAndSwap(true, false) {
		logger.Warnf("ledger: kill switch cleared by operator")
	}
}

func (l *Ledger) Stopped() bool {
	return l.killSwitch.Load()
}

func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
