package ledger

import "github.com/shopspring/decimal"

// Snapshot is the immutable view the validation chain reads. Taking one
// never blocks fills for more than the cost of copying the cell map.
type Snapshot struct {
	Positions   map[string]Position
	DayPnL      decimal.Decimal
	BaseEquity  decimal.Decimal
	EquityPeak  decimal.Decimal
	MaxDrawdown decimal.Decimal
	KillSwitch  bool
}

// Snapshot copies the current ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.rollDay()
	l.mu.RLock()
	snap := Snapshot{
		Positions:   make(map[string]Position, len(l.cells)),
		DayPnL:      l.dayPnL,
		BaseEquity:  l.baseEquity,
		EquityPeak:  l.equityPeak,
		MaxDrawdown: l.drawdown,
		KillSwitch:  l.killSwitch.Load(),
	}
	cells := make(map[string]*cell, len(l.cells))
	for sym, c := range l.cells {
		cells[sym] = c
	}
	l.mu.RUnlock()

	for sym, c := range cells {
		c.mu.Lock()
		if !c.pos.Quantity.IsZero() {
			snap.Positions[sym] = c.pos
		}
		c.mu.Unlock()
	}
	return snap
}

// Exposure returns the absolute notional held for symbol in the snapshot.
func (s Snapshot) Exposure(symbol string) decimal.Decimal {
	pos, ok := s.Positions[normalize(symbol)]
	if !ok {
		return decimal.Zero
	}
	return pos.Quantity.Abs().Mul(pos.AvgPrice)
}

// Position returns the signed position for symbol, zero-valued if flat.
func (s Snapshot) Position(symbol string) Position {
	return s.Positions[normalize(symbol)]
}
