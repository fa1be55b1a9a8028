package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestApplyFillAveraging(t *testing.T) {
	l := New(dec(100000))

	l.ApplyFill(Fill{Symbol: "TCS", Quantity: dec(10), Price: dec(100)})
	l.ApplyFill(Fill{Symbol: "TCS", Quantity: dec(10), Price: dec(110)})

	pos := l.Snapshot().Position("TCS")
	assert.True(t, pos.Quantity.Equal(dec(20)), "qty %s", pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(dec(105)), "avg %s", pos.AvgPrice)
}

func TestApplyFillRealizesOnReduce(t *testing.T) {
	l := New(dec(100000))
	l.ApplyFill(Fill{Symbol: "TCS", Quantity: dec(10), Price: dec(100)})

	realized := l.ApplyFill(Fill{Symbol: "TCS", Quantity: dec(-4), Price: dec(110)})
	assert.True(t, realized.Equal(dec(40)), "realized %s", realized)

	snap := l.Snapshot()
	assert.True(t, snap.DayPnL.Equal(dec(40)))
	assert.True(t, snap.Position("TCS").Quantity.Equal(dec(6)))
	assert.True(t, snap.Position("TCS").AvgPrice.Equal(dec(100)))
}

func TestApplyFillFlipThroughZero(t *testing.T) {
	l := New(dec(100000))
	l.ApplyFill(Fill{Symbol: "INFY", Quantity: dec(10), Price: dec(100)})

	realized := l.ApplyFill(Fill{Symbol: "INFY", Quantity: dec(-15), Price: dec(90)})
	assert.True(t, realized.Equal(dec(-100)), "realized %s", realized)

	pos := l.Snapshot().Position("INFY")
	assert.True(t, pos.Quantity.Equal(dec(-5)))
	assert.True(t, pos.AvgPrice.Equal(dec(90)))
}

func TestDrawdownWatermarkMonotone(t *testing.T) {
	l := New(dec(1000))
	l.ApplyFill(Fill{Symbol: "A", Quantity: dec(1), Price: dec(100)})
	l.ApplyFill(Fill{Symbol: "A", Quantity: dec(-1), Price: dec(50)}) // -50

	dd := l.Snapshot().MaxDrawdown
	assert.True(t, dd.Equal(dec(0.05)), "drawdown %s", dd)

	// recovery must not shrink the watermark
	l.ApplyFill(Fill{Symbol: "A", Quantity: dec(1), Price: dec(100)})
	l.ApplyFill(Fill{Symbol: "A", Quantity: dec(-1), Price: dec(200)}) // +100
	assert.True(t, l.Snapshot().MaxDrawdown.Equal(dec(0.05)))
}

func TestResetDayKeepsPositions(t *testing.T) {
	l := New(dec(1000))
	l.ApplyFill(Fill{Symbol: "A", Quantity: dec(5), Price: dec(10)})
	l.ApplyFill(Fill{Symbol: "A", Quantity: dec(-1), Price: dec(12)})
	require.False(t, l.Snapshot().DayPnL.IsZero())

	l.ResetDay(time.Now())
	snap := l.Snapshot()
	assert.True(t, snap.DayPnL.IsZero())
	assert.True(t, snap.Position("A").Quantity.Equal(dec(4)))
}

func TestDayRollsOverAtMidnight(t *testing.T) {
	l := New(dec(1_000_000))
	l.SetDailyPnL(dec(-5000))
	require.True(t, l.Snapshot().DayPnL.Equal(dec(-5000)))

	l.nowFn = func() time.Time { return time.Now().Add(24 * time.Hour) }

	// yesterday's loss must not gate today's signals
	snap := l.Snapshot()
	assert.True(t, snap.DayPnL.IsZero(), "day pnl %s", snap.DayPnL)
}

func TestApplyFillRollsDayBeforeAccumulating(t *testing.T) {
	l := New(dec(1_000_000))
	l.ApplyFill(Fill{Symbol: "A", Quantity: dec(10), Price: dec(100)})
	l.SetDailyPnL(dec(-5000))

	l.nowFn = func() time.Time { return time.Now().Add(24 * time.Hour) }
	l.ApplyFill(Fill{Symbol: "A", Quantity: dec(-10), Price: dec(110)}) // +100

	snap := l.Snapshot()
	assert.True(t, snap.DayPnL.Equal(dec(100)), "day pnl %s", snap.DayPnL)
	assert.True(t, snap.Position("A").Quantity.IsZero())
}

func TestKillSwitch(t *testing.T) {
	l := New(dec(1000))
	assert.False(t, l.Stopped())

	l.EmergencyStop()
	assert.True(t, l.Stopped())
	assert.True(t, l.Snapshot().KillSwitch)

	// never auto-clears
	l.EmergencyStop()
	assert.True(t, l.Stopped())

	l.ClearEmergencyStop()
	assert.False(t, l.Stopped())
}

func TestConcurrentFillsDistinctSymbols(t *testing.T) {
	l := New(dec(1000000))
	symbols := []string{"A", "B", "C", "D"}

	var wg sync.WaitGroup
	for _, sym := range symbols {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(sym string) {
				defer wg.Done()
				l.ApplyFill(Fill{Symbol: sym, Quantity: dec(1), Price: dec(10)})
			}(sym)
		}
	}
	wg.Wait()

	snap := l.Snapshot()
	for _, sym := range symbols {
		assert.True(t, snap.Position(sym).Quantity.Equal(dec(50)), "symbol %s", sym)
	}
}
