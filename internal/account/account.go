package account

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/herambskanda/teletrade/internal/logger"
)

// State is the read-only account view consumed by the margin check.
type State struct {
	AvailableMargin decimal.Decimal
	OpenPositions   map[string]decimal.Decimal // symbol -> signed quantity
	AsOf            time.Time
}

// Age reports how stale the snapshot is.
func (s State) Age(now time.Time) time.Duration {
	if s.AsOf.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(s.AsOf)
}

// Provider fetches the external account snapshot. Implementations must
// honor the context deadline.
type Provider interface {
	State(ctx context.Context) (State, error)
}

// Cached wraps a Provider with a bounded-staleness cache. A snapshot older
// than the tolerance forces a refresh; a refresh failure surfaces the stale
// copy together with the error so callers decide, never the cache.
type Cached struct {
	upstream  Provider
	tolerance time.Duration
	timeout   time.Duration

	mu   sync.Mutex
	last State
}

func NewCached(upstream Provider, tolerance, timeout time.Duration) *Cached {
	if tolerance <= 0 {
		tolerance = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Cached{upstream: upstream, tolerance: tolerance, timeout: timeout}
}

func (c *Cached) State(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if !c.last.AsOf.IsZero() && c.last.Age(now) <= c.tolerance {
		return c.last, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	fresh, err := c.upstream.State(fetchCtx)
	if err != nil {
		logger.Warnf("account: snapshot refresh failed, last copy is %s old: %v", c.last.Age(now), err)
		return c.last, err
	}
	if fresh.AsOf.IsZero() {
		fresh.AsOf = time.Now()
	}
	c.last = fresh
	return c.last, nil
}

// StaticProvider returns a fixed snapshot, used in tests and dry runs.
type StaticProvider struct {
	Margin decimal.Decimal
}

func (p StaticProvider) State(context.Context) (State, error) {
	return State{
		AvailableMargin: p.Margin,
		OpenPositions:   map[string]decimal.Decimal{},
		AsOf:            time.Now(),
	}, nil
}
