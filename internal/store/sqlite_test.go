package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "teletrade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSignalRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSignal(ctx, &SignalModel{
		ID: "sig-1", Fingerprint: "fp-1", Source: "chan-1",
		Symbol: "RELIANCE", State: "validating",
	}))
	// save again with a new state; same row
	require.NoError(t, s.SaveSignal(ctx, &SignalModel{
		ID: "sig-1", Fingerprint: "fp-1", Source: "chan-1",
		Symbol: "RELIANCE", State: "executed",
	}))

	got, err := s.GetSignal(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "executed", got.State)

	recent, err := s.ListRecentSignals(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestOrderQueriesByState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rows := []OrderModel{
		{ID: "ord-1", SignalID: "sig-1", IdempotencyKey: "k1", Symbol: "X", Side: "buy", State: "placed"},
		{ID: "ord-2", SignalID: "sig-2", IdempotencyKey: "k2", Symbol: "X", Side: "buy", State: "partially_filled"},
		{ID: "ord-3", SignalID: "sig-3", IdempotencyKey: "k3", Symbol: "X", Side: "sell",
			State: "filled", FilledQty: "10", FillPrice: "100"},
		{ID: "ord-4", SignalID: "sig-4", IdempotencyKey: "k4", Symbol: "X", Side: "buy", State: "rejected_by_broker"},
	}
	for i := range rows {
		require.NoError(t, s.SaveOrder(ctx, &rows[i]))
	}

	open, err := s.ListOpenOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	filled, err := s.ListFilledOrders(ctx)
	require.NoError(t, err)
	require.Len(t, filled, 1)
	assert.Equal(t, "ord-3", filled[0].ID)
}

func TestIdempotencyKeyUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOrder(ctx, &OrderModel{
		ID: "ord-1", IdempotencyKey: "dup", Symbol: "X", Side: "buy", State: "placed",
	}))
	err := s.SaveOrder(ctx, &OrderModel{
		ID: "ord-2", IdempotencyKey: "dup", Symbol: "X", Side: "buy", State: "placed",
	})
	assert.Error(t, err, "two orders must never share an idempotency key")
}
