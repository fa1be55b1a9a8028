package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteTrailRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	trail, err := NewSQLiteTrail(path)
	require.NoError(t, err)
	defer trail.Close()

	ctx := context.Background()
	require.NoError(t, trail.Record(ctx, Event{
		SignalID: "sig-1",
		Kind:     KindTransition,
		From:     "received",
		To:       "validating",
	}))
	require.NoError(t, trail.Record(ctx, Event{
		SignalID: "sig-1",
		Kind:     KindTransition,
		From:     "validating",
		To:       "rejected",
		Code:     "confidence",
		Reason:   "confidence 0.50 below floor 0.70",
	}))
	require.NoError(t, trail.Record(ctx, Event{
		SignalID: "sig-2",
		Kind:     KindTransition,
		From:     "received",
		To:       "deduped_out",
	}))

	bySig, err := trail.BySignal(ctx, "sig-1")
	require.NoError(t, err)
	require.Len(t, bySig, 2)
	assert.Equal(t, "validating", bySig[0].To)
	assert.Equal(t, "rejected", bySig[1].To)
	assert.Equal(t, "confidence", bySig[1].Code)
	assert.NotEmpty(t, bySig[0].ID)

	recent, err := trail.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}
