package risk

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/herambskanda/teletrade/internal/marketdata"
)

// Scorer rates current market conditions for a symbol in [0,1]; higher
// means more anomalous. The chain treats the score as a hard gate.
type Scorer interface {
	Score(ctx context.Context, symbol string) (float64, error)
}

// ConstScorer always returns a fixed score. Used in tests and as the
// neutral default when no market source is configured.
type ConstScorer float64

func (s ConstScorer) Score(context.Context, string) (float64, error) {
	return float64(s), nil
}

// VolatilityScorer scores a symbol by how far its latest ATR sits above
// its recent average: score = clamp((latest/mean - 1), 0, 1). A quiet
// market scores near zero; an ATR spike at twice the recent mean scores 1.
type VolatilityScorer struct {
	Source    marketdata.Source
	Interval  string
	Lookback  int
	ATRPeriod int
}

func NewVolatilityScorer(src marketdata.Source) *VolatilityScorer {
	return &VolatilityScorer{Source: src, Interval: "1m", Lookback: 120, ATRPeriod: 14}
}

func (s *VolatilityScorer) Score(ctx context.Context, symbol string) (float64, error) {
	candles, err := s.Source.FetchHistory(ctx, symbol, s.Interval, s.Lookback)
	if err != nil {
		return 0, fmt.Errorf("fetching candles for anomaly score failed: %w", err)
	}
	if len(candles) < s.ATRPeriod*2 {
		return 0, fmt.Errorf("not enough candles for anomaly score: %d", len(candles))
	}

	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
	}

	atr := talib.Atr(high, low, closes, s.ATRPeriod)
	var sum float64
	n := 0
	for _, v := range atr[s.ATRPeriod:] {
		sum += v
		n++
	}
	if n == 0 || sum == 0 {
		return 0, nil
	}
	mean := sum / float64(n)
	latest := atr[len(atr)-1]

	score := latest/mean - 1
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}
