package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/herambskanda/teletrade/internal/intent"
)

// Fingerprint derives the canonical dedup key for an intent: normalized
// symbol, side, whole-unit quantity, price tier and source channel, plus a
// coarse time bucket so re-broadcasts inside the window share a key.
func Fingerprint(it *intent.Intent, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = 2 * time.Minute
	}
	qty := it.Quantity.Round(0)
	tier := priceTier(it.Price)
	if tier == "" {
		tier = priceTier(it.Trigger)
	}
	slot := it.ArrivedAt.UTC().Truncate(bucket).Unix()

	raw := strings.Join([]string{
		it.NormalizedSymbol(),
		string(it.Side),
		qty.String(),
		tier,
		strings.ToLower(strings.TrimSpace(it.SourceChannel)),
		fmt.Sprintf("%d", slot),
	}, "|")

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// priceTier maps a price onto its 0.5% log-spaced band index. Zero prices
// (pure market orders) map to an empty tier so they still dedup on the rest
// of the key.
func priceTier(p decimal.Decimal) string {
	if !p.IsPositive() {
		return ""
	}
	f, _ := p.Float64()
	idx := int(math.Floor(math.Log(f) / math.Log(1.005)))
	return fmt.Sprintf("t%d", idx)
}
