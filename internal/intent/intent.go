package intent

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the closed set of actions an interpreted signal can request.
type Side string

const (
	SideBuy    Side = "buy"
	SideSell   Side = "sell"
	SideExit   Side = "exit"
	SideModify Side = "modify"
	SideCancel Side = "cancel"
)

// OrderKind describes how the broker should work the order.
type OrderKind string

const (
	KindMarket    OrderKind = "market"
	KindLimit     OrderKind = "limit"
	KindStop      OrderKind = "stop"
	KindStopLimit OrderKind = "stop_limit"
)

// InstrumentType mirrors the instrument classes the upstream channels signal on.
type InstrumentType string

const (
	InstrumentEquity  InstrumentType = "equity"
	InstrumentFutures InstrumentType = "futures"
	InstrumentOptions InstrumentType = "options"
)

// OptionDetail carries the option-specific fields. Only set when the
// instrument type is options.
type OptionDetail struct {
	StrikePrice decimal.Decimal `json:"strike_price"`
	Expiry      string          `json:"expiry"` // YYYY-MM-DD
	OptionType  string          `json:"option_type"`
}

// Intent is the structured, source-agnostic form of one trading instruction
// as produced by the interpreter. It is immutable once built; the pipeline
// only ever wraps it, never edits it.
type Intent struct {
	Symbol     string         `json:"symbol"`
	Side       Side           `json:"side"`
	Kind       OrderKind      `json:"kind"`
	Instrument InstrumentType `json:"instrument"`

	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price,omitempty"`
	Trigger  decimal.Decimal `json:"trigger,omitempty"`
	Target   decimal.Decimal `json:"target,omitempty"`
	StopLoss decimal.Decimal `json:"stop_loss,omitempty"`

	Option *OptionDetail `json:"option,omitempty"`

	// RefOrderID links exit/modify/cancel intents to the live order they act on.
	RefOrderID string `json:"ref_order_id,omitempty"`

	SourceChannel string    `json:"source_channel"`
	RawMessageID  string    `json:"raw_message_id"`
	Confidence    float64   `json:"confidence"`
	ArrivedAt     time.Time `json:"arrived_at"`
}

const (
	validCE = "CE"
	validPE = "PE"
)

// Validate enforces the required-field rules per side variant. It runs once
// at the ingestion boundary so everything downstream can trust the shape.
func (it *Intent) Validate() error {
	if it == nil {
		return fmt.Errorf("intent is nil")
	}
	if strings.TrimSpace(it.Symbol) == "" {
		return fmt.Errorf("intent missing symbol")
	}
	if it.Confidence < 0 || it.Confidence > 1 {
		return fmt.Errorf("confidence %.3f outside [0,1]", it.Confidence)
	}
	if it.ArrivedAt.IsZero() {
		return fmt.Errorf("intent missing arrival timestamp")
	}
	if strings.TrimSpace(it.SourceChannel) == "" {
		return fmt.Errorf("intent missing source channel")
	}

	switch it.Side {
	case SideBuy, SideSell:
		if !it.Quantity.IsPositive() {
			return fmt.Errorf("%s intent requires positive quantity", it.Side)
		}
		if err := it.validateKind(); err != nil {
			return err
		}
	case SideExit:
		if it.RefOrderID == "" && !it.Quantity.IsPositive() {
			return fmt.Errorf("exit intent requires ref_order_id or quantity")
		}
	case SideModify, SideCancel:
		if it.RefOrderID == "" {
			return fmt.Errorf("%s intent requires ref_order_id", it.Side)
		}
	default:
		return fmt.Errorf("unknown side %q", it.Side)
	}

	if it.Instrument == InstrumentOptions {
		if it.Option == nil {
			return fmt.Errorf("options intent requires option detail")
		}
		if ot := strings.ToUpper(it.Option.OptionType); ot != validCE && ot != validPE {
			return fmt.Errorf("option type must be CE or PE, got %q", it.Option.OptionType)
		}
		if !it.Option.StrikePrice.IsPositive() {
			return fmt.Errorf("options intent requires positive strike price")
		}
	}
	return nil
}

func (it *Intent) validateKind() error {
	switch it.Kind {
	case KindMarket:
		return nil
	case KindLimit:
		if !it.Price.IsPositive() {
			return fmt.Errorf("limit intent requires positive price")
		}
	case KindStop, KindStopLimit:
		if !it.Trigger.IsPositive() {
			return fmt.Errorf("%s intent requires positive trigger", it.Kind)
		}
		if it.Kind == KindStopLimit && !it.Price.IsPositive() {
			return fmt.Errorf("stop_limit intent requires positive price")
		}
	default:
		return fmt.Errorf("unknown order kind %q", it.Kind)
	}
	return nil
}

// NormalizedSymbol upper-cases and trims the symbol for keying and display.
func (it *Intent) NormalizedSymbol() string {
	return strings.ToUpper(strings.TrimSpace(it.Symbol))
}

// IsEntry reports whether the intent opens or extends exposure.
func (it *Intent) IsEntry() bool {
	return it.Side == SideBuy || it.Side == SideSell
}

// Notional returns the reference notional used by risk checks: quantity
// times the best known price (limit price, else trigger, else zero for pure
// market orders whose notional comes from the mark price supplied by risk).
func (it *Intent) Notional() decimal.Decimal {
	ref := it.Price
	if ref.IsZero() {
		ref = it.Trigger
	}
	return it.Quantity.Mul(ref)
}
