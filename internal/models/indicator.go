package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// GridInterval is the universal time bucket for indicators, forecasts and
// decisions. Every stored timestamp is truncated to this grid.
const GridInterval = 5 * time.Minute

// GridSlot truncates t to the 5-minute grid in UTC.
func GridSlot(t time.Time) time.Time {
	return t.UTC().Truncate(GridInterval)
}

// SlotEnd returns the exclusive end of the grid slot containing t.
func SlotEnd(t time.Time) time.Time {
	return GridSlot(t).Add(GridInterval)
}

// IndicatorKind identifies one indicator series stored per symbol per slot.
type IndicatorKind string

const (
	IndicatorCandles     IndicatorKind = "candles"
	IndicatorVWAP        IndicatorKind = "vwap"
	IndicatorATR         IndicatorKind = "atr"
	IndicatorBBands      IndicatorKind = "bbands"
	IndicatorRSI         IndicatorKind = "rsi"
	IndicatorOBV         IndicatorKind = "obv"
	IndicatorDepth       IndicatorKind = "depth"
	IndicatorLiquidation IndicatorKind = "liquidation"
)

// RequiredIndicators is the set a timestamp must carry, in full and with
// finite values, to count as complete for the aligned dataset.
var RequiredIndicators = []IndicatorKind{
	IndicatorCandles,
	IndicatorVWAP,
	IndicatorATR,
	IndicatorBBands,
	IndicatorRSI,
	IndicatorOBV,
	IndicatorDepth,
	IndicatorLiquidation,
}

// IndicatorSnapshot is one stored (symbol, indicator, slot) observation.
// The triple is unique in the store; a later write replaces the earlier one.
type IndicatorSnapshot struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Kind      IndicatorKind   `json:"indicator" db:"indicator"`
	Timestamp time.Time       `json:"timestamp" db:"ts"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
}

// IndicatorPayload is the tagged variant over indicator kinds. Each concrete
// payload reports its kind and the numeric fields consumed downstream, so
// completeness checks stay exhaustive when a kind is added.
type IndicatorPayload interface {
	Kind() IndicatorKind
	// NumericFields returns every numeric value used downstream. A timestamp
	// is dropped if any of these is NaN or infinite.
	NumericFields() []float64
}

// CandlePayload carries one OHLCV candle.
type CandlePayload struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func (p CandlePayload) Kind() IndicatorKind { return IndicatorCandles }

func (p CandlePayload) NumericFields() []float64 {
	return []float64{p.Open, p.High, p.Low, p.Close, p.Volume}
}

// VWAPPayload carries the volume-weighted average price.
type VWAPPayload struct {
	Value float64 `json:"value"`
}

func (p VWAPPayload) Kind() IndicatorKind      { return IndicatorVWAP }
func (p VWAPPayload) NumericFields() []float64 { return []float64{p.Value} }

// ATRPayload carries the average true range.
type ATRPayload struct {
	Value float64 `json:"value"`
}

func (p ATRPayload) Kind() IndicatorKind      { return IndicatorATR }
func (p ATRPayload) NumericFields() []float64 { return []float64{p.Value} }

// BBandsPayload carries the three Bollinger bands.
type BBandsPayload struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

func (p BBandsPayload) Kind() IndicatorKind { return IndicatorBBands }

func (p BBandsPayload) NumericFields() []float64 {
	return []float64{p.Upper, p.Middle, p.Lower}
}

// RSIPayload carries the relative strength index.
type RSIPayload struct {
	Value float64 `json:"value"`
}

func (p RSIPayload) Kind() IndicatorKind      { return IndicatorRSI }
func (p RSIPayload) NumericFields() []float64 { return []float64{p.Value} }

// OBVPayload carries the on-balance volume.
type OBVPayload struct {
	Value float64 `json:"value"`
}

func (p OBVPayload) Kind() IndicatorKind      { return IndicatorOBV }
func (p OBVPayload) NumericFields() []float64 { return []float64{p.Value} }

// DepthPayload carries aggregated order-book depth.
type DepthPayload struct {
	BidVolume float64 `json:"bid_volume"`
	AskVolume float64 `json:"ask_volume"`
}

func (p DepthPayload) Kind() IndicatorKind { return IndicatorDepth }

func (p DepthPayload) NumericFields() []float64 {
	return []float64{p.BidVolume, p.AskVolume}
}

// LiquidationPayload carries estimated liquidation-zone volumes.
type LiquidationPayload struct {
	LongUSD  float64 `json:"long_usd"`
	ShortUSD float64 `json:"short_usd"`
}

func (p LiquidationPayload) Kind() IndicatorKind { return IndicatorLiquidation }

func (p LiquidationPayload) NumericFields() []float64 {
	return []float64{p.LongUSD, p.ShortUSD}
}

// DecodeIndicatorPayload unmarshals raw into the typed payload for kind.
// Unknown kinds are an error, never a silent pass-through.
//
// Every numeric field is prefilled with NaN before decoding: unmarshaling a
// JSON null into a non-pointer leaves it unchanged, so missing or null fields
// stay NaN and fail the downstream finiteness check instead of silently
// reading as zero.
func DecodeIndicatorPayload(kind IndicatorKind, raw json.RawMessage) (IndicatorPayload, error) {
	nan := math.NaN()
	switch kind {
	case IndicatorCandles:
		p := CandlePayload{Open: nan, High: nan, Low: nan, Close: nan, Volume: nan}
		err := json.Unmarshal(raw, &p)
		return p, err
	case IndicatorVWAP:
		p := VWAPPayload{Value: nan}
		err := json.Unmarshal(raw, &p)
		return p, err
	case IndicatorATR:
		p := ATRPayload{Value: nan}
		err := json.Unmarshal(raw, &p)
		return p, err
	case IndicatorBBands:
		p := BBandsPayload{Upper: nan, Middle: nan, Lower: nan}
		err := json.Unmarshal(raw, &p)
		return p, err
	case IndicatorRSI:
		p := RSIPayload{Value: nan}
		err := json.Unmarshal(raw, &p)
		return p, err
	case IndicatorOBV:
		p := OBVPayload{Value: nan}
		err := json.Unmarshal(raw, &p)
		return p, err
	case IndicatorDepth:
		p := DepthPayload{BidVolume: nan, AskVolume: nan}
		err := json.Unmarshal(raw, &p)
		return p, err
	case IndicatorLiquidation:
		p := LiquidationPayload{LongUSD: nan, ShortUSD: nan}
		err := json.Unmarshal(raw, &p)
		return p, err
	default:
		return nil, fmt.Errorf("unknown indicator kind %q", kind)
	}
}

// EncodePayload marshals a typed payload for storage.
func EncodePayload(p IndicatorPayload) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.Kind(), err)
	}
	return raw, nil
}

// IsFinite reports whether v is a usable numeric value (not NaN, not Inf).
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
