package models

import (
	"time"
)

// ForecastRecord is one multi-step prediction for a symbol. Values[i] is the
// predicted closing price (i+1) grid slots after GeneratedAt.
type ForecastRecord struct {
	Symbol      string    `json:"symbol"`
	Horizon     int       `json:"horizon"`
	GeneratedAt time.Time `json:"generated_at"`
	Values      []float64 `json:"values"`
	// Cached marks records served from the key-value store rather than a
	// fresh model call.
	Cached bool `json:"cached"`
}

// TargetTimestamp returns the grid slot that step h (1-based) predicts.
func (f *ForecastRecord) TargetTimestamp(h int) time.Time {
	return GridSlot(f.GeneratedAt).Add(time.Duration(h) * GridInterval)
}

// ForecastPoint is one horizon step persisted individually for later accuracy
// scoring, keyed by (symbol, target timestamp, periods ahead).
type ForecastPoint struct {
	Symbol       string    `json:"symbol"`
	TargetTime   time.Time `json:"target_time"`
	PeriodsAhead int       `json:"periods_ahead"`
	Predicted    float64   `json:"predicted"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// HorizonError is the per-step error of one matched forecast point.
type HorizonError struct {
	PeriodsAhead int     `json:"periods_ahead"`
	Predicted    float64 `json:"predicted"`
	Actual       float64 `json:"actual"`
	Error        float64 `json:"error"`     // predicted - actual, signed
	AbsError     float64 `json:"abs_error"` // |predicted - actual|
	AbsPctError  float64 `json:"abs_pct_error"`
}

// AccuracyReport aggregates forecast error for one (symbol, timestamp).
//
// R2 uses the observed actual as the reference mean rather than the mean of
// predictions. This is deliberately nonstandard; historical metrics were
// logged with this formula and changing it would break comparability.
type AccuracyReport struct {
	Symbol    string         `json:"symbol"`
	Timestamp time.Time      `json:"timestamp"`
	Actual    float64        `json:"actual"`
	Horizons  []HorizonError `json:"horizons"`
	MAE       float64        `json:"mae"`
	MAPE      float64        `json:"mape"`
	// R2 is nil when undefined (every prediction equals the actual); JSON
	// cannot carry NaN, so the sentinel is null plus the Degenerate flag.
	R2         *float64  `json:"r2"`
	Degenerate bool      `json:"degenerate"`
	CheckedAt  time.Time `json:"checked_at"`
}
