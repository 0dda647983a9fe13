package models

import (
	"time"

	"github.com/quantflow-ai/quantflow/internal/utils"
)

// FeatureSchemaVersion identifies the exogenous feature layout. Any change to
// FeatureNames (order, addition, removal) breaks every trained model consuming
// the matrix and must bump this version.
const FeatureSchemaVersion = "v1"

// FeatureNames is the fixed-order exogenous feature vector schema.
var FeatureNames = []string{
	"open",
	"high",
	"low",
	"volume",
	"vwap",
	"atr",
	"bb_upper",
	"bb_middle",
	"bb_lower",
	"rsi",
	"obv_delta",
	"depth_bid_volume",
	"depth_ask_volume",
	"liq_long_usd",
	"liq_short_usd",
}

// AlignedDataset is the gap-free multivariate series for one symbol: the
// subset of grid slots where every required indicator is present and finite,
// sorted ascending. Target is the closing price; Features holds one slice per
// FeatureNames entry, field-major.
type AlignedDataset struct {
	Symbol        string      `json:"symbol"`
	SchemaVersion string      `json:"schema_version"`
	Timestamps    []time.Time `json:"timestamps"`
	Target        []float64   `json:"target"`
	Features      [][]float64 `json:"features"`
}

// Validate checks the array-length invariant. A mismatch means the builder
// produced a malformed dataset and the tick must abort.
func (d *AlignedDataset) Validate() error {
	n := len(d.Timestamps)
	if len(d.Target) != n {
		return utils.NewDataIntegrityErrorf(
			"aligned dataset for %s: target length %d != timestamp length %d", d.Symbol, len(d.Target), n)
	}
	if len(d.Features) != len(FeatureNames) {
		return utils.NewDataIntegrityErrorf(
			"aligned dataset for %s: %d feature series, schema %s has %d", d.Symbol, len(d.Features), d.SchemaVersion, len(FeatureNames))
	}
	for i, series := range d.Features {
		if len(series) != n {
			return utils.NewDataIntegrityErrorf(
				"aligned dataset for %s: feature %q length %d != timestamp length %d", d.Symbol, FeatureNames[i], len(series), n)
		}
	}
	return nil
}

// LastTimestamp returns the most recent aligned slot, or the zero time for an
// empty dataset.
func (d *AlignedDataset) LastTimestamp() time.Time {
	if len(d.Timestamps) == 0 {
		return time.Time{}
	}
	return d.Timestamps[len(d.Timestamps)-1]
}

// IsCurrent reports whether the dataset reaches the grid slot containing now.
// A stale dataset means the ingestion pipeline is still catching up and no
// fresh forecast should be requested from it.
func (d *AlignedDataset) IsCurrent(now time.Time) bool {
	return d.LastTimestamp().Equal(GridSlot(now))
}
