package dataset

import (
	"context"
	"sort"
	"time"

	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/models"
	"github.com/quantflow-ai/quantflow/internal/utils"
)

// SnapshotSource is the slice of the indicator store the builder reads.
type SnapshotSource interface {
	RecentCandleSlots(ctx context.Context, symbol string, limit int, atOrBefore time.Time) ([]time.Time, error)
	SnapshotsAt(ctx context.Context, symbol string, slots []time.Time) ([]models.IndicatorSnapshot, error)
}

// Builder turns raw per-indicator snapshots into a complete, gap-free
// multivariate series. Read-only: it never writes to the store.
type Builder struct {
	store  SnapshotSource
	logger logging.Logger
	now    func() time.Time
}

// NewBuilder creates a dataset builder.
func NewBuilder(store SnapshotSource, logger logging.Logger) *Builder {
	return &Builder{
		store:  store,
		logger: logger.WithComponent("dataset_builder"),
		now:    time.Now,
	}
}

// slotValues holds the decoded indicator payloads of one complete grid slot.
type slotValues struct {
	candle models.CandlePayload
	vwap   models.VWAPPayload
	atr    models.ATRPayload
	bbands models.BBandsPayload
	rsi    models.RSIPayload
	obv    models.OBVPayload
	depth  models.DepthPayload
	liq    models.LiquidationPayload
}

// Build reads the most recent windowSize candle-anchored slots at or before
// the current grid slot and emits the aligned target series plus the
// exogenous feature matrix.
//
// A slot survives only when every required indicator is present and every
// numeric field is finite; one invalid field drops the whole slot, never a
// partial imputation. Returns NoHistoricalDataError when the store has no
// candles in the window and NoCompleteDataError when filtering leaves nothing.
func (b *Builder) Build(ctx context.Context, symbol string, windowSize int) (*models.AlignedDataset, error) {
	currentSlot := models.GridSlot(b.now())

	slots, err := b.store.RecentCandleSlots(ctx, symbol, windowSize, currentSlot)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return nil, &utils.NoHistoricalDataError{Symbol: symbol}
	}

	snaps, err := b.store.SnapshotsAt(ctx, symbol, slots)
	if err != nil {
		return nil, err
	}

	grouped := make(map[time.Time]map[models.IndicatorKind]models.IndicatorPayload, len(slots))
	for _, snap := range snaps {
		payload, err := models.DecodeIndicatorPayload(snap.Kind, snap.Payload)
		if err != nil {
			// An undecodable row invalidates its slot the same way a NaN
			// field does.
			b.logger.WithSymbol(symbol).WithError(err).Warn("Dropping undecodable indicator row",
				"indicator", string(snap.Kind), "timestamp", snap.Timestamp)
			continue
		}
		byKind, ok := grouped[snap.Timestamp.UTC()]
		if !ok {
			byKind = make(map[models.IndicatorKind]models.IndicatorPayload, len(models.RequiredIndicators))
			grouped[snap.Timestamp.UTC()] = byKind
		}
		byKind[snap.Kind] = payload
	}

	complete := make(map[time.Time]slotValues, len(grouped))
	var aligned []time.Time
	for slot, byKind := range grouped {
		values, ok := completeSlot(byKind)
		if !ok {
			continue
		}
		complete[slot] = values
		aligned = append(aligned, slot)
	}

	if len(aligned) == 0 {
		return nil, &utils.NoCompleteDataError{Symbol: symbol, Window: windowSize}
	}

	sort.Slice(aligned, func(i, j int) bool { return aligned[i].Before(aligned[j]) })

	ds := assemble(symbol, aligned, complete)
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	b.logger.WithSymbol(symbol).Debug("Built aligned dataset",
		"window", windowSize, "aligned", len(aligned), "dropped", len(slots)-len(aligned))

	return ds, nil
}

// completeSlot checks that every required indicator is present and finite and
// returns the typed values. The switch is exhaustive over RequiredIndicators;
// an unhandled kind fails completeness rather than passing silently.
func completeSlot(byKind map[models.IndicatorKind]models.IndicatorPayload) (slotValues, bool) {
	var values slotValues
	for _, kind := range models.RequiredIndicators {
		payload, ok := byKind[kind]
		if !ok {
			return slotValues{}, false
		}
		for _, v := range payload.NumericFields() {
			if !models.IsFinite(v) {
				return slotValues{}, false
			}
		}
		switch p := payload.(type) {
		case models.CandlePayload:
			values.candle = p
		case models.VWAPPayload:
			values.vwap = p
		case models.ATRPayload:
			values.atr = p
		case models.BBandsPayload:
			values.bbands = p
		case models.RSIPayload:
			values.rsi = p
		case models.OBVPayload:
			values.obv = p
		case models.DepthPayload:
			values.depth = p
		case models.LiquidationPayload:
			values.liq = p
		default:
			return slotValues{}, false
		}
	}
	return values, true
}

// assemble lays out the target series and the field-major feature matrix in
// the fixed schema order of models.FeatureNames.
func assemble(symbol string, aligned []time.Time, complete map[time.Time]slotValues) *models.AlignedDataset {
	n := len(aligned)
	ds := &models.AlignedDataset{
		Symbol:        symbol,
		SchemaVersion: models.FeatureSchemaVersion,
		Timestamps:    aligned,
		Target:        make([]float64, n),
		Features:      make([][]float64, len(models.FeatureNames)),
	}
	for f := range ds.Features {
		ds.Features[f] = make([]float64, n)
	}

	prevOBV := complete[aligned[0]].obv.Value
	for i, slot := range aligned {
		v := complete[slot]
		ds.Target[i] = v.candle.Close

		row := []float64{
			v.candle.Open,
			v.candle.High,
			v.candle.Low,
			v.candle.Volume,
			v.vwap.Value,
			v.atr.Value,
			v.bbands.Upper,
			v.bbands.Middle,
			v.bbands.Lower,
			v.rsi.Value,
			v.obv.Value - prevOBV,
			v.depth.BidVolume,
			v.depth.AskVolume,
			v.liq.LongUSD,
			v.liq.ShortUSD,
		}
		prevOBV = v.obv.Value

		for f, val := range row {
			ds.Features[f][i] = val
		}
	}
	return ds
}
