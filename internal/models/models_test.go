package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow-ai/quantflow/internal/utils"
)

func TestGridSlot(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 7, 42, 123, time.UTC)
	slot := GridSlot(ts)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC), slot)
	assert.Equal(t, slot.Add(5*time.Minute), SlotEnd(ts))

	// Already aligned timestamps are fixed points.
	assert.Equal(t, slot, GridSlot(slot))

	// Non-UTC input normalizes to UTC.
	loc := time.FixedZone("UTC+3", 3*3600)
	assert.Equal(t, slot, GridSlot(ts.In(loc)))
}

func TestDecodeIndicatorPayload(t *testing.T) {
	for _, kind := range RequiredIndicators {
		t.Run(string(kind), func(t *testing.T) {
			raw := json.RawMessage(`{}`)
			p, err := DecodeIndicatorPayload(kind, raw)
			require.NoError(t, err)
			assert.Equal(t, kind, p.Kind())
			require.NotEmpty(t, p.NumericFields())

			// An empty document decodes, but every field reads as NaN so it
			// can never count as complete.
			for _, v := range p.NumericFields() {
				assert.False(t, IsFinite(v))
			}
		})
	}

	t.Run("null field stays non-finite", func(t *testing.T) {
		p, err := DecodeIndicatorPayload(IndicatorATR, json.RawMessage(`{"value":null}`))
		require.NoError(t, err)
		assert.False(t, IsFinite(p.(ATRPayload).Value))
	})

	_, err := DecodeIndicatorPayload(IndicatorKind("funding"), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestDecodeIndicatorPayload_Candle(t *testing.T) {
	raw := json.RawMessage(`{"open":1,"high":2,"low":0.5,"close":1.5,"volume":100}`)
	p, err := DecodeIndicatorPayload(IndicatorCandles, raw)
	require.NoError(t, err)

	candle, ok := p.(CandlePayload)
	require.True(t, ok)
	assert.Equal(t, 1.5, candle.Close)
	assert.Equal(t, []float64{1, 2, 0.5, 1.5, 100}, candle.NumericFields())
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(0))
	assert.True(t, IsFinite(-123.45))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(1)))
	assert.False(t, IsFinite(math.Inf(-1)))
}

func TestAlignedDataset_Validate(t *testing.T) {
	makeDataset := func(n int) *AlignedDataset {
		d := &AlignedDataset{Symbol: "SOL/USDC", SchemaVersion: FeatureSchemaVersion}
		base := GridSlot(time.Now())
		for i := 0; i < n; i++ {
			d.Timestamps = append(d.Timestamps, base.Add(time.Duration(i)*GridInterval))
			d.Target = append(d.Target, 100+float64(i))
		}
		d.Features = make([][]float64, len(FeatureNames))
		for f := range d.Features {
			d.Features[f] = make([]float64, n)
		}
		return d
	}

	assert.NoError(t, makeDataset(10).Validate())
	assert.NoError(t, makeDataset(0).Validate())

	short := makeDataset(10)
	short.Target = short.Target[:9]
	err := short.Validate()
	require.Error(t, err)
	assert.True(t, utils.IsDataIntegrityError(err))

	missing := makeDataset(10)
	missing.Features = missing.Features[:len(missing.Features)-1]
	assert.True(t, utils.IsDataIntegrityError(missing.Validate()))

	ragged := makeDataset(10)
	ragged.Features[3] = ragged.Features[3][:5]
	assert.True(t, utils.IsDataIntegrityError(ragged.Validate()))
}

func TestAlignedDataset_IsCurrent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 7, 0, 0, time.UTC)
	d := &AlignedDataset{
		Symbol:     "SOL/USDC",
		Timestamps: []time.Time{GridSlot(now)},
	}
	assert.True(t, d.IsCurrent(now))
	assert.False(t, d.IsCurrent(now.Add(GridInterval)))

	empty := &AlignedDataset{Symbol: "SOL/USDC"}
	assert.False(t, empty.IsCurrent(now))
	assert.True(t, empty.LastTimestamp().IsZero())
}

func TestForecastRecord_TargetTimestamp(t *testing.T) {
	gen := time.Date(2025, 6, 1, 12, 2, 30, 0, time.UTC)
	f := &ForecastRecord{Symbol: "SOL/USDC", Horizon: 12, GeneratedAt: gen}

	assert.Equal(t, time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC), f.TargetTimestamp(1))
	assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), f.TargetTimestamp(12))
}

func TestPosition_Accounting(t *testing.T) {
	p := &Position{
		Symbol:     "SOL/USDC",
		Size:       decimal.NewFromInt(10),
		EntryPrice: decimal.NewFromInt(100),
	}

	assert.True(t, p.Cost().Equal(decimal.NewFromInt(1000)))
	assert.True(t, p.UnrealizedPnl(decimal.NewFromInt(110)).Equal(decimal.NewFromInt(100)))
	assert.InDelta(t, 10.0, p.ChangePct(decimal.NewFromInt(110)), 1e-9)
	assert.InDelta(t, -2.0, p.ChangePct(decimal.NewFromInt(98)), 1e-9)

	// Degenerate entry price must not divide by zero.
	zero := &Position{Symbol: "SOL/USDC"}
	assert.Equal(t, 0.0, zero.ChangePct(decimal.NewFromInt(5)))
}

func TestStats_WinRate(t *testing.T) {
	s := &Stats{Symbol: "SOL/USDC"}
	assert.Equal(t, 0.0, s.WinRate())

	s.TotalTrades = 4
	s.SuccessfulTrades = 3
	assert.InDelta(t, 0.75, s.WinRate(), 1e-9)
}
