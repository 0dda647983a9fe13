package dataset

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/models"
	"github.com/quantflow-ai/quantflow/internal/utils"
)

type fakeSource struct {
	slots []time.Time
	snaps []models.IndicatorSnapshot
}

func (f *fakeSource) RecentCandleSlots(_ context.Context, _ string, limit int, atOrBefore time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, s := range f.slots {
		if !s.After(atOrBefore) {
			out = append(out, s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) SnapshotsAt(_ context.Context, _ string, slots []time.Time) ([]models.IndicatorSnapshot, error) {
	want := make(map[time.Time]bool, len(slots))
	for _, s := range slots {
		want[s] = true
	}
	var out []models.IndicatorSnapshot
	for _, snap := range f.snaps {
		if want[snap.Timestamp] {
			out = append(out, snap)
		}
	}
	return out, nil
}

func mustEncode(t *testing.T, p models.IndicatorPayload) json.RawMessage {
	t.Helper()
	raw, err := models.EncodePayload(p)
	require.NoError(t, err)
	return raw
}

// addSlot appends a full set of valid indicator rows for one slot.
func addSlot(t *testing.T, f *fakeSource, slot time.Time, close, obv float64) {
	t.Helper()
	f.slots = append([]time.Time{slot}, f.slots...) // store is newest-first
	payloads := []models.IndicatorPayload{
		models.CandlePayload{Open: close - 1, High: close + 1, Low: close - 2, Close: close, Volume: 1000},
		models.VWAPPayload{Value: close + 0.5},
		models.ATRPayload{Value: 1.2},
		models.BBandsPayload{Upper: close + 3, Middle: close, Lower: close - 3},
		models.RSIPayload{Value: 55},
		models.OBVPayload{Value: obv},
		models.DepthPayload{BidVolume: 10000, AskVolume: 9000},
		models.LiquidationPayload{LongUSD: 5000, ShortUSD: 4000},
	}
	for _, p := range payloads {
		f.snaps = append(f.snaps, models.IndicatorSnapshot{
			Symbol:    "SOL/USDC",
			Kind:      p.Kind(),
			Timestamp: slot,
			Payload:   mustEncode(t, p),
		})
	}
}

func newTestBuilder(src *fakeSource, now time.Time) *Builder {
	b := NewBuilder(src, logging.NewNopLogger())
	b.now = func() time.Time { return now }
	return b
}

func TestBuilder_Build_AlignedAndSorted(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 2, 0, 0, time.UTC)
	base := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)

	src := &fakeSource{}
	for i := 0; i < 13; i++ {
		addSlot(t, src, base.Add(time.Duration(i)*5*time.Minute), 100+float64(i), 1000+float64(i)*10)
	}

	ds, err := newTestBuilder(src, now).Build(context.Background(), "SOL/USDC", 10)
	require.NoError(t, err)

	assert.Equal(t, models.FeatureSchemaVersion, ds.SchemaVersion)
	assert.Len(t, ds.Timestamps, 10)
	assert.Len(t, ds.Target, 10)
	require.Len(t, ds.Features, len(models.FeatureNames))
	for _, series := range ds.Features {
		assert.Len(t, series, 10)
	}

	// Ascending order; the window keeps the newest slots.
	for i := 1; i < len(ds.Timestamps); i++ {
		assert.True(t, ds.Timestamps[i].After(ds.Timestamps[i-1]))
	}
	assert.Equal(t, base.Add(12*5*time.Minute), ds.LastTimestamp())
	assert.Equal(t, 112.0, ds.Target[len(ds.Target)-1])
}

func TestBuilder_Build_OBVDelta(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	base := now.Add(-2 * 5 * time.Minute)

	src := &fakeSource{}
	addSlot(t, src, base, 100, 1000)
	addSlot(t, src, base.Add(5*time.Minute), 101, 1040)
	addSlot(t, src, now, 102, 1030)

	ds, err := newTestBuilder(src, now).Build(context.Background(), "SOL/USDC", 3)
	require.NoError(t, err)

	deltaIdx := -1
	for i, name := range models.FeatureNames {
		if name == "obv_delta" {
			deltaIdx = i
		}
	}
	require.GreaterOrEqual(t, deltaIdx, 0)

	assert.Equal(t, []float64{0, 40, -10}, ds.Features[deltaIdx])
}

func TestBuilder_Build_NoHistoricalData(t *testing.T) {
	now := time.Now()
	src := &fakeSource{}

	_, err := newTestBuilder(src, now).Build(context.Background(), "SOL/USDC", 10)
	require.Error(t, err)
	assert.True(t, utils.IsNoHistoricalDataError(err))
}

func TestBuilder_Build_MissingIndicatorDropsSlot(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-5 * time.Minute)

	src := &fakeSource{}
	addSlot(t, src, earlier, 100, 1000)
	addSlot(t, src, now, 101, 1010)

	// Remove the RSI row from the newest slot.
	var kept []models.IndicatorSnapshot
	for _, snap := range src.snaps {
		if snap.Timestamp.Equal(now) && snap.Kind == models.IndicatorRSI {
			continue
		}
		kept = append(kept, snap)
	}
	src.snaps = kept

	ds, err := newTestBuilder(src, now).Build(context.Background(), "SOL/USDC", 2)
	require.NoError(t, err)

	require.Len(t, ds.Timestamps, 1)
	assert.Equal(t, earlier, ds.Timestamps[0])
	assert.False(t, ds.IsCurrent(now))
}

func TestBuilder_Build_NaNDropsExactlyThatSlot(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	base := now.Add(-2 * 5 * time.Minute)

	src := &fakeSource{}
	addSlot(t, src, base, 100, 1000)
	addSlot(t, src, base.Add(5*time.Minute), 101, 1010)
	addSlot(t, src, now, 102, 1020)

	// Inject a NaN ATR into the middle slot.
	for i, snap := range src.snaps {
		if snap.Timestamp.Equal(base.Add(5*time.Minute)) && snap.Kind == models.IndicatorATR {
			src.snaps[i].Payload = json.RawMessage(`{"value":null}`)
		}
	}

	ds, err := newTestBuilder(src, now).Build(context.Background(), "SOL/USDC", 3)
	require.NoError(t, err)

	require.Len(t, ds.Timestamps, 2)
	assert.Equal(t, []time.Time{base, now}, ds.Timestamps)
}

func TestBuilder_Build_AllSlotsInvalid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	src := &fakeSource{}
	addSlot(t, src, now, 100, 1000)

	// Corrupt the candle close in the only slot.
	for i, snap := range src.snaps {
		if snap.Kind == models.IndicatorCandles {
			src.snaps[i].Payload = json.RawMessage(`{"open":99,"high":101,"low":98,"close":null,"volume":1000}`)
		}
	}

	_, err := newTestBuilder(src, now).Build(context.Background(), "SOL/USDC", 1)
	require.Error(t, err)
	assert.True(t, utils.IsNoCompleteDataError(err))
	assert.True(t, utils.IsDataIncomplete(err))
}

func TestBuilder_Build_IgnoresFutureSlots(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	src := &fakeSource{}
	addSlot(t, src, now.Add(5*time.Minute), 105, 1050) // future slot must be excluded
	addSlot(t, src, now, 100, 1000)

	ds, err := newTestBuilder(src, now).Build(context.Background(), "SOL/USDC", 5)
	require.NoError(t, err)

	require.Len(t, ds.Timestamps, 1)
	assert.Equal(t, now, ds.LastTimestamp())
}
