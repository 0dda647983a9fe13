package market

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/cinar/indicator/v2/volume"

	"github.com/quantflow-ai/quantflow/internal/models"
)

// Derivation periods. The schema consumers were trained on these windows, so
// they are fixed rather than configurable.
const (
	rsiPeriod   = 14
	bbPeriod    = 20
	bbStdDev    = 2.0
	atrMinBars  = 2
	rsiMinBars  = rsiPeriod + 1
	obvMinBars  = 2
	vwapMinBars = 1
)

// Deriver computes indicator payloads locally from candle history for kinds
// the bulk provider omitted.
type Deriver struct{}

// NewDeriver creates a candle-based indicator deriver.
func NewDeriver() *Deriver {
	return &Deriver{}
}

// Derive computes the payload for kind from candles (oldest first). Only the
// value for the most recent candle is returned.
func (d *Deriver) Derive(kind models.IndicatorKind, candles []models.CandlePayload) (models.IndicatorPayload, error) {
	switch kind {
	case models.IndicatorVWAP:
		return d.vwap(candles)
	case models.IndicatorATR:
		return d.atr(candles)
	case models.IndicatorBBands:
		return d.bbands(candles)
	case models.IndicatorRSI:
		return d.rsi(candles)
	case models.IndicatorOBV:
		return d.obv(candles)
	default:
		return nil, fmt.Errorf("cannot derive indicator %s from candles", kind)
	}
}

// CanDerive reports whether kind is computable from candle history alone.
func (d *Deriver) CanDerive(kind models.IndicatorKind) bool {
	switch kind {
	case models.IndicatorVWAP, models.IndicatorATR, models.IndicatorBBands,
		models.IndicatorRSI, models.IndicatorOBV:
		return true
	}
	return false
}

func (d *Deriver) vwap(candles []models.CandlePayload) (models.IndicatorPayload, error) {
	if len(candles) < vwapMinBars {
		return nil, fmt.Errorf("need at least %d candles for vwap, got %d", vwapMinBars, len(candles))
	}

	var cumPV, cumVolume float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		cumPV += typical * c.Volume
		cumVolume += c.Volume
	}
	if cumVolume == 0 {
		return nil, fmt.Errorf("zero cumulative volume over %d candles", len(candles))
	}
	return models.VWAPPayload{Value: cumPV / cumVolume}, nil
}

func (d *Deriver) atr(candles []models.CandlePayload) (models.IndicatorPayload, error) {
	if len(candles) < atrMinBars {
		return nil, fmt.Errorf("need at least %d candles for atr, got %d", atrMinBars, len(candles))
	}

	high, low, closing := splitOHLC(candles)
	atr := volatility.NewAtr[float64]()
	result := helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(high),
		helper.SliceToChan(low),
		helper.SliceToChan(closing),
	))
	return models.ATRPayload{Value: lastValue(result)}, nil
}

func (d *Deriver) bbands(candles []models.CandlePayload) (models.IndicatorPayload, error) {
	if len(candles) < bbPeriod {
		return nil, fmt.Errorf("need at least %d candles for bbands, got %d", bbPeriod, len(candles))
	}

	_, _, closing := splitOHLC(candles)
	sma := trend.NewSmaWithPeriod[float64](bbPeriod)
	middle := lastValue(helper.ChanToSlice(sma.Compute(helper.SliceToChan(closing))))

	window := closing[len(closing)-bbPeriod:]
	var variance float64
	for _, v := range window {
		variance += (v - middle) * (v - middle)
	}
	sd := math.Sqrt(variance / float64(bbPeriod))

	return models.BBandsPayload{
		Upper:  middle + bbStdDev*sd,
		Middle: middle,
		Lower:  middle - bbStdDev*sd,
	}, nil
}

func (d *Deriver) rsi(candles []models.CandlePayload) (models.IndicatorPayload, error) {
	if len(candles) < rsiMinBars {
		return nil, fmt.Errorf("need at least %d candles for rsi, got %d", rsiMinBars, len(candles))
	}

	_, _, closing := splitOHLC(candles)
	rsi := momentum.NewRsiWithPeriod[float64](rsiPeriod)
	result := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(closing)))
	return models.RSIPayload{Value: lastValue(result)}, nil
}

func (d *Deriver) obv(candles []models.CandlePayload) (models.IndicatorPayload, error) {
	if len(candles) < obvMinBars {
		return nil, fmt.Errorf("need at least %d candles for obv, got %d", obvMinBars, len(candles))
	}

	_, _, closing := splitOHLC(candles)
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
	}

	obv := volume.NewObv[float64]()
	result := helper.ChanToSlice(obv.Compute(
		helper.SliceToChan(closing),
		helper.SliceToChan(volumes),
	))
	return models.OBVPayload{Value: lastValue(result)}, nil
}

func splitOHLC(candles []models.CandlePayload) (high, low, closing []float64) {
	high = make([]float64, len(candles))
	low = make([]float64, len(candles))
	closing = make([]float64, len(candles))
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closing[i] = c.Close
	}
	return high, low, closing
}

func lastValue(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}
