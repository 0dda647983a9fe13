package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/ledger"
	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/market"
	"github.com/quantflow-ai/quantflow/internal/models"
	"github.com/quantflow-ai/quantflow/internal/signal"
	"github.com/quantflow-ai/quantflow/internal/utils"
)

// Forecaster produces (or serves from cache) a multi-step forecast.
type Forecaster interface {
	GetForecast(ctx context.Context, symbol string, horizon int) (*models.ForecastRecord, error)
}

// AccuracyChecker scores previously stored forecasts against an actual close.
type AccuracyChecker interface {
	CheckAccuracy(ctx context.Context, symbol string, actualClose float64, timestamp time.Time) *models.AccuracyReport
}

// PositionManager is the ledger surface the engine drives.
type PositionManager interface {
	Position(ctx context.Context, symbol string) (*models.Position, error)
	EvaluateRisk(ctx context.Context, symbol string) (*ledger.Outcome, error)
	ApplyScore(ctx context.Context, symbol string, totalScore float64) (*ledger.Outcome, error)
}

// SnapshotStore is the indicator persistence surface the engine writes to and
// reads fusion inputs from.
type SnapshotStore interface {
	Upsert(ctx context.Context, snap models.IndicatorSnapshot) error
	Latest(ctx context.Context, symbol string, kind models.IndicatorKind) (*models.IndicatorSnapshot, error)
	History(ctx context.Context, symbol string, kind models.IndicatorKind, limit int) ([]models.IndicatorSnapshot, error)
}

// TickResult summarizes one engine cycle for the caller.
type TickResult struct {
	Symbol   string                 `json:"symbol"`
	Slot     time.Time              `json:"slot"`
	Scores   *signal.Scores         `json:"scores,omitempty"`
	Outcome  *ledger.Outcome        `json:"outcome,omitempty"`
	Accuracy *models.AccuracyReport `json:"accuracy,omitempty"`
	Forecast *models.ForecastRecord `json:"forecast,omitempty"`
	// Skipped is set when the tick ended early without a trade decision.
	Skipped string `json:"skipped,omitempty"`
}

// Engine runs one full decision cycle per invocation: collect indicators,
// score forecast accuracy, check risk limits, forecast, fuse signals, apply
// the score to the ledger. Ticks are independent and idempotent; all state
// lives in the stores.
type Engine struct {
	provider  market.Provider
	deriver   *market.Deriver
	snapshots SnapshotStore
	forecasts Forecaster
	accuracy  AccuracyChecker
	fusion    *signal.Engine
	positions PositionManager
	notifier  *Notifier
	retry     RetryPolicy

	horizon   int
	obvWindow int
	logger    logging.Logger
	now       func() time.Time
}

// NewEngine wires the tick orchestrator.
func NewEngine(
	provider market.Provider,
	deriver *market.Deriver,
	snapshots SnapshotStore,
	forecasts Forecaster,
	accuracy AccuracyChecker,
	fusion *signal.Engine,
	positions PositionManager,
	notifier *Notifier,
	retry RetryPolicy,
	forecastCfg config.ForecastConfig,
	strategy config.StrategyConfig,
	logger logging.Logger,
) *Engine {
	return &Engine{
		provider:  provider,
		deriver:   deriver,
		snapshots: snapshots,
		forecasts: forecasts,
		accuracy:  accuracy,
		fusion:    fusion,
		positions: positions,
		notifier:  notifier,
		retry:     retry,
		horizon:   forecastCfg.Horizon,
		obvWindow: strategy.OBVWindow,
		logger:    logger.WithComponent("tick_engine"),
		now:       time.Now,
	}
}

// Tick runs one full cycle for symbol.
func (e *Engine) Tick(ctx context.Context, symbol string) (*TickResult, error) {
	slot := models.GridSlot(e.now())
	log := e.logger.WithSymbol(symbol)
	result := &TickResult{Symbol: symbol, Slot: slot}

	currentClose, haveClose := e.collectIndicators(ctx, symbol, slot)

	// Accuracy tracking is diagnostic only; it never blocks the decision.
	if haveClose {
		result.Accuracy = e.accuracy.CheckAccuracy(ctx, symbol, currentClose, slot)
	}

	// Risk limits are evaluated against the oracle-realizable price before
	// any signal work; a breached limit closes and ends the tick.
	riskOut, err := e.positions.EvaluateRisk(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if riskOut != nil {
		e.notifier.NotifyOutcome(ctx, riskOut)
		result.Outcome = riskOut
		return result, nil
	}

	rec, err := e.forecasts.GetForecast(ctx, symbol, e.horizon)
	if err != nil {
		if utils.IsDataIncomplete(err) || utils.IsNoRecentForecastError(err) {
			log.Warn("No usable forecast, skipping decision", "reason", err.Error())
			result.Skipped = "no_forecast"
			return result, nil
		}
		return nil, err
	}
	result.Forecast = rec

	in, err := e.fusionInput(ctx, symbol, rec)
	if err != nil {
		if utils.IsDataIncomplete(err) {
			log.Warn("Incomplete fusion inputs, skipping decision", "reason", err.Error())
			result.Skipped = "incomplete_inputs"
			return result, nil
		}
		return nil, err
	}

	scores := e.fusion.Score(*in)
	result.Scores = &scores

	out, err := e.positions.ApplyScore(ctx, symbol, scores.TotalScore)
	if err != nil {
		return nil, err
	}
	e.notifier.NotifyOutcome(ctx, out)
	result.Outcome = out

	return result, nil
}

// collectIndicators fetches and stores this slot's snapshots. The three
// provider surfaces write disjoint keys, so they run concurrently; a failure
// in one leaves that indicator absent for the slot and the others intact.
// Returns the candle close when the bulk fetch produced one.
func (e *Engine) collectIndicators(ctx context.Context, symbol string, slot time.Time) (float64, bool) {
	log := e.logger.WithSymbol(symbol)

	var (
		wg           sync.WaitGroup
		closeMu      sync.Mutex
		currentClose float64
		haveClose    bool
	)

	wg.Add(3)

	go func() {
		defer wg.Done()
		var indicators map[models.IndicatorKind]json.RawMessage
		err := e.retry.Do(ctx, "fetch_bulk_indicators", func(ctx context.Context) error {
			var err error
			indicators, err = e.provider.FetchBulkIndicators(ctx, symbol)
			return err
		})
		if err != nil {
			log.WithError(err).Warn("Bulk indicator fetch failed, slot will be incomplete")
			return
		}

		if c, err := e.storeBulk(ctx, symbol, slot, indicators); err == nil {
			closeMu.Lock()
			currentClose, haveClose = c, true
			closeMu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		e.fetchAndStore(ctx, symbol, slot, models.IndicatorDepth, e.provider.FetchDepth)
	}()

	go func() {
		defer wg.Done()
		e.fetchAndStore(ctx, symbol, slot, models.IndicatorLiquidation, e.provider.FetchLiquidationZones)
	}()

	wg.Wait()
	return currentClose, haveClose
}

// storeBulk persists the provider's indicator map, deriving any missing
// derivable kinds from candle history. Returns the candle close.
func (e *Engine) storeBulk(ctx context.Context, symbol string, slot time.Time, indicators map[models.IndicatorKind]json.RawMessage) (float64, error) {
	log := e.logger.WithSymbol(symbol)

	for kind, raw := range indicators {
		if err := e.snapshots.Upsert(ctx, models.IndicatorSnapshot{
			Symbol:    symbol,
			Kind:      kind,
			Timestamp: slot,
			Payload:   raw,
		}); err != nil {
			log.WithError(err).Warn("Failed to store indicator", "indicator", string(kind))
		}
	}

	e.deriveMissing(ctx, symbol, slot, indicators)

	rawCandle, ok := indicators[models.IndicatorCandles]
	if !ok {
		return 0, fmt.Errorf("bulk response carried no candle for %s", symbol)
	}
	payload, err := models.DecodeIndicatorPayload(models.IndicatorCandles, rawCandle)
	if err != nil {
		return 0, err
	}
	candle, ok := payload.(models.CandlePayload)
	if !ok || !models.IsFinite(candle.Close) {
		return 0, fmt.Errorf("no finite close for %s", symbol)
	}
	return candle.Close, nil
}

// deriveMissing fills derivable indicator kinds the provider omitted using
// the stored candle history plus this slot's candle.
func (e *Engine) deriveMissing(ctx context.Context, symbol string, slot time.Time, indicators map[models.IndicatorKind]json.RawMessage) {
	var missing []models.IndicatorKind
	for _, kind := range models.RequiredIndicators {
		if _, ok := indicators[kind]; !ok && e.deriver.CanDerive(kind) {
			missing = append(missing, kind)
		}
	}
	if len(missing) == 0 {
		return
	}

	log := e.logger.WithSymbol(symbol)

	candles, err := e.candleHistory(ctx, symbol, derivationBars)
	if err != nil {
		log.WithError(err).Warn("Cannot derive missing indicators without candle history")
		return
	}

	for _, kind := range missing {
		payload, err := e.deriver.Derive(kind, candles)
		if err != nil {
			log.WithError(err).Warn("Indicator derivation failed", "indicator", string(kind))
			continue
		}
		raw, err := models.EncodePayload(payload)
		if err != nil {
			log.WithError(err).Warn("Failed to encode derived indicator", "indicator", string(kind))
			continue
		}
		if err := e.snapshots.Upsert(ctx, models.IndicatorSnapshot{
			Symbol:    symbol,
			Kind:      kind,
			Timestamp: slot,
			Payload:   raw,
		}); err != nil {
			log.WithError(err).Warn("Failed to store derived indicator", "indicator", string(kind))
			continue
		}
		log.Debug("Derived missing indicator locally", "indicator", string(kind))
	}
}

// derivationBars is how much candle history local derivation reads. Enough
// for the longest derivation window with headroom for dropped slots.
const derivationBars = 60

func (e *Engine) fetchAndStore(ctx context.Context, symbol string, slot time.Time, kind models.IndicatorKind, fetch func(context.Context, string) (json.RawMessage, error)) {
	log := e.logger.WithSymbol(symbol)

	var raw json.RawMessage
	err := e.retry.Do(ctx, "fetch_"+string(kind), func(ctx context.Context) error {
		var err error
		raw, err = fetch(ctx, symbol)
		return err
	})
	if err != nil {
		log.WithError(err).Warn("Indicator fetch failed, slot will be incomplete", "indicator", string(kind))
		return
	}

	if err := e.snapshots.Upsert(ctx, models.IndicatorSnapshot{
		Symbol:    symbol,
		Kind:      kind,
		Timestamp: slot,
		Payload:   raw,
	}); err != nil {
		log.WithError(err).Warn("Failed to store indicator", "indicator", string(kind))
	}
}

// fusionInput assembles the technical inputs from the latest stored
// snapshots. The fusion engine scores whatever is finite; a missing snapshot
// here means the dataset builder would have rejected the slot anyway.
func (e *Engine) fusionInput(ctx context.Context, symbol string, rec *models.ForecastRecord) (*signal.Input, error) {
	candles, err := e.candleHistory(ctx, symbol, e.obvWindow)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, &utils.NoHistoricalDataError{Symbol: symbol}
	}

	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	currentPrice := prices[len(prices)-1]

	vwap, err := latestValue[models.VWAPPayload](ctx, e.snapshots, symbol, models.IndicatorVWAP)
	if err != nil {
		return nil, err
	}
	rsi, err := latestValue[models.RSIPayload](ctx, e.snapshots, symbol, models.IndicatorRSI)
	if err != nil {
		return nil, err
	}

	bbSnap, err := e.snapshots.Latest(ctx, symbol, models.IndicatorBBands)
	if err != nil {
		return nil, err
	}
	if bbSnap == nil {
		return nil, &utils.NoCompleteDataError{Symbol: symbol, Window: 1}
	}
	bbPayload, err := models.DecodeIndicatorPayload(models.IndicatorBBands, bbSnap.Payload)
	if err != nil {
		return nil, err
	}
	bb := bbPayload.(models.BBandsPayload)

	obvSeries, err := e.obvHistory(ctx, symbol, e.obvWindow)
	if err != nil {
		return nil, err
	}

	var entryPrice *float64
	pos, err := e.positions.Position(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if pos != nil {
		ep, _ := pos.EntryPrice.Float64()
		entryPrice = &ep
	}

	return &signal.Input{
		Symbol:       symbol,
		CurrentPrice: currentPrice,
		Forecast:     rec.Values,
		VWAP:         vwap.Value,
		BBUpper:      bb.Upper,
		BBLower:      bb.Lower,
		RSI:          rsi.Value,
		PriceSeries:  prices,
		OBVSeries:    obvSeries,
		EntryPrice:   entryPrice,
	}, nil
}

// candleHistory returns the most recent candle payloads, oldest first.
func (e *Engine) candleHistory(ctx context.Context, symbol string, limit int) ([]models.CandlePayload, error) {
	snaps, err := e.snapshots.History(ctx, symbol, models.IndicatorCandles, limit)
	if err != nil {
		return nil, err
	}

	// History is newest-first; series consumers want oldest-first.
	candles := make([]models.CandlePayload, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		payload, err := models.DecodeIndicatorPayload(models.IndicatorCandles, snaps[i].Payload)
		if err != nil {
			continue
		}
		if c, ok := payload.(models.CandlePayload); ok {
			candles = append(candles, c)
		}
	}
	return candles, nil
}

func (e *Engine) obvHistory(ctx context.Context, symbol string, limit int) ([]float64, error) {
	snaps, err := e.snapshots.History(ctx, symbol, models.IndicatorOBV, limit)
	if err != nil {
		return nil, err
	}

	values := make([]float64, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		payload, err := models.DecodeIndicatorPayload(models.IndicatorOBV, snaps[i].Payload)
		if err != nil {
			continue
		}
		if p, ok := payload.(models.OBVPayload); ok {
			values = append(values, p.Value)
		}
	}
	return values, nil
}

func latestValue[P models.IndicatorPayload](ctx context.Context, snapshots SnapshotStore, symbol string, kind models.IndicatorKind) (P, error) {
	var zero P
	snap, err := snapshots.Latest(ctx, symbol, kind)
	if err != nil {
		return zero, err
	}
	if snap == nil {
		return zero, &utils.NoCompleteDataError{Symbol: symbol, Window: 1}
	}
	payload, err := models.DecodeIndicatorPayload(kind, snap.Payload)
	if err != nil {
		return zero, err
	}
	typed, ok := payload.(P)
	if !ok {
		return zero, utils.NewDataIntegrityErrorf("unexpected payload type for %s/%s", symbol, kind)
	}
	return typed, nil
}
