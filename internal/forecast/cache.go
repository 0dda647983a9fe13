package forecast

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/models"
	"github.com/quantflow-ai/quantflow/internal/store"
	"github.com/quantflow-ai/quantflow/internal/utils"
)

const (
	currentKeyPrefix = "forecast:current:"
	lastKnownPrefix  = "forecast:last:"
	pointKeyPrefix   = "forecast:point:"

	// lastKnownTTL bounds how stale a fallback forecast may be.
	lastKnownTTL = 24 * time.Hour
	// pointGrace keeps each horizon point alive long enough for the accuracy
	// check of its target slot.
	pointGrace = 5 * time.Minute
)

// CurrentKey returns the short-TTL cache key for a symbol.
func CurrentKey(symbol string) string {
	return currentKeyPrefix + symbol
}

// LastKnownKey returns the last-known-good fallback key for a symbol.
func LastKnownKey(symbol string) string {
	return lastKnownPrefix + symbol
}

// PointKey returns the per-horizon persistence key.
func PointKey(symbol string, target time.Time, periodsAhead int) string {
	return fmt.Sprintf("%s%s:%d:%d", pointKeyPrefix, symbol, target.Unix(), periodsAhead)
}

// PointPrefix returns the key prefix of every horizon point predicting the
// given slot.
func PointPrefix(symbol string, target time.Time) string {
	return fmt.Sprintf("%s%s:%d:", pointKeyPrefix, symbol, target.Unix())
}

// DatasetBuilder is the slice of the dataset builder the cache consumes.
type DatasetBuilder interface {
	Build(ctx context.Context, symbol string, windowSize int) (*models.AlignedDataset, error)
}

// Cache wraps the forecasting call with a grid-aligned idempotent cache, a
// last-known-good fallback, and per-horizon persistence for accuracy scoring.
// At most one live forecast request per symbol per grid slot.
type Cache struct {
	builder   DatasetBuilder
	predictor Predictor
	kv        store.KVStore
	cfg       config.ForecastConfig
	logger    logging.Logger
	now       func() time.Time
}

// NewCache creates a forecast cache.
func NewCache(builder DatasetBuilder, predictor Predictor, kv store.KVStore, cfg config.ForecastConfig, logger logging.Logger) *Cache {
	return &Cache{
		builder:   builder,
		predictor: predictor,
		kv:        kv,
		cfg:       cfg,
		logger:    logger.WithComponent("forecast_cache"),
		now:       time.Now,
	}
}

// GetForecast returns the forecast for the current grid slot: fresh when the
// dataset is current and no cached entry exists, cached otherwise.
//
// When the dataset has not caught up to the current slot the last-known-good
// record is served instead; with no fallback available the call fails with
// NoRecentForecastError. Dataset-build failures propagate unchanged.
func (c *Cache) GetForecast(ctx context.Context, symbol string, horizon int) (*models.ForecastRecord, error) {
	log := c.logger.WithSymbol(symbol)
	now := c.now()

	ds, err := c.builder.Build(ctx, symbol, c.cfg.WindowSize)
	if err != nil {
		return nil, err
	}

	if !ds.IsCurrent(now) {
		// Pipeline is still catching up for this slot.
		var fallback models.ForecastRecord
		found, err := c.kv.GetJSON(ctx, LastKnownKey(symbol), &fallback)
		if err != nil {
			return nil, err
		}
		if found {
			log.Warn("Dataset stale, serving last known forecast",
				"last_aligned", ds.LastTimestamp(), "generated_at", fallback.GeneratedAt)
			fallback.Cached = true
			return &fallback, nil
		}
		return nil, &utils.NoRecentForecastError{Symbol: symbol, LastTS: ds.LastTimestamp()}
	}

	var cached models.ForecastRecord
	found, err := c.kv.GetJSON(ctx, CurrentKey(symbol), &cached)
	if err != nil {
		return nil, err
	}
	if found {
		log.Debug("Forecast cache hit", "generated_at", cached.GeneratedAt)
		cached.Cached = true
		return &cached, nil
	}

	resp, err := c.predictor.Forecast(ctx, NewRequestFromDataset(ds, horizon))
	if err != nil {
		return nil, err
	}

	record := &models.ForecastRecord{
		Symbol:      symbol,
		Horizon:     horizon,
		GeneratedAt: now,
		Values:      resp.Values,
	}

	if err := c.persist(ctx, record, now); err != nil {
		// A partial write must not report success: the next tick would
		// otherwise trust an incomplete cache.
		return nil, fmt.Errorf("failed to persist forecast for %s: %w", symbol, err)
	}

	log.Info("Forecast generated",
		"horizon", horizon, "model_id", resp.Usage.ModelID, "elapsed_ms", resp.Usage.ElapsedMs)
	return record, nil
}

// persist scatters the current entry, the last-known-good entry and one point
// per horizon step, then gathers before reporting success. The first failure
// wins; the remaining writes still run to completion.
func (c *Cache) persist(ctx context.Context, record *models.ForecastRecord, now time.Time) error {
	g, gctx := errgroup.WithContext(ctx)

	currentTTL := models.SlotEnd(now).Sub(now)
	g.Go(func() error {
		return c.kv.SetJSON(gctx, CurrentKey(record.Symbol), record, currentTTL)
	})
	g.Go(func() error {
		return c.kv.SetJSON(gctx, LastKnownKey(record.Symbol), record, lastKnownTTL)
	})

	for i, predicted := range record.Values {
		h := i + 1
		target := record.TargetTimestamp(h)
		point := models.ForecastPoint{
			Symbol:       record.Symbol,
			TargetTime:   target,
			PeriodsAhead: h,
			Predicted:    predicted,
			GeneratedAt:  record.GeneratedAt,
		}
		ttl := target.Add(pointGrace).Sub(now)
		g.Go(func() error {
			return c.kv.SetJSON(gctx, PointKey(record.Symbol, target, h), point, ttl)
		})
	}

	return g.Wait()
}
