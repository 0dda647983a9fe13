package forecast

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/models"
	"github.com/quantflow-ai/quantflow/internal/store"
)

const accuracyKeyPrefix = "accuracy:"

// AccuracyKey returns the KV key of the latest accuracy report for a symbol.
func AccuracyKey(symbol string) string {
	return accuracyKeyPrefix + symbol
}

// Tracker matches observed closing prices against previously persisted
// per-horizon forecast points and aggregates error metrics.
//
// Strictly diagnostic: nothing here may block ingestion or trading, so every
// failure is logged and swallowed.
type Tracker struct {
	kv     store.KVStore
	logger logging.Logger
	now    func() time.Time
}

// NewTracker creates an accuracy tracker.
func NewTracker(kv store.KVStore, logger logging.Logger) *Tracker {
	return &Tracker{
		kv:     kv,
		logger: logger.WithComponent("accuracy_tracker"),
		now:    time.Now,
	}
}

// CheckAccuracy scores every stored forecast point targeting the slot of
// timestamp against actualClose. Returns nil when no points exist or on any
// storage failure; never returns an error.
func (t *Tracker) CheckAccuracy(ctx context.Context, symbol string, actualClose float64, timestamp time.Time) *models.AccuracyReport {
	log := t.logger.WithSymbol(symbol)
	slot := models.GridSlot(timestamp)

	keys, err := t.kv.Keys(ctx, PointPrefix(symbol, slot))
	if err != nil {
		log.WithError(err).Warn("Failed to list forecast points")
		return nil
	}
	if len(keys) == 0 {
		return nil
	}

	var points []models.ForecastPoint
	for _, key := range keys {
		var point models.ForecastPoint
		found, err := t.kv.GetJSON(ctx, key, &point)
		if err != nil {
			log.WithError(err).Warn("Failed to load forecast point", "key", key)
			continue
		}
		if !found {
			// Expired between the scan and the read.
			continue
		}
		points = append(points, point)
	}
	if len(points) == 0 {
		return nil
	}

	sort.Slice(points, func(i, j int) bool { return points[i].PeriodsAhead < points[j].PeriodsAhead })

	report := score(symbol, actualClose, slot, points, t.now())

	if err := t.kv.SetJSON(ctx, AccuracyKey(symbol), report, lastKnownTTL); err != nil {
		log.WithError(err).Warn("Failed to persist accuracy report")
	}

	log.Info("Forecast accuracy",
		"horizons", len(report.Horizons), "mae", report.MAE, "mape", report.MAPE,
		"r2", report.R2, "degenerate", report.Degenerate)
	return report
}

// score computes the aggregate error metrics.
//
// R2 is 1 - ssRes/ssTot with the observed actual as the reference mean for
// the total sum of squares. That is not classical R2, but historical metrics
// were logged with this formula and it stays for comparability. When every
// prediction equals the actual, ssTot is zero and R2 is reported as NaN with
// the Degenerate flag set instead of dividing by zero.
func score(symbol string, actual float64, slot time.Time, points []models.ForecastPoint, checkedAt time.Time) *models.AccuracyReport {
	report := &models.AccuracyReport{
		Symbol:    symbol,
		Timestamp: slot,
		Actual:    actual,
		CheckedAt: checkedAt,
	}

	var sumAbs, sumAbsPct, ssRes, ssTot float64
	for _, p := range points {
		signed := p.Predicted - actual
		abs := math.Abs(signed)
		absPct := math.Abs(signed/actual) * 100

		report.Horizons = append(report.Horizons, models.HorizonError{
			PeriodsAhead: p.PeriodsAhead,
			Predicted:    p.Predicted,
			Actual:       actual,
			Error:        signed,
			AbsError:     abs,
			AbsPctError:  absPct,
		})

		sumAbs += abs
		sumAbsPct += absPct
		ssRes += signed * signed
		ssTot += (p.Predicted - actual) * (p.Predicted - actual)
	}

	n := float64(len(points))
	report.MAE = sumAbs / n
	report.MAPE = sumAbsPct / n

	if ssTot == 0 {
		report.Degenerate = true
	} else {
		r2 := 1 - ssRes/ssTot
		report.R2 = &r2
	}
	return report
}
