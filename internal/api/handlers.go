package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/quantflow-ai/quantflow/internal/forecast"
	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/models"
	"github.com/quantflow-ai/quantflow/internal/services"
	"github.com/quantflow-ai/quantflow/internal/store"
	"github.com/quantflow-ai/quantflow/internal/utils"
)

const defaultHistoryLimit = 50

// Ticker runs one engine cycle for a symbol.
type Ticker interface {
	Tick(ctx context.Context, symbol string) (*services.TickResult, error)
}

// LedgerReader is the read-only ledger surface exposed over HTTP.
type LedgerReader interface {
	Position(ctx context.Context, symbol string) (*models.Position, error)
	Stats(ctx context.Context, symbol string) (*models.Stats, error)
	Balance(ctx context.Context) (models.Balance, error)
}

// Handlers serves the read-only state queries and the tick trigger.
type Handlers struct {
	snapshots services.SnapshotStore
	kv        store.KVStore
	positions LedgerReader
	engine    Ticker
	logger    logging.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(snapshots services.SnapshotStore, kv store.KVStore, positions LedgerReader, engine Ticker, logger logging.Logger) *Handlers {
	return &Handlers{
		snapshots: snapshots,
		kv:        kv,
		positions: positions,
		engine:    engine,
		logger:    logger.WithComponent("api"),
	}
}

// GetLatestIndicator returns the most recent snapshot of one indicator.
func (h *Handlers) GetLatestIndicator(c *gin.Context) {
	symbol := c.Param("symbol")
	kind := models.IndicatorKind(c.Query("indicator"))
	if kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "indicator query parameter is required"})
		return
	}

	snap, err := h.snapshots.Latest(c.Request.Context(), symbol, kind)
	if err != nil {
		h.serverError(c, err)
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for " + symbol + "/" + string(kind)})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetIndicatorHistory returns recent snapshots of one indicator, newest
// first.
func (h *Handlers) GetIndicatorHistory(c *gin.Context) {
	symbol := c.Param("symbol")
	kind := models.IndicatorKind(c.Query("indicator"))
	if kind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "indicator query parameter is required"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	snaps, err := h.snapshots.History(c.Request.Context(), symbol, kind, limit)
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "indicator": kind, "snapshots": snaps})
}

// GetForecast returns the cached forecast: the current slot's entry when
// live, otherwise the last-known-good record.
func (h *Handlers) GetForecast(c *gin.Context) {
	symbol := c.Param("symbol")
	ctx := c.Request.Context()

	var rec models.ForecastRecord
	found, err := h.kv.GetJSON(ctx, forecast.CurrentKey(symbol), &rec)
	if err != nil {
		h.serverError(c, err)
		return
	}
	if !found {
		found, err = h.kv.GetJSON(ctx, forecast.LastKnownKey(symbol), &rec)
		if err != nil {
			h.serverError(c, err)
			return
		}
		rec.Cached = true
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no forecast for " + symbol})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetAccuracy returns the most recent forecast accuracy report.
func (h *Handlers) GetAccuracy(c *gin.Context) {
	symbol := c.Param("symbol")

	var report models.AccuracyReport
	found, err := h.kv.GetJSON(c.Request.Context(), forecast.AccuracyKey(symbol), &report)
	if err != nil {
		h.serverError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no accuracy report for " + symbol})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetPosition returns the open position with an unrealized PnL valuation at
// the latest stored close.
func (h *Handlers) GetPosition(c *gin.Context) {
	symbol := c.Param("symbol")
	ctx := c.Request.Context()

	pos, err := h.positions.Position(ctx, symbol)
	if err != nil {
		h.serverError(c, err)
		return
	}
	if pos == nil {
		c.JSON(http.StatusOK, gin.H{"symbol": symbol, "state": "flat"})
		return
	}

	resp := gin.H{"symbol": symbol, "state": "long", "position": pos}
	if price, ok := h.latestClose(ctx, symbol); ok {
		resp["mark_price"] = price
		resp["unrealized_pnl"] = pos.UnrealizedPnl(price)
		resp["change_pct"] = pos.ChangePct(price)
	}
	c.JSON(http.StatusOK, resp)
}

// GetStats returns per-symbol trade statistics.
func (h *Handlers) GetStats(c *gin.Context) {
	symbol := c.Param("symbol")

	stats, err := h.positions.Stats(c.Request.Context(), symbol)
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "win_rate": stats.WinRate()})
}

// GetBalance returns the paper balance.
func (h *Handlers) GetBalance(c *gin.Context) {
	bal, err := h.positions.Balance(c.Request.Context())
	if err != nil {
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// TriggerTick runs one full engine cycle for a symbol.
func (h *Handlers) TriggerTick(c *gin.Context) {
	symbol := c.Param("symbol")

	result, err := h.engine.Tick(c.Request.Context(), symbol)
	if err != nil {
		if utils.IsUpstreamError(err) || utils.IsTransitionAbortedError(err) {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		h.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) latestClose(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	snap, err := h.snapshots.Latest(ctx, symbol, models.IndicatorCandles)
	if err != nil || snap == nil {
		return decimal.Zero, false
	}
	payload, err := models.DecodeIndicatorPayload(models.IndicatorCandles, snap.Payload)
	if err != nil {
		return decimal.Zero, false
	}
	candle, ok := payload.(models.CandlePayload)
	if !ok || !models.IsFinite(candle.Close) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(candle.Close), true
}

func (h *Handlers) serverError(c *gin.Context, err error) {
	h.logger.WithError(err).Error("Request failed", "path", c.FullPath())
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
