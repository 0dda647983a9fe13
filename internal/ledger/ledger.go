package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/models"
	"github.com/quantflow-ai/quantflow/internal/oracle"
	"github.com/quantflow-ai/quantflow/internal/store"
	"github.com/quantflow-ai/quantflow/internal/utils"
)

// BalanceKey is the single shared balance record.
const BalanceKey = "balance"

// PositionKey returns the storage key for a symbol's open position.
func PositionKey(symbol string) string {
	return fmt.Sprintf("position:%s", symbol)
}

// StatsKey returns the storage key for a symbol's trading statistics.
func StatsKey(symbol string) string {
	return fmt.Sprintf("stats:%s", symbol)
}

// Action is the transition a ledger call performed.
type Action string

const (
	ActionOpen  Action = "open"
	ActionHold  Action = "hold"
	ActionClose Action = "close"
	ActionNone  Action = "none"
)

// Close reasons.
const (
	ReasonBuySignal         = "buy_signal"
	ReasonSellSignal        = "sell_signal"
	ReasonStopLoss          = "stop_loss"
	ReasonTakeProfit        = "take_profit"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonNoSignal          = "no_signal"
	ReasonAlreadyLong       = "already_long"
)

// Outcome reports what a transition did, for logging and notifications.
type Outcome struct {
	Symbol   string
	Action   Action
	Reason   string
	Position *models.Position
	// Proceeds and RealizedPnl are set on close.
	Proceeds    decimal.Decimal
	RealizedPnl decimal.Decimal
}

// Ledger is the per-symbol flat/long paper-position state machine. All state
// lives in the key-value store; the ledger holds nothing across ticks.
type Ledger struct {
	kv        store.KVStore
	oracle    oracle.Oracle
	strategy  config.StrategyConfig
	oracleCfg config.OracleConfig
	logger    logging.Logger
	now       func() time.Time
}

// New creates a position ledger.
func New(kv store.KVStore, swapOracle oracle.Oracle, strategy config.StrategyConfig, oracleCfg config.OracleConfig, logger logging.Logger) *Ledger {
	return &Ledger{
		kv:        kv,
		oracle:    swapOracle,
		strategy:  strategy,
		oracleCfg: oracleCfg,
		logger:    logger.WithComponent("position_ledger"),
		now:       time.Now,
	}
}

// Position returns the open position for symbol, nil when flat.
func (l *Ledger) Position(ctx context.Context, symbol string) (*models.Position, error) {
	var pos models.Position
	found, err := l.kv.GetJSON(ctx, PositionKey(symbol), &pos)
	if err != nil {
		return nil, fmt.Errorf("failed to load position for %s: %w", symbol, err)
	}
	if !found {
		return nil, nil
	}
	return &pos, nil
}

// Stats returns the persisted trading statistics for symbol, zero-valued when
// none exist yet.
func (l *Ledger) Stats(ctx context.Context, symbol string) (*models.Stats, error) {
	stats := models.Stats{Symbol: symbol}
	if _, err := l.kv.GetJSON(ctx, StatsKey(symbol), &stats); err != nil {
		return nil, fmt.Errorf("failed to load stats for %s: %w", symbol, err)
	}
	stats.Symbol = symbol
	return &stats, nil
}

// Balance returns the paper balance, seeding the configured initial amount
// when no record exists.
func (l *Ledger) Balance(ctx context.Context) (models.Balance, error) {
	var bal models.Balance
	found, err := l.kv.GetJSON(ctx, BalanceKey, &bal)
	if err != nil {
		return models.Balance{}, fmt.Errorf("failed to load balance: %w", err)
	}
	if !found {
		bal = models.Balance{
			Amount:    decimal.NewFromFloat(l.strategy.InitialBalance),
			UpdatedAt: l.now(),
		}
	}
	return bal, nil
}

// EvaluateRisk checks stop-loss and take-profit against the price actually
// realizable at the oracle, not the indicator feed. When a limit is breached
// the position is closed with the same quote, so the valuation that triggered
// the exit is the one that prices it. Returns nil when no limit is hit.
//
// Callers run this before signal fusion and skip fusion when it closes.
func (l *Ledger) EvaluateRisk(ctx context.Context, symbol string) (*Outcome, error) {
	pos, err := l.Position(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, nil
	}

	proceeds, err := l.quoteClose(ctx, symbol, pos)
	if err != nil {
		return nil, &utils.TransitionAbortedError{Symbol: symbol, Transition: "risk_check", Err: err}
	}

	realizable := proceeds.Div(pos.Size)
	changePct := pos.ChangePct(realizable)

	var reason string
	switch {
	case changePct <= l.strategy.StopLossPct:
		reason = ReasonStopLoss
	case changePct >= l.strategy.TakeProfitPct:
		reason = ReasonTakeProfit
	default:
		return nil, nil
	}

	l.logger.WithSymbol(symbol).Warn("Risk limit breached, forcing close",
		"reason", reason, "change_pct", changePct,
		"entry_price", pos.EntryPrice.String(), "realizable_price", realizable.String())

	return l.close(ctx, symbol, pos, proceeds, reason)
}

// ApplyScore mutates position state according to the fused decision score.
func (l *Ledger) ApplyScore(ctx context.Context, symbol string, totalScore float64) (*Outcome, error) {
	pos, err := l.Position(ctx, symbol)
	if err != nil {
		return nil, err
	}

	log := l.logger.WithSymbol(symbol)

	if pos == nil {
		if totalScore > l.strategy.BuyThreshold {
			return l.open(ctx, symbol)
		}
		log.Debug("Flat, score below buy threshold", "score", totalScore)
		return &Outcome{Symbol: symbol, Action: ActionNone, Reason: ReasonNoSignal}, nil
	}

	if totalScore < l.strategy.SellThreshold {
		proceeds, err := l.quoteClose(ctx, symbol, pos)
		if err != nil {
			return nil, &utils.TransitionAbortedError{Symbol: symbol, Transition: "close", Err: err}
		}
		return l.close(ctx, symbol, pos, proceeds, ReasonSellSignal)
	}

	return l.hold(ctx, symbol, pos, totalScore)
}

// open deploys the entire balance into a new position. A non-positive balance
// is a logged no-op, not an error.
func (l *Ledger) open(ctx context.Context, symbol string) (*Outcome, error) {
	log := l.logger.WithSymbol(symbol)

	bal, err := l.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if !bal.Amount.IsPositive() {
		amount, _ := bal.Amount.Float64()
		log.Warn("Cannot open position", "error", (&utils.InsufficientFundsError{Symbol: symbol, Balance: amount}).Error())
		return &Outcome{Symbol: symbol, Action: ActionNone, Reason: ReasonInsufficientFunds}, nil
	}

	token, ok := l.oracleCfg.Token(symbol)
	if !ok {
		return nil, &utils.TransitionAbortedError{Symbol: symbol, Transition: "open",
			Err: fmt.Errorf("no token configured for symbol %s", symbol)}
	}

	size, err := l.oracle.Quote(ctx, oracle.QuoteRequest{
		TokenIn:     l.oracleCfg.QuoteToken,
		TokenOut:    token.Mint,
		AmountIn:    bal.Amount,
		DecimalsIn:  l.oracleCfg.QuoteDecimals,
		DecimalsOut: token.Decimals,
	})
	if err != nil {
		return nil, &utils.TransitionAbortedError{Symbol: symbol, Transition: "open", Err: err}
	}
	if !size.IsPositive() {
		return nil, &utils.TransitionAbortedError{Symbol: symbol, Transition: "open",
			Err: fmt.Errorf("oracle returned non-positive size %s", size)}
	}

	stats, err := l.Stats(ctx, symbol)
	if err != nil {
		return nil, err
	}

	now := l.now()
	pos := &models.Position{
		ID:               uuid.New().String(),
		Symbol:           symbol,
		Size:             size,
		EntryPrice:       bal.Amount.Div(size),
		OpenedAt:         now,
		LastUpdateTime:   now,
		CumulativePnl:    stats.CumulativePnl,
		SuccessfulTrades: stats.SuccessfulTrades,
		TotalTrades:      stats.TotalTrades,
	}

	if err := l.kv.SetJSON(ctx, PositionKey(symbol), pos, 0); err != nil {
		return nil, &utils.TransitionAbortedError{Symbol: symbol, Transition: "open", Err: err}
	}
	if err := l.kv.SetJSON(ctx, BalanceKey, models.Balance{Amount: decimal.Zero, UpdatedAt: now}, 0); err != nil {
		// Roll the position back so funds are not double-counted.
		_ = l.kv.Delete(ctx, PositionKey(symbol))
		return nil, &utils.TransitionAbortedError{Symbol: symbol, Transition: "open", Err: err}
	}

	log.Info("Opened position",
		"position_id", pos.ID, "size", pos.Size.String(),
		"entry_price", pos.EntryPrice.String(), "cost", bal.Amount.String())

	return &Outcome{Symbol: symbol, Action: ActionOpen, Reason: ReasonBuySignal, Position: pos}, nil
}

func (l *Ledger) hold(ctx context.Context, symbol string, pos *models.Position, totalScore float64) (*Outcome, error) {
	pos.LastUpdateTime = l.now()
	if err := l.kv.SetJSON(ctx, PositionKey(symbol), pos, 0); err != nil {
		return nil, fmt.Errorf("failed to refresh position for %s: %w", symbol, err)
	}

	l.logger.WithSymbol(symbol).Debug("Holding position",
		"position_id", pos.ID, "score", totalScore)

	reason := ReasonNoSignal
	if totalScore > l.strategy.BuyThreshold {
		reason = ReasonAlreadyLong
	}
	return &Outcome{Symbol: symbol, Action: ActionHold, Reason: reason, Position: pos}, nil
}

// close realizes the position at the quoted proceeds, folds the result into
// the symbol's statistics and credits the balance.
func (l *Ledger) close(ctx context.Context, symbol string, pos *models.Position, proceeds decimal.Decimal, reason string) (*Outcome, error) {
	pnl := proceeds.Sub(pos.Cost())
	now := l.now()

	stats := &models.Stats{
		Symbol:           symbol,
		CumulativePnl:    pos.CumulativePnl.Add(pnl),
		SuccessfulTrades: pos.SuccessfulTrades,
		TotalTrades:      pos.TotalTrades + 1,
		UpdatedAt:        now,
	}
	if pnl.IsPositive() {
		stats.SuccessfulTrades++
	}

	bal, err := l.Balance(ctx)
	if err != nil {
		return nil, err
	}
	bal.Amount = bal.Amount.Add(proceeds)
	bal.UpdatedAt = now

	if err := l.kv.SetJSON(ctx, StatsKey(symbol), stats, 0); err != nil {
		return nil, &utils.TransitionAbortedError{Symbol: symbol, Transition: "close", Err: err}
	}
	if err := l.kv.SetJSON(ctx, BalanceKey, bal, 0); err != nil {
		return nil, &utils.TransitionAbortedError{Symbol: symbol, Transition: "close", Err: err}
	}
	if err := l.kv.Delete(ctx, PositionKey(symbol)); err != nil {
		return nil, &utils.TransitionAbortedError{Symbol: symbol, Transition: "close", Err: err}
	}

	l.logger.WithSymbol(symbol).Info("Closed position",
		"position_id", pos.ID, "reason", reason,
		"proceeds", proceeds.String(), "pnl", pnl.String(),
		"cumulative_pnl", stats.CumulativePnl.String(),
		"win_rate", stats.WinRate())

	return &Outcome{
		Symbol:      symbol,
		Action:      ActionClose,
		Reason:      reason,
		Proceeds:    proceeds,
		RealizedPnl: pnl,
	}, nil
}

// quoteClose asks the oracle what selling the full position size yields in
// the quote asset.
func (l *Ledger) quoteClose(ctx context.Context, symbol string, pos *models.Position) (decimal.Decimal, error) {
	token, ok := l.oracleCfg.Token(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("no token configured for symbol %s", symbol)
	}
	return l.oracle.Quote(ctx, oracle.QuoteRequest{
		TokenIn:     token.Mint,
		TokenOut:    l.oracleCfg.QuoteToken,
		AmountIn:    pos.Size,
		DecimalsIn:  token.Decimals,
		DecimalsOut: l.oracleCfg.QuoteDecimals,
	})
}
