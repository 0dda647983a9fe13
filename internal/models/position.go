package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the single open paper holding for a symbol. Absence of a stored
// Position means flat. Size is in base-asset units; EntryPrice is the
// oracle-implied execution price (quote amount / base amount) at full
// precision.
type Position struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Size           decimal.Decimal `json:"size"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	OpenedAt       time.Time       `json:"opened_at"`
	LastUpdateTime time.Time       `json:"last_update_time"`
	// Carried over from the persisted Stats record so running totals survive
	// across position lifetimes.
	CumulativePnl    decimal.Decimal `json:"cumulative_pnl"`
	SuccessfulTrades int             `json:"successful_trades"`
	TotalTrades      int             `json:"total_trades"`
}

// Cost returns the quote amount spent at entry (size x entry price).
func (p *Position) Cost() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}

// UnrealizedPnl values the position at price and returns the difference from
// entry cost.
func (p *Position) UnrealizedPnl(price decimal.Decimal) decimal.Decimal {
	return p.Size.Mul(price).Sub(p.Cost())
}

// ChangePct returns the percentage move of price against the entry price.
func (p *Position) ChangePct(price decimal.Decimal) float64 {
	if p.EntryPrice.IsZero() {
		return 0
	}
	pct, _ := price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// Stats is the per-symbol trading record that outlives individual positions.
type Stats struct {
	Symbol           string          `json:"symbol"`
	CumulativePnl    decimal.Decimal `json:"cumulative_pnl"`
	SuccessfulTrades int             `json:"successful_trades"`
	TotalTrades      int             `json:"total_trades"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// WinRate returns successful trades over total trades, zero when no trades
// have closed yet.
func (s *Stats) WinRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.SuccessfulTrades) / float64(s.TotalTrades)
}

// Balance is the single USDC-equivalent paper balance.
type Balance struct {
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}
