package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/utils"
)

// Oracle quotes swap output amounts for position sizing and valuation.
type Oracle interface {
	Quote(ctx context.Context, req QuoteRequest) (decimal.Decimal, error)
}

// QuoteRequest describes a swap to price. Amounts are in display units; the
// client converts to base units using the token decimals.
type QuoteRequest struct {
	TokenIn     string
	TokenOut    string
	AmountIn    decimal.Decimal
	DecimalsIn  int32
	DecimalsOut int32
}

type quoteResponse struct {
	OutAmount string `json:"out_amount"`
	Route     string `json:"route"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client queries the swap route service over HTTP. A best-route lookup is
// tried first; when the router has no route it falls back to a direct
// single-pool quote.
type Client struct {
	HTTPClient *http.Client
	baseURL    string
	logger     logging.Logger
}

// NewClient creates a swap oracle client.
func NewClient(cfg config.OracleConfig, logger logging.Logger) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.ServiceURL,
		logger:     logger.WithComponent("swap_oracle"),
	}
}

// Quote returns the display-unit output amount for swapping req.AmountIn of
// TokenIn into TokenOut. No retry: a stale quote is worse than a failed tick,
// so failures surface immediately.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (decimal.Decimal, error) {
	baseIn := ToBaseUnits(req.AmountIn, req.DecimalsIn)
	if !baseIn.IsPositive() {
		return decimal.Zero, utils.NewUpstreamError("oracle",
			fmt.Errorf("non-positive input amount %s", req.AmountIn))
	}

	query := url.Values{}
	query.Set("input_mint", req.TokenIn)
	query.Set("output_mint", req.TokenOut)
	query.Set("amount", baseIn.String())

	out, routeErr := c.fetchQuote(ctx, "/route", query)
	if routeErr != nil {
		c.logger.WithError(routeErr).Warn("Route lookup failed, falling back to single-pool quote",
			"token_in", req.TokenIn, "token_out", req.TokenOut)
		var poolErr error
		out, poolErr = c.fetchQuote(ctx, "/quote", query)
		if poolErr != nil {
			return decimal.Zero, utils.NewUpstreamError("oracle",
				fmt.Errorf("route failed (%v), single-pool failed: %w", routeErr, poolErr))
		}
	}

	return FromBaseUnits(out, req.DecimalsOut), nil
}

func (c *Client) fetchQuote(ctx context.Context, path string, query url.Values) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return decimal.Zero, fmt.Errorf("oracle error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return decimal.Zero, fmt.Errorf("oracle error (%d): %s", resp.StatusCode, string(body))
	}

	var quote quoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return decimal.Zero, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	out, err := decimal.NewFromString(quote.OutAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid out_amount %q: %w", quote.OutAmount, err)
	}
	if out.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative out_amount %s", out)
	}
	return out, nil
}

// ToBaseUnits converts a display amount into smallest-unit integer form.
// Always floors: committing dust the wallet does not hold would make every
// downstream balance check optimistic.
func ToBaseUnits(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Shift(decimals).Floor()
}

// FromBaseUnits converts a smallest-unit integer amount back to display units.
func FromBaseUnits(amount decimal.Decimal, decimals int32) decimal.Decimal {
	return amount.Shift(-decimals)
}

var _ Oracle = (*Client)(nil)
