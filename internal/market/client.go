package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/models"
	"github.com/quantflow-ai/quantflow/internal/utils"
)

// Provider is the upstream indicator proxy. Each fetch may fail
// independently; callers isolate failures per indicator.
type Provider interface {
	FetchBulkIndicators(ctx context.Context, symbol string) (map[models.IndicatorKind]json.RawMessage, error)
	FetchDepth(ctx context.Context, symbol string) (json.RawMessage, error)
	FetchLiquidationZones(ctx context.Context, symbol string) (json.RawMessage, error)
}

type bulkResponse struct {
	Indicators map[models.IndicatorKind]json.RawMessage `json:"indicators"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client fetches indicator payloads from the market data proxy.
type Client struct {
	HTTPClient *http.Client
	baseURL    string
}

// NewClient creates an indicator proxy client.
func NewClient(cfg config.MarketConfig) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.ServiceURL,
	}
}

// FetchBulkIndicators returns the proxy's full indicator map for symbol.
// Candles, VWAP, ATR, bands, RSI and OBV usually arrive in one response;
// missing kinds can be derived locally from the candle history.
func (c *Client) FetchBulkIndicators(ctx context.Context, symbol string) (map[models.IndicatorKind]json.RawMessage, error) {
	var resp bulkResponse
	if err := c.get(ctx, fmt.Sprintf("/api/v1/indicators/%s", symbol), &resp); err != nil {
		return nil, utils.NewUpstreamError("indicators", err)
	}
	if len(resp.Indicators) == 0 {
		return nil, utils.NewUpstreamError("indicators", fmt.Errorf("empty indicator map for %s", symbol))
	}
	return resp.Indicators, nil
}

// FetchDepth returns aggregated order-book depth for symbol.
func (c *Client) FetchDepth(ctx context.Context, symbol string) (json.RawMessage, error) {
	var payload json.RawMessage
	if err := c.get(ctx, fmt.Sprintf("/api/v1/depth/%s", symbol), &payload); err != nil {
		return nil, utils.NewUpstreamError("depth", err)
	}
	return payload, nil
}

// FetchLiquidationZones returns the liquidation-zone estimate for symbol.
func (c *Client) FetchLiquidationZones(ctx context.Context, symbol string) (json.RawMessage, error) {
	var payload json.RawMessage
	if err := c.get(ctx, fmt.Sprintf("/api/v1/liquidations/%s", symbol), &payload); err != nil {
		return nil, utils.NewUpstreamError("liquidations", err)
	}
	return payload, nil
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("indicator proxy error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("indicator proxy error (%d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

var _ Provider = (*Client)(nil)
