package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/models"
	"github.com/quantflow-ai/quantflow/internal/utils"
)

// Predictor is the black-box multi-step time-series forecasting service.
type Predictor interface {
	Forecast(ctx context.Context, req *ForecastRequest) (*ForecastResponse, error)
}

// ForecastRequest carries the aligned series and the requested horizon.
type ForecastRequest struct {
	Symbol string `json:"symbol"`
	// Target is the closing-price series, oldest first.
	Target []float64 `json:"target"`
	// Features is the exogenous matrix, field-major, same length per row.
	Features [][]float64 `json:"features"`
	// FeatureNames documents the schema; the service validates it against
	// the layout its model was trained on.
	FeatureNames  []string `json:"feature_names"`
	SchemaVersion string   `json:"schema_version"`
	Horizon       int      `json:"horizon"`
}

// ForecastResponse is the service reply: one predicted value per horizon step
// plus usage metadata.
type ForecastResponse struct {
	Values []float64     `json:"values"`
	Usage  ForecastUsage `json:"usage"`
}

// ForecastUsage is the metadata block returned with each prediction.
type ForecastUsage struct {
	ModelID   string `json:"model_id"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// ErrorResponse is the service error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Client is the HTTP client for the forecasting service.
type Client struct {
	HTTPClient *http.Client
	baseURL    string
}

// NewClient creates a forecasting service client.
func NewClient(cfg config.ForecastConfig) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.ServiceURL,
	}
}

// Forecast requests a multi-step prediction. No internal retry: the caller
// decides whether a failed tick is retried on the next schedule.
func (c *Client) Forecast(ctx context.Context, req *ForecastRequest) (*ForecastResponse, error) {
	var resp ForecastResponse
	if err := c.makeRequest(ctx, http.MethodPost, "/forecast", req, &resp); err != nil {
		return nil, utils.NewUpstreamError("forecast", err)
	}
	if len(resp.Values) != req.Horizon {
		return nil, utils.NewUpstreamError("forecast",
			fmt.Errorf("expected %d horizon values, got %d", req.Horizon, len(resp.Values)))
	}
	return &resp, nil
}

// NewRequestFromDataset assembles a ForecastRequest from an aligned dataset.
func NewRequestFromDataset(ds *models.AlignedDataset, horizon int) *ForecastRequest {
	return &ForecastRequest{
		Symbol:        ds.Symbol,
		Target:        ds.Target,
		Features:      ds.Features,
		FeatureNames:  models.FeatureNames,
		SchemaVersion: ds.SchemaVersion,
		Horizon:       horizon,
	}
}

func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errorResp ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != "" {
			return fmt.Errorf("forecast service error (%d): %s", resp.StatusCode, errorResp.Error)
		}
		return fmt.Errorf("forecast service error (%d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

var _ Predictor = (*Client)(nil)
