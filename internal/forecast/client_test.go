package forecast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/models"
	"github.com/quantflow-ai/quantflow/internal/utils"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClient(config.ForecastConfig{ServiceURL: server.URL, Timeout: 5 * time.Second})
	return client, server
}

func TestClient_Forecast(t *testing.T) {
	var gotReq ForecastRequest
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/forecast", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := ForecastResponse{
			Values: []float64{101, 102, 103},
			Usage:  ForecastUsage{ModelID: "ts-v2", ElapsedMs: 120},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})
	defer server.Close()

	req := &ForecastRequest{
		Symbol:        "SOL/USDC",
		Target:        []float64{99, 100},
		Features:      [][]float64{{1, 2}},
		FeatureNames:  []string{"open"},
		SchemaVersion: "v1",
		Horizon:       3,
	}
	resp, err := client.Forecast(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []float64{101, 102, 103}, resp.Values)
	assert.Equal(t, "ts-v2", resp.Usage.ModelID)
	assert.Equal(t, "SOL/USDC", gotReq.Symbol)
	assert.Equal(t, 3, gotReq.Horizon)
}

func TestClient_Forecast_ServiceError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "model overloaded"})
	})
	defer server.Close()

	_, err := client.Forecast(context.Background(), &ForecastRequest{Symbol: "SOL/USDC", Horizon: 3})
	require.Error(t, err)
	assert.True(t, utils.IsUpstreamError(err))
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestClient_Forecast_HorizonMismatch(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ForecastResponse{Values: []float64{1, 2}})
	})
	defer server.Close()

	_, err := client.Forecast(context.Background(), &ForecastRequest{Symbol: "SOL/USDC", Horizon: 12})
	require.Error(t, err)
	assert.True(t, utils.IsUpstreamError(err))
}

func TestClient_Forecast_ConnectionRefused(t *testing.T) {
	client := NewClient(config.ForecastConfig{ServiceURL: "http://127.0.0.1:1", Timeout: time.Second})

	_, err := client.Forecast(context.Background(), &ForecastRequest{Symbol: "SOL/USDC", Horizon: 1})
	require.Error(t, err)
	assert.True(t, utils.IsUpstreamError(err))
}

func TestNewRequestFromDataset(t *testing.T) {
	ds := &models.AlignedDataset{
		Symbol:        "SOL/USDC",
		SchemaVersion: models.FeatureSchemaVersion,
		Target:        []float64{100, 101},
		Features:      make([][]float64, len(models.FeatureNames)),
	}

	req := NewRequestFromDataset(ds, 12)
	assert.Equal(t, "SOL/USDC", req.Symbol)
	assert.Equal(t, 12, req.Horizon)
	assert.Equal(t, models.FeatureNames, req.FeatureNames)
	assert.Equal(t, ds.Target, req.Target)
}
