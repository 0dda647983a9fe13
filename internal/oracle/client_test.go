package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/utils"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.OracleConfig{ServiceURL: server.URL}, logging.NewNopLogger())
}

func quoteReq(amount string) QuoteRequest {
	return QuoteRequest{
		TokenIn:     "USDC",
		TokenOut:    "SOL",
		AmountIn:    decimal.RequireFromString(amount),
		DecimalsIn:  6,
		DecimalsOut: 9,
	}
}

func TestClient_Quote_BestRoute(t *testing.T) {
	var gotPath, gotAmount string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAmount = r.URL.Query().Get("amount")
		assert.Equal(t, "USDC", r.URL.Query().Get("input_mint"))
		assert.Equal(t, "SOL", r.URL.Query().Get("output_mint"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"out_amount":"5000000000","route":"usdc-sol"}`))
	}))

	out, err := client.Quote(context.Background(), quoteReq("1000"))
	require.NoError(t, err)

	assert.Equal(t, "/route", gotPath)
	assert.Equal(t, "1000000000", gotAmount)
	// 5e9 base units at 9 decimals is 5 display units.
	assert.True(t, out.Equal(decimal.NewFromInt(5)), "got %s", out)
}

func TestClient_Quote_FloorsInputConversion(t *testing.T) {
	var gotAmount string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAmount = r.URL.Query().Get("amount")
		_, _ = w.Write([]byte(`{"out_amount":"1"}`))
	}))

	// 10.1234569 USDC at 6 decimals holds only 10123456 whole base units;
	// rounding up would commit funds that are not there.
	_, err := client.Quote(context.Background(), quoteReq("10.1234569"))
	require.NoError(t, err)
	assert.Equal(t, "10123456", gotAmount)
}

func TestClient_Quote_SinglePoolFallback(t *testing.T) {
	var paths []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/route" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no route found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"out_amount":"2500000000"}`))
	}))

	out, err := client.Quote(context.Background(), quoteReq("500"))
	require.NoError(t, err)

	assert.Equal(t, []string{"/route", "/quote"}, paths)
	assert.True(t, out.Equal(decimal.RequireFromString("2.5")), "got %s", out)
}

func TestClient_Quote_BothEndpointsFail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"pool unavailable"}`))
	}))

	_, err := client.Quote(context.Background(), quoteReq("100"))
	require.Error(t, err)

	var upstream *utils.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "oracle", upstream.Service)
	assert.Contains(t, err.Error(), "pool unavailable")
}

func TestClient_Quote_RejectsNonPositiveAmount(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := client.Quote(context.Background(), quoteReq("0"))
	assert.Error(t, err)

	// Sub-base-unit dust floors to zero and is rejected the same way.
	_, err = client.Quote(context.Background(), quoteReq("0.0000009"))
	assert.Error(t, err)
}

func TestClient_Quote_RejectsMalformedOutAmount(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"out_amount":"not-a-number"}`))
	}))

	_, err := client.Quote(context.Background(), quoteReq("100"))
	require.Error(t, err)
	var upstream *utils.UpstreamError
	assert.ErrorAs(t, err, &upstream)
}

func TestBaseUnitConversion(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		display := decimal.RequireFromString("123.456789")
		base := ToBaseUnits(display, 6)
		assert.Equal(t, "123456789", base.String())
		assert.True(t, FromBaseUnits(base, 6).Equal(display))
	})

	t.Run("floor never rounds up", func(t *testing.T) {
		base := ToBaseUnits(decimal.RequireFromString("0.9999999"), 6)
		assert.Equal(t, "999999", base.String())
	})
}
