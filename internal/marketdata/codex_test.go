package marketdata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newCodexServer(t *testing.T, body string, check func(*http.Request, graphQLRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req graphQLRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		if check != nil {
			check(r, req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewCodexClient_EmptyKey(t *testing.T) {
	_, err := NewCodexClient("  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestCodexToken_NormalizesEncodings(t *testing.T) {
	body := `{"data":{"filterTokens":{"results":[{
		"token":{"address":"` + wsol + `","name":"Wrapped SOL","symbol":"SOL"},
		"priceUSD":"142.5",
		"liquidity":"1500000",
		"marketCap":null,
		"circulatingMarketCap":"65000000000",
		"createdAt":1700000000,
		"holders":1234,
		"exchanges":[{"name":"Raydium"}],
		"pair":{"address":"pair123"},
		"change5m":"0.01","change1":-0.02,"change24":"0.125",
		"high24":150,"low24":"130.5",
		"volume24":"2500000","volume1":12000,
		"buyCount24":300,"sellCount24":150,
		"uniqueBuys24":120,"uniqueSells24":80,
		"isScam":false,
		"sniperCount":3,"sniperHeldPercentage":1.5,
		"swapPct1dOldWallet":"12.5"
	}]}}}`

	srv := newCodexServer(t, body, func(r *http.Request, req graphQLRequest) {
		require.Equal(t, "test-key", r.Header.Get("Authorization"))
		require.Equal(t, wsol, req.Variables["phrase"])
		require.EqualValues(t, 1, req.Variables["limit"])
		filters, ok := req.Variables["filters"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, []any{float64(solanaNetworkID)}, filters["network"])
	})

	c, err := NewCodexClient("test-key", WithCodexURL(srv.URL), WithCodexRateLimit(nil))
	require.NoError(t, err)

	snap, err := c.Token(context.Background(), wsol)
	require.NoError(t, err)
	require.NotNil(t, snap)

	require.Equal(t, wsol, snap.Address)
	require.Equal(t, "SOL", snap.Symbol)
	require.Equal(t, "142.5", snap.PriceUSD)
	require.Equal(t, 1500000.0, snap.Liquidity)
	require.Nil(t, snap.MarketCap)
	require.NotNil(t, snap.CirculatingMarketCap)
	require.Equal(t, 65000000000.0, *snap.CirculatingMarketCap)
	require.NotNil(t, snap.PairCreatedAt)
	require.True(t, snap.PairCreatedAt.Equal(time.Unix(1700000000, 0)))
	require.Nil(t, snap.LastTransaction)
	require.EqualValues(t, 1234, *snap.Holders)
	require.Equal(t, "Raydium", snap.DEX)
	require.Equal(t, "pair123", snap.PairAddress)
	require.InDelta(t, 1.0, snap.PriceChange5m, 1e-9)
	require.InDelta(t, -2.0, snap.PriceChange1h, 1e-9)
	require.InDelta(t, 12.5, snap.PriceChange24h, 1e-9)
	require.Zero(t, snap.PriceChange4h)
	require.Equal(t, 150.0, *snap.High24h)
	require.Equal(t, 130.5, *snap.Low24h)
	require.Equal(t, 2500000.0, snap.Volume24h)
	require.Zero(t, snap.Volume5m)
	require.EqualValues(t, 300, snap.Buys24h)
	require.EqualValues(t, 80, snap.UniqueSellers24h)
	require.EqualValues(t, 3, snap.SniperCount)
	require.Equal(t, 12.5, snap.NewWalletPercent1d)
}

func TestCodexToken_Defaults(t *testing.T) {
	srv := newCodexServer(t, `{"data":{"filterTokens":{"results":[{"liquidity":null}]}}}`, nil)
	c, err := NewCodexClient("k", WithCodexURL(srv.URL), WithCodexRateLimit(nil))
	require.NoError(t, err)

	snap, err := c.Token(context.Background(), wsol)
	require.NoError(t, err)
	require.Equal(t, wsol, snap.Address, "falls back to the requested address")
	require.Equal(t, "Unknown", snap.Name)
	require.Equal(t, "???", snap.Symbol)
	require.Equal(t, "0", snap.PriceUSD)
	require.Equal(t, "unknown", snap.DEX)
	require.Nil(t, snap.Holders)
}

func TestCodexToken_NoResults(t *testing.T) {
	srv := newCodexServer(t, `{"data":{"filterTokens":{"results":[]}}}`, nil)
	c, err := NewCodexClient("k", WithCodexURL(srv.URL), WithCodexRateLimit(nil))
	require.NoError(t, err)

	snap, err := c.Token(context.Background(), wsol)
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestCodexToken_GraphQLError(t *testing.T) {
	srv := newCodexServer(t, `{"errors":[{"message":"unauthorized"}]}`, nil)
	c, err := NewCodexClient("k", WithCodexURL(srv.URL), WithCodexRateLimit(nil))
	require.NoError(t, err)

	_, err = c.Token(context.Background(), wsol)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unauthorized")
}

func TestCodexToken_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c, err := NewCodexClient("k", WithCodexURL(srv.URL), WithCodexRateLimit(nil))
	require.NoError(t, err)

	_, err = c.Token(context.Background(), wsol)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
}

func TestCodexSearch_SkipsNullResults(t *testing.T) {
	body := `{"data":{"filterTokens":{"results":[
		{"token":{"address":"a1","name":"One","symbol":"ONE"}},
		null,
		{"token":{"address":"a2","name":"Two","symbol":"TWO"}}
	]}}}`
	srv := newCodexServer(t, body, func(_ *http.Request, req graphQLRequest) {
		require.EqualValues(t, 5, req.Variables["limit"])
	})
	c, err := NewCodexClient("k", WithCodexURL(srv.URL), WithCodexRateLimit(nil))
	require.NoError(t, err)

	results, err := c.Search(context.Background(), "bonk", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "ONE", results[0].Symbol)
	require.Equal(t, "a2", results[1].Address)
}
