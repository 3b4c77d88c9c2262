package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"vibe-trader/internal/domain"
)

const (
	defaultCodexURL = "https://graph.codex.io/graphql"
	solanaNetworkID = 1399811149
)

const filterTokensQuery = `query FilterTokens($phrase: String, $limit: Int, $filters: TokenFilters) {
  filterTokens(phrase: $phrase, limit: $limit, filters: $filters) {
    results {
      token { address name symbol }
      priceUSD liquidity marketCap circulatingMarketCap
      createdAt lastTransaction holders
      exchanges { name }
      pair { address }
      change5m change1 change4 change12 change24
      high24 low24
      volume5m volume1 volume4 volume12 volume24
      buyCount5m buyCount1 buyCount4 buyCount12 buyCount24 buyVolume24
      sellCount5m sellCount1 sellCount4 sellCount12 sellCount24 sellVolume24
      uniqueBuys24 uniqueSells24
      isScam
      sniperCount sniperHeldPercentage
      bundlerCount bundlerHeldPercentage
      insiderCount insiderHeldPercentage
      devHeldPercentage
      swapPct1dOldWallet swapPct7dOldWallet
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type filterTokensResponse struct {
	Data struct {
		FilterTokens struct {
			Results []*codexToken `json:"results"`
		} `json:"filterTokens"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type codexToken struct {
	Token *struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"token"`
	PriceUSD             *flexNumber `json:"priceUSD"`
	Liquidity            *flexNumber `json:"liquidity"`
	MarketCap            *flexNumber `json:"marketCap"`
	CirculatingMarketCap *flexNumber `json:"circulatingMarketCap"`
	CreatedAt            *int64      `json:"createdAt"`
	LastTransaction      *int64      `json:"lastTransaction"`
	Holders              *int64      `json:"holders"`
	Exchanges            []struct {
		Name string `json:"name"`
	} `json:"exchanges"`
	Pair *struct {
		Address string `json:"address"`
	} `json:"pair"`

	Change5m *flexNumber `json:"change5m"`
	Change1  *flexNumber `json:"change1"`
	Change4  *flexNumber `json:"change4"`
	Change12 *flexNumber `json:"change12"`
	Change24 *flexNumber `json:"change24"`
	High24   *flexNumber `json:"high24"`
	Low24    *flexNumber `json:"low24"`

	Volume5m *flexNumber `json:"volume5m"`
	Volume1  *flexNumber `json:"volume1"`
	Volume4  *flexNumber `json:"volume4"`
	Volume12 *flexNumber `json:"volume12"`
	Volume24 *flexNumber `json:"volume24"`

	BuyCount5m   *int64      `json:"buyCount5m"`
	BuyCount1    *int64      `json:"buyCount1"`
	BuyCount4    *int64      `json:"buyCount4"`
	BuyCount12   *int64      `json:"buyCount12"`
	BuyCount24   *int64      `json:"buyCount24"`
	BuyVolume24  *flexNumber `json:"buyVolume24"`
	SellCount5m  *int64      `json:"sellCount5m"`
	SellCount1   *int64      `json:"sellCount1"`
	SellCount4   *int64      `json:"sellCount4"`
	SellCount12  *int64      `json:"sellCount12"`
	SellCount24  *int64      `json:"sellCount24"`
	SellVolume24 *flexNumber `json:"sellVolume24"`
	UniqueBuys24 *int64      `json:"uniqueBuys24"`
	UniqueSells  *int64      `json:"uniqueSells24"`

	IsScam                *bool       `json:"isScam"`
	SniperCount           *int64      `json:"sniperCount"`
	SniperHeldPercentage  *flexNumber `json:"sniperHeldPercentage"`
	BundlerCount          *int64      `json:"bundlerCount"`
	BundlerHeldPercentage *flexNumber `json:"bundlerHeldPercentage"`
	InsiderCount          *int64      `json:"insiderCount"`
	InsiderHeldPercentage *flexNumber `json:"insiderHeldPercentage"`
	DevHeldPercentage     *flexNumber `json:"devHeldPercentage"`
	SwapPct1dOldWallet    *flexNumber `json:"swapPct1dOldWallet"`
	SwapPct7dOldWallet    *flexNumber `json:"swapPct7dOldWallet"`
}

// CodexClient queries the Codex GraphQL API. Codex reports risk signals
// that DexScreener does not, so it is the primary provider.
type CodexClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type CodexOption func(*CodexClient)

func WithCodexURL(url string) CodexOption {
	return func(c *CodexClient) {
		c.url = strings.TrimSpace(url)
	}
}

func WithCodexHTTPClient(httpClient *http.Client) CodexOption {
	return func(c *CodexClient) {
		c.httpClient = httpClient
	}
}

// WithCodexRateLimit throttles upstream calls. A nil limiter disables it.
func WithCodexRateLimit(l *rate.Limiter) CodexOption {
	return func(c *CodexClient) {
		c.limiter = l
	}
}

func NewCodexClient(apiKey string, opts ...CodexOption) (*CodexClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("marketdata: codex api key must not be empty")
	}
	c := &CodexClient{
		url:        defaultCodexURL,
		apiKey:     apiKey,
		httpClient: defaultHTTPClient(),
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.url == "" {
		c.url = defaultCodexURL
	}
	if c.httpClient == nil {
		c.httpClient = defaultHTTPClient()
	}
	return c, nil
}

func (c *CodexClient) Name() string { return "codex" }

// Token looks up an address. It returns nil without error when Codex has no
// data for it.
func (c *CodexClient) Token(ctx context.Context, address string) (*domain.Snapshot, error) {
	results, err := c.filterTokens(ctx, address, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	s := results[0].snapshot(address)
	return &s, nil
}

func (c *CodexClient) Search(ctx context.Context, query string, limit int) ([]domain.Snapshot, error) {
	results, err := c.filterTokens(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Snapshot, 0, len(results))
	for _, r := range results {
		out = append(out, r.snapshot(""))
	}
	return out, nil
}

func (c *CodexClient) filterTokens(ctx context.Context, phrase string, limit int) ([]*codexToken, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("marketdata: codex rate limit: %w", err)
		}
	}
	body, err := json.Marshal(graphQLRequest{
		Query: filterTokensQuery,
		Variables: map[string]any{
			"phrase":  phrase,
			"limit":   limit,
			"filters": map[string]any{"network": []int{solanaNetworkID}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marketdata: marshal codex request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("marketdata: create codex request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	raw, err := doRequest(c.httpClient, req)
	if err != nil {
		return nil, fmt.Errorf("marketdata: codex request failed: %w", err)
	}
	var payload filterTokensResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("marketdata: decode codex response: %w", err)
	}
	if len(payload.Errors) > 0 {
		return nil, fmt.Errorf("marketdata: codex error: %s", payload.Errors[0].Message)
	}
	results := make([]*codexToken, 0, len(payload.Data.FilterTokens.Results))
	for _, r := range payload.Data.FilterTokens.Results {
		if r != nil {
			results = append(results, r)
		}
	}
	return results, nil
}

// snapshot normalizes a Codex result. Codex reports price changes as
// fractions; the snapshot carries percentages.
func (t *codexToken) snapshot(fallbackAddress string) domain.Snapshot {
	s := domain.Snapshot{
		Address:              fallbackAddress,
		Name:                 "Unknown",
		Symbol:               "???",
		PriceUSD:             "0",
		Liquidity:            num(t.Liquidity),
		MarketCap:            numOrNil(t.MarketCap),
		CirculatingMarketCap: numOrNil(t.CirculatingMarketCap),
		PairCreatedAt:        unixOrNil(t.CreatedAt),
		LastTransaction:      unixOrNil(t.LastTransaction),
		DEX:                  "unknown",
		Holders:              t.Holders,

		PriceChange5m:  num(t.Change5m) * 100,
		PriceChange1h:  num(t.Change1) * 100,
		PriceChange4h:  num(t.Change4) * 100,
		PriceChange12h: num(t.Change12) * 100,
		PriceChange24h: num(t.Change24) * 100,
		High24h:        numOrNil(t.High24),
		Low24h:         numOrNil(t.Low24),

		Volume5m:  num(t.Volume5m),
		Volume1h:  num(t.Volume1),
		Volume4h:  num(t.Volume4),
		Volume12h: num(t.Volume12),
		Volume24h: num(t.Volume24),

		Buys5m:        count(t.BuyCount5m),
		Buys1h:        count(t.BuyCount1),
		Buys4h:        count(t.BuyCount4),
		Buys12h:       count(t.BuyCount12),
		Buys24h:       count(t.BuyCount24),
		BuyVolume24h:  num(t.BuyVolume24),
		Sells5m:       count(t.SellCount5m),
		Sells1h:       count(t.SellCount1),
		Sells4h:       count(t.SellCount4),
		Sells12h:      count(t.SellCount12),
		Sells24h:      count(t.SellCount24),
		SellVolume24h: num(t.SellVolume24),

		UniqueBuyers24h:  count(t.UniqueBuys24),
		UniqueSellers24h: count(t.UniqueSells),

		SniperCount:        count(t.SniperCount),
		SniperHeldPercent:  num(t.SniperHeldPercentage),
		BundlerCount:       count(t.BundlerCount),
		BundlerHeldPercent: num(t.BundlerHeldPercentage),
		InsiderCount:       count(t.InsiderCount),
		InsiderHeldPercent: num(t.InsiderHeldPercentage),
		DevHeldPercent:     num(t.DevHeldPercentage),
		NewWalletPercent1d: num(t.SwapPct1dOldWallet),
		NewWalletPercent7d: num(t.SwapPct7dOldWallet),
	}
	if t.Token != nil {
		if t.Token.Address != "" {
			s.Address = t.Token.Address
		}
		if t.Token.Name != "" {
			s.Name = t.Token.Name
		}
		if t.Token.Symbol != "" {
			s.Symbol = t.Token.Symbol
		}
	}
	if t.PriceUSD != nil {
		s.PriceUSD = formatRaw(float64(*t.PriceUSD))
	}
	if len(t.Exchanges) > 0 && t.Exchanges[0].Name != "" {
		s.DEX = t.Exchanges[0].Name
	}
	if t.Pair != nil {
		s.PairAddress = t.Pair.Address
	}
	if t.IsScam != nil {
		s.IsScam = *t.IsScam
	}
	return s
}

func unixOrNil(sec *int64) *time.Time {
	if sec == nil || *sec == 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
