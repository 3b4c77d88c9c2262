package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"vibe-trader/internal/domain"
)

const defaultDexScreenerURL = "https://api.dexscreener.com/latest"

type dexPair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity *struct {
		USD flexNumber `json:"usd"`
	} `json:"liquidity"`
	FDV       flexNumber `json:"fdv"`
	MarketCap flexNumber `json:"marketCap"`
	Volume    struct {
		H24 flexNumber `json:"h24"`
		H1  flexNumber `json:"h1"`
		M5  flexNumber `json:"m5"`
	} `json:"volume"`
	PriceChange struct {
		H24 flexNumber `json:"h24"`
		H1  flexNumber `json:"h1"`
		M5  flexNumber `json:"m5"`
	} `json:"priceChange"`
	Txns struct {
		H24 dexTxns `json:"h24"`
		H1  dexTxns `json:"h1"`
		M5  dexTxns `json:"m5"`
	} `json:"txns"`
	PairCreatedAt int64 `json:"pairCreatedAt"`
}

type dexTxns struct {
	Buys  int64 `json:"buys"`
	Sells int64 `json:"sells"`
}

type dexResponse struct {
	Pairs []dexPair `json:"pairs"`
}

// DexScreenerClient reads the keyless DexScreener REST API.
type DexScreenerClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type DexScreenerOption func(*DexScreenerClient)

func WithDexScreenerURL(baseURL string) DexScreenerOption {
	return func(c *DexScreenerClient) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithDexScreenerHTTPClient(httpClient *http.Client) DexScreenerOption {
	return func(c *DexScreenerClient) {
		c.httpClient = httpClient
	}
}

func WithDexScreenerRateLimit(l *rate.Limiter) DexScreenerOption {
	return func(c *DexScreenerClient) {
		c.limiter = l
	}
}

func NewDexScreenerClient(opts ...DexScreenerOption) *DexScreenerClient {
	c := &DexScreenerClient{
		baseURL:    defaultDexScreenerURL,
		httpClient: defaultHTTPClient(),
		// DexScreener allows roughly 300 requests per minute.
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = defaultDexScreenerURL
	}
	if c.httpClient == nil {
		c.httpClient = defaultHTTPClient()
	}
	return c
}

func (c *DexScreenerClient) Name() string { return "dexscreener" }

// Token returns the highest-liquidity Solana pair for address.
func (c *DexScreenerClient) Token(ctx context.Context, address string) (*domain.Snapshot, error) {
	pairs, err := c.get(ctx, c.baseURL+"/dex/tokens/"+url.PathEscape(address))
	if err != nil {
		return nil, err
	}
	var best *dexPair
	for i := range pairs {
		if best == nil || pairs[i].liquidityUSD() > best.liquidityUSD() {
			best = &pairs[i]
		}
	}
	if best == nil {
		return nil, nil
	}
	s := best.snapshot()
	return &s, nil
}

func (c *DexScreenerClient) Search(ctx context.Context, query string, limit int) ([]domain.Snapshot, error) {
	pairs, err := c.get(ctx, c.baseURL+"/dex/search/?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	out := make([]domain.Snapshot, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.snapshot())
	}
	return out, nil
}

// get returns the Solana pairs of a DexScreener response.
func (c *DexScreenerClient) get(ctx context.Context, endpoint string) ([]dexPair, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("marketdata: dexscreener rate limit: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: create dexscreener request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	raw, err := doRequest(c.httpClient, req)
	if err != nil {
		return nil, fmt.Errorf("marketdata: dexscreener request failed: %w", err)
	}
	var payload dexResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("marketdata: decode dexscreener response: %w", err)
	}
	pairs := payload.Pairs[:0]
	for _, p := range payload.Pairs {
		if p.ChainID == "solana" {
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

func (p *dexPair) liquidityUSD() float64 {
	if p.Liquidity == nil {
		return 0
	}
	return float64(p.Liquidity.USD)
}

// snapshot normalizes a pair. DexScreener already reports percentages and
// uses 0 for unknown caps.
func (p *dexPair) snapshot() domain.Snapshot {
	s := domain.Snapshot{
		Address:        p.BaseToken.Address,
		Name:           p.BaseToken.Name,
		Symbol:         p.BaseToken.Symbol,
		PriceUSD:       p.PriceUSD,
		Liquidity:      p.liquidityUSD(),
		FDV:            positiveOrNil(float64(p.FDV)),
		MarketCap:      positiveOrNil(float64(p.MarketCap)),
		DEX:            p.DexID,
		PairAddress:    p.PairAddress,
		PriceChange5m:  float64(p.PriceChange.M5),
		PriceChange1h:  float64(p.PriceChange.H1),
		PriceChange24h: float64(p.PriceChange.H24),
		Volume5m:       float64(p.Volume.M5),
		Volume1h:       float64(p.Volume.H1),
		Volume24h:      float64(p.Volume.H24),
		Buys5m:         p.Txns.M5.Buys,
		Buys1h:         p.Txns.H1.Buys,
		Buys24h:        p.Txns.H24.Buys,
		Sells5m:        p.Txns.M5.Sells,
		Sells1h:        p.Txns.H1.Sells,
		Sells24h:       p.Txns.H24.Sells,
	}
	if s.PriceUSD == "" {
		s.PriceUSD = "0"
	}
	if p.PairCreatedAt > 0 {
		t := time.UnixMilli(p.PairCreatedAt).UTC()
		s.PairCreatedAt = &t
	}
	return s
}
