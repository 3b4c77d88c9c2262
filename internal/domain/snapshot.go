package domain

import "time"

// Snapshot is a point-in-time structured read of a token's market state.
// Pointer fields are nil when the provider did not report them, which is
// different from a reported zero.
type Snapshot struct {
	Address              string     `json:"address"`
	Name                 string     `json:"name"`
	Symbol               string     `json:"symbol"`
	PriceUSD             string     `json:"priceUsd"`
	Liquidity            float64    `json:"liquidity"`
	FDV                  *float64   `json:"fdv"`
	MarketCap            *float64   `json:"marketCap"`
	CirculatingMarketCap *float64   `json:"circulatingMarketCap"`
	PairCreatedAt        *time.Time `json:"pairCreatedAt"`
	LastTransaction      *time.Time `json:"lastTransaction"`
	DEX                  string     `json:"dex"`
	PairAddress          string     `json:"pairAddress"`
	Holders              *int64     `json:"holders,omitempty"`

	PriceChange5m  float64 `json:"priceChange5m"`
	PriceChange1h  float64 `json:"priceChange1h"`
	PriceChange4h  float64 `json:"priceChange4h"`
	PriceChange12h float64 `json:"priceChange12h"`
	PriceChange24h float64 `json:"priceChange24h"`

	High24h *float64 `json:"high24h"`
	Low24h  *float64 `json:"low24h"`

	Volume5m  float64 `json:"volume5m"`
	Volume1h  float64 `json:"volume1h"`
	Volume4h  float64 `json:"volume4h"`
	Volume12h float64 `json:"volume12h"`
	Volume24h float64 `json:"volume24h"`

	Buys5m       int64   `json:"buys5m"`
	Buys1h       int64   `json:"buys1h"`
	Buys4h       int64   `json:"buys4h"`
	Buys12h      int64   `json:"buys12h"`
	Buys24h      int64   `json:"buys24h"`
	BuyVolume24h float64 `json:"buyVolume24h"`

	Sells5m       int64   `json:"sells5m"`
	Sells1h       int64   `json:"sells1h"`
	Sells4h       int64   `json:"sells4h"`
	Sells12h      int64   `json:"sells12h"`
	Sells24h      int64   `json:"sells24h"`
	SellVolume24h float64 `json:"sellVolume24h"`

	UniqueBuyers24h  int64 `json:"uniqueBuyers24h"`
	UniqueSellers24h int64 `json:"uniqueSellers24h"`

	IsScam             bool    `json:"isScam"`
	SniperCount        int64   `json:"sniperCount"`
	SniperHeldPercent  float64 `json:"sniperHeldPercent"`
	BundlerCount       int64   `json:"bundlerCount"`
	BundlerHeldPercent float64 `json:"bundlerHeldPercent"`
	InsiderCount       int64   `json:"insiderCount"`
	InsiderHeldPercent float64 `json:"insiderHeldPercent"`
	DevHeldPercent     float64 `json:"devHeldPercent"`
	NewWalletPercent1d float64 `json:"newWalletPercent1d"`
	NewWalletPercent7d float64 `json:"newWalletPercent7d"`
}

// TokenPreview is the compact snapshot view sent to the web client.
type TokenPreview struct {
	Address        string   `json:"address"`
	Name           string   `json:"name"`
	Symbol         string   `json:"symbol"`
	PriceUSD       string   `json:"priceUsd"`
	Liquidity      float64  `json:"liquidity"`
	MarketCap      *float64 `json:"marketCap"`
	Volume24h      float64  `json:"volume24h"`
	PriceChange24h float64  `json:"priceChange24h"`
	Holders        *int64   `json:"holders,omitempty"`
	Age            string   `json:"age"`
}
