package domain

// TokenEventType enumerates the lifecycle events pushed to live observers.
type TokenEventType string

const (
	TokenPitched  TokenEventType = "pitched"
	TokenRejected TokenEventType = "rejected"
	TokenBought   TokenEventType = "bought"
)

// TokenEvent is the wire shape of the live event feed. Reason is only set
// for rejected events; the amount fields only for bought events.
type TokenEvent struct {
	Type         TokenEventType `json:"type"`
	Timestamp    int64          `json:"timestamp"`
	TokenAddress string         `json:"tokenAddress"`
	Symbol       string         `json:"symbol"`
	Name         string         `json:"name"`
	PriceUSD     string         `json:"priceUsd"`
	MarketCap    *float64       `json:"marketCap"`
	Liquidity    float64        `json:"liquidity"`
	Reason       string         `json:"reason,omitempty"`
	AmountSol    float64        `json:"amountSol,omitempty"`
	AmountToken  float64        `json:"amountToken,omitempty"`
	TxSignature  string         `json:"txSignature,omitempty"`
}
