package domain

import "github.com/shopspring/decimal"

// ExecutionResult is produced exactly once per successful swap.
type ExecutionResult struct {
	Signature    string
	TokenAddress string
	AmountSpent  decimal.Decimal
	AmountOut    decimal.Decimal
}

// PricePerToken is the implied unit price in the input denomination.
func (r ExecutionResult) PricePerToken() decimal.Decimal {
	if r.AmountOut.IsZero() {
		return decimal.Zero
	}
	return r.AmountSpent.Div(r.AmountOut)
}

// UnknownSymbol marks a trade whose display symbol has not been resolved yet.
const UnknownSymbol = "UNKNOWN"

// TradeRecord is the persisted projection of an ExecutionResult.
type TradeRecord struct {
	ID            string  `json:"id"`
	TokenAddress  string  `json:"tokenAddress"`
	TokenSymbol   string  `json:"tokenSymbol"`
	AmountSol     float64 `json:"amountSol"`
	AmountToken   float64 `json:"amountToken"`
	PricePerToken float64 `json:"pricePerToken"`
	Reasoning     string  `json:"reasoning"`
	TxSignature   string  `json:"txSignature"`
	Timestamp     string  `json:"timestamp"`
	UserID        string  `json:"userId,omitempty"`
	UserType      string  `json:"userType,omitempty"`
}

// IdentityClass determines which daily quota ceiling applies.
type IdentityClass string

const (
	IdentityUser      IdentityClass = "user"
	IdentityAnonymous IdentityClass = "ip"
)

// Identity is the caller a request is attributed to.
type Identity struct {
	ID    string
	Class IdentityClass
}
