package execution

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SOLDecimals is the fixed exponent between lamports and SOL.
const SOLDecimals int32 = 9

// ToLamports converts a SOL amount to lamports, rounding down.
func ToLamports(sol decimal.Decimal) uint64 {
	if !sol.IsPositive() {
		return 0
	}
	return uint64(sol.Shift(SOLDecimals).Floor().IntPart())
}

// FromSubunits parses an integer subunit string and scales it down by
// decimals.
func FromSubunits(raw string, decimals int32) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, errors.New("execution: empty amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("execution: parse amount %q: %w", raw, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("execution: amount %q is not an integer", raw)
	}
	return d.Shift(-decimals), nil
}
