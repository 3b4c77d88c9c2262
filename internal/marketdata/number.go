package marketdata

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexNumber decodes a JSON number or a numeric string. Providers mix both
// encodings for the same field.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = flexNumber(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = flexNumber(f)
	return nil
}

// num maps an absent value to zero.
func num(p *flexNumber) float64 {
	if p == nil {
		return 0
	}
	return float64(*p)
}

// numOrNil keeps an absent value absent.
func numOrNil(p *flexNumber) *float64 {
	if p == nil {
		return nil
	}
	f := float64(*p)
	return &f
}

// positiveOrNil treats zero as unknown, for providers that report missing
// caps as 0.
func positiveOrNil(f float64) *float64 {
	if f <= 0 {
		return nil
	}
	return &f
}

func count(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
