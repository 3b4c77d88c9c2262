package marketdata

import "regexp"

var (
	// Base58 alphabet (no 0, O, I, l), 32 to 44 characters.
	addressPattern = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)
	fullAddress    = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	symbolPattern  = regexp.MustCompile(`\$([A-Za-z0-9]{2,10})\b`)
)

// ExtractAddress returns the first Solana-shaped address in text, or "".
func ExtractAddress(text string) string {
	return addressPattern.FindString(text)
}

// IsAddress reports whether s is exactly one Solana-shaped address.
func IsAddress(s string) bool {
	return fullAddress.MatchString(s)
}

// ExtractSymbol returns the first $SYMBOL mention without the dollar sign.
func ExtractSymbol(text string) string {
	m := symbolPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}
