package marketdata

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vibe-trader/internal/domain"
)

var smallPrice = regexp.MustCompile(`^0\.(0*)([1-9]\d*)`)

// Format renders a snapshot for the model's context. The output depends only
// on s and now.
func Format(s domain.Snapshot, now time.Time) string {
	age := "Unknown age"
	if s.PairCreatedAt != nil {
		age = formatAge(*s.PairCreatedAt, now)
	}

	lines := []string{
		fmt.Sprintf("=== %s (%s) ===", s.Name, s.Symbol),
		"Address: " + s.Address,
		"Price: $" + formatPrice(s.PriceUSD),
	}
	if s.IsScam {
		lines = append(lines, "!! FLAGGED AS SCAM !!")
	}

	lines = append(lines,
		"",
		"-- Price Changes --",
		fmt.Sprintf("5m: %s | 1h: %s | 4h: %s | 12h: %s | 24h: %s",
			formatChange(s.PriceChange5m), formatChange(s.PriceChange1h), formatChange(s.PriceChange4h),
			formatChange(s.PriceChange12h), formatChange(s.PriceChange24h)),
	)
	if s.High24h != nil && s.Low24h != nil && *s.High24h != 0 && *s.Low24h != 0 {
		lines = append(lines, fmt.Sprintf("24h Range: $%s - $%s", formatPrice(formatRaw(*s.Low24h)), formatPrice(formatRaw(*s.High24h))))
	}

	lines = append(lines,
		"",
		"-- Market Stats --",
		"Liquidity: $"+formatNumber(s.Liquidity),
		"Market Cap: "+dollarsOrNA(s.MarketCap),
	)
	if s.FDV != nil && *s.FDV != 0 {
		lines = append(lines, "FDV: $"+formatNumber(*s.FDV))
	}
	if s.CirculatingMarketCap != nil && *s.CirculatingMarketCap != 0 {
		lines = append(lines, "Circulating MCap: $"+formatNumber(*s.CirculatingMarketCap))
	}
	if s.Holders != nil && *s.Holders != 0 {
		lines = append(lines, "Holders: "+groupThousands(strconv.FormatInt(*s.Holders, 10)))
	}

	lines = append(lines,
		"",
		"-- Volume --",
		fmt.Sprintf("5m: $%s | 1h: $%s | 4h: $%s | 24h: $%s",
			formatNumber(s.Volume5m), formatNumber(s.Volume1h), formatNumber(s.Volume4h), formatNumber(s.Volume24h)),
		"",
		"-- Trading Activity (24h) --",
		fmt.Sprintf("Buys: %d (%d unique) | Volume: $%s", s.Buys24h, s.UniqueBuyers24h, formatNumber(s.BuyVolume24h)),
		fmt.Sprintf("Sells: %d (%d unique) | Volume: $%s", s.Sells24h, s.UniqueSellers24h, formatNumber(s.SellVolume24h)),
		"Buy/Sell Ratio: "+buySellRatio(s.Buys24h, s.Sells24h),
		"",
		"-- Recent Activity --",
		fmt.Sprintf("5m: %d buys / %d sells | 1h: %d buys / %d sells", s.Buys5m, s.Sells5m, s.Buys1h, s.Sells1h),
		"",
		"-- Risk Indicators --",
		fmt.Sprintf("Snipers: %d (holding %.1f%%)", s.SniperCount, s.SniperHeldPercent),
		fmt.Sprintf("Bundlers: %d (holding %.1f%%)", s.BundlerCount, s.BundlerHeldPercent),
		fmt.Sprintf("Insiders: %d (holding %.1f%%)", s.InsiderCount, s.InsiderHeldPercent),
	)
	if s.DevHeldPercent > 0 {
		lines = append(lines, fmt.Sprintf("Dev Holdings: %.1f%%", s.DevHeldPercent))
	}
	if s.NewWalletPercent1d > 0 {
		lines = append(lines, fmt.Sprintf("New Wallets (<1d): %.1f%%", s.NewWalletPercent1d))
	}
	if s.NewWalletPercent7d > 0 {
		lines = append(lines, fmt.Sprintf("New Wallets (<7d): %.1f%%", s.NewWalletPercent7d))
	}

	lines = append(lines, "", "-- Token Info --", "Age: "+age)
	if s.LastTransaction != nil {
		lines = append(lines, "Last Activity: "+formatAge(*s.LastTransaction, now))
	}
	lines = append(lines, "DEX: "+s.DEX)
	if s.PairAddress != "" {
		lines = append(lines, "Pair: "+s.PairAddress)
	}
	return strings.Join(lines, "\n")
}

// Preview is the compact card shown to the human when a token is surfaced.
func Preview(s domain.Snapshot, now time.Time) domain.TokenPreview {
	age := "Unknown"
	if s.PairCreatedAt != nil {
		age = formatAge(*s.PairCreatedAt, now)
	}
	return domain.TokenPreview{
		Address:        s.Address,
		Name:           s.Name,
		Symbol:         s.Symbol,
		PriceUSD:       s.PriceUSD,
		Liquidity:      s.Liquidity,
		MarketCap:      s.MarketCap,
		Volume24h:      s.Volume24h,
		PriceChange24h: s.PriceChange24h,
		Holders:        s.Holders,
		Age:            age,
	}
}

func formatChange(v float64) string {
	sign := ""
	if v > 0 {
		sign = "+"
	}
	return sign + strconv.FormatFloat(v, 'f', 2, 64) + "%"
}

func dollarsOrNA(v *float64) string {
	if v == nil || *v == 0 {
		return "N/A"
	}
	return "$" + formatNumber(*v)
}

func buySellRatio(buys, sells int64) string {
	if sells == 0 {
		return "inf"
	}
	return strconv.FormatFloat(float64(buys)/float64(sells), 'f', 2, 64)
}

// formatPrice shows sub-cent prices in subscript notation: 0.0{5}4187 means
// five zeros after the point followed by 4187.
func formatPrice(raw string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || v == 0 {
		return "0"
	}
	if v >= 1 {
		return groupThousands(strconv.FormatFloat(v, 'f', 2, 64))
	}
	if v >= 0.01 {
		return strconv.FormatFloat(v, 'f', 4, 64)
	}
	m := smallPrice.FindStringSubmatch(strconv.FormatFloat(v, 'f', 20, 64))
	if m == nil {
		return strconv.FormatFloat(v, 'g', 4, 64)
	}
	zeros := len(m[1])
	if zeros >= 3 {
		digits := m[2]
		if len(digits) > 4 {
			digits = digits[:4]
		}
		return fmt.Sprintf("0.0{%d}%s", zeros, digits)
	}
	return strconv.FormatFloat(v, 'f', zeros+4, 64)
}

func formatNumber(v float64) string {
	switch {
	case v >= 1e9:
		return strconv.FormatFloat(v/1e9, 'f', 2, 64) + "B"
	case v >= 1e6:
		return strconv.FormatFloat(v/1e6, 'f', 2, 64) + "M"
	case v >= 1e3:
		return strconv.FormatFloat(v/1e3, 'f', 2, 64) + "K"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	days := int(d / (24 * time.Hour))
	hours := int(d / time.Hour)
	minutes := int(d / time.Minute)
	switch {
	case days > 0:
		return plural(days, "day") + " old"
	case hours > 0:
		return plural(hours, "hour") + " old"
	}
	return plural(minutes, "minute") + " old"
}

func plural(n int, unit string) string {
	if n > 1 {
		unit += "s"
	}
	return strconv.Itoa(n) + " " + unit
}

// groupThousands inserts commas into the integer part of a decimal string.
func groupThousands(s string) string {
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	neg := strings.HasPrefix(intPart, "-")
	if neg {
		intPart = intPart[1:]
	}
	var sb strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	out := sb.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

func formatRaw(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
