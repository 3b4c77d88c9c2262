package events

import (
	"time"
	"unicode/utf8"

	"vibe-trader/internal/domain"
)

const maxReasonLen = 200

func base(typ domain.TokenEventType, s domain.Snapshot, at time.Time) domain.TokenEvent {
	return domain.TokenEvent{
		Type:         typ,
		Timestamp:    at.UnixMilli(),
		TokenAddress: s.Address,
		Symbol:       s.Symbol,
		Name:         s.Name,
		PriceUSD:     s.PriceUSD,
		MarketCap:    s.MarketCap,
		Liquidity:    s.Liquidity,
	}
}

// Pitched is emitted when a snapshot is shown to a human.
func Pitched(s domain.Snapshot, at time.Time) domain.TokenEvent {
	return base(domain.TokenPitched, s, at)
}

// Rejected is emitted when a previously surfaced asset is declined.
func Rejected(s domain.Snapshot, reason string, at time.Time) domain.TokenEvent {
	ev := base(domain.TokenRejected, s, at)
	ev.Reason = truncate(reason, maxReasonLen)
	return ev
}

// Bought is emitted once per settled execution. s may be nil when no snapshot
// was surfaced for the acquired asset.
func Bought(s *domain.Snapshot, res domain.ExecutionResult, at time.Time) domain.TokenEvent {
	var snap domain.Snapshot
	if s != nil {
		snap = *s
	}
	ev := base(domain.TokenBought, snap, at)
	ev.TokenAddress = res.TokenAddress
	if ev.Symbol == "" {
		ev.Symbol = domain.UnknownSymbol
	}
	ev.AmountSol = res.AmountSpent.InexactFloat64()
	ev.AmountToken = res.AmountOut.InexactFloat64()
	ev.TxSignature = res.Signature
	return ev
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
