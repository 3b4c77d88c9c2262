package repository

import (
	"context"
	"errors"
	"sort"

	"vibe-trader/internal/domain"
)

// ErrDuplicateTrade is returned when a trade with the same transaction
// signature has already been appended.
var ErrDuplicateTrade = errors.New("repository: duplicate trade")

// TradeLedger is the append-only record of executed swaps.
type TradeLedger interface {
	AppendTrade(ctx context.Context, rec domain.TradeRecord) error
	// ListTrades returns every trade, newest first.
	ListTrades(ctx context.Context) ([]domain.TradeRecord, error)
	// UpdateTradeSymbol backfills the symbol of a trade still marked UNKNOWN.
	// Trades with a resolved symbol are left untouched.
	UpdateTradeSymbol(ctx context.Context, txSignature, symbol string) error
	ActiveTokens(ctx context.Context) ([]string, error)
}

// LeaderboardReader reads the leaderboard cache maintained by the batch job.
type LeaderboardReader interface {
	Leaderboard(ctx context.Context, by domain.LeaderboardSort, limit, offset int) ([]domain.LeaderboardEntry, error)
	GlobalStats(ctx context.Context) (domain.GlobalStats, error)
	// UserStats returns nil when the user has no leaderboard row.
	UserStats(ctx context.Context, userID string) (*domain.UserStats, error)
}

// QuotaCounter holds the per-identity daily interaction counters.
type QuotaCounter interface {
	QuotaCount(ctx context.Context, identity, day string) (int, error)
	IncrementQuota(ctx context.Context, identity string, class domain.IdentityClass, day string) (int, error)
	ResetQuota(ctx context.Context, identity, day string) error
}

// Store is everything one backing database serves.
type Store interface {
	QuotaCounter
	TradeLedger
	LeaderboardReader
}

var (
	_ Store = (*Client)(nil)
	_ Store = (*SQLClient)(nil)
)

const topTokenCount = 5

// leaderRow is a leaderboard cache row with the fields that never reach
// the API directly.
type leaderRow struct {
	entry       domain.LeaderboardEntry
	winCount    int
	lastUpdated string
}

// rankRows orders rows by the requested column descending and pages them.
// Rows without trades are excluded.
func rankRows(rows []leaderRow, by domain.LeaderboardSort, limit, offset int) []domain.LeaderboardEntry {
	active := rows[:0:0]
	for _, r := range rows {
		if r.entry.TotalTrades > 0 {
			active = append(active, r)
		}
	}
	key := func(e domain.LeaderboardEntry) float64 {
		switch by {
		case domain.SortByTrades:
			return float64(e.TotalTrades)
		case domain.SortByWinRate:
			return e.WinRate
		default:
			return e.TotalPnlUSD
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return key(active[i].entry) > key(active[j].entry)
	})

	if offset >= len(active) {
		return []domain.LeaderboardEntry{}
	}
	active = active[offset:]
	if limit > 0 && limit < len(active) {
		active = active[:limit]
	}
	out := make([]domain.LeaderboardEntry, len(active))
	for i, r := range active {
		out[i] = r.entry
		out[i].Rank = offset + i + 1
	}
	return out
}

// summarize computes the platform totals from the ledger and the cached
// per-user win counts.
func summarize(trades []domain.TradeRecord, rows []leaderRow) domain.GlobalStats {
	stats := domain.GlobalStats{TopTokens: []domain.TopToken{}}
	users := map[string]struct{}{}
	type tokenKey struct{ address, symbol string }
	counts := map[tokenKey]int{}
	var order []tokenKey

	for _, t := range trades {
		k := tokenKey{t.TokenAddress, t.TokenSymbol}
		if _, seen := counts[k]; !seen {
			order = append(order, k)
		}
		counts[k]++
		if t.UserID == "" {
			continue
		}
		stats.TotalTrades++
		stats.TotalVolumeSOL += t.AmountSol
		users[t.UserID] = struct{}{}
	}
	stats.TotalUsersTraded = len(users)

	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > topTokenCount {
		order = order[:topTokenCount]
	}
	for _, k := range order {
		symbol := k.symbol
		if symbol == "" {
			symbol = domain.UnknownSymbol
		}
		stats.TopTokens = append(stats.TopTokens, domain.TopToken{Address: k.address, Symbol: symbol, TradeCount: counts[k]})
	}

	var wins, total int
	for _, r := range rows {
		wins += r.winCount
		total += r.entry.TotalTrades
	}
	if total > 0 {
		stats.OverallWinRate = float64(wins) / float64(total) * 100
	}
	return stats
}

// userStats builds the caller's stats with rank = 1 + users with strictly
// higher PnL.
func userStats(rows []leaderRow, userID string) *domain.UserStats {
	var self *leaderRow
	for i := range rows {
		if rows[i].entry.UserID == userID {
			self = &rows[i]
			break
		}
	}
	if self == nil {
		return nil
	}
	rank := 1
	for _, r := range rows {
		if r.entry.TotalPnlUSD > self.entry.TotalPnlUSD {
			rank++
		}
	}
	return &domain.UserStats{
		TotalTrades:      self.entry.TotalTrades,
		TotalInvestedSol: self.entry.TotalInvestedSol,
		TotalPnlUSD:      self.entry.TotalPnlUSD,
		WinRate:          self.entry.WinRate,
		Rank:             &rank,
		LastUpdated:      self.lastUpdated,
	}
}

func distinctTokens(trades []domain.TradeRecord) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, t := range trades {
		if _, ok := seen[t.TokenAddress]; ok {
			continue
		}
		seen[t.TokenAddress] = struct{}{}
		out = append(out, t.TokenAddress)
	}
	return out
}
