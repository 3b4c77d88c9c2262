package domain

// LeaderboardEntry is one ranked row of the precomputed leaderboard.
type LeaderboardEntry struct {
	Rank             int     `json:"rank"`
	UserID           string  `json:"userId"`
	UserType         string  `json:"-"`
	DisplayName      string  `json:"displayName"`
	TotalTrades      int     `json:"totalTrades"`
	TotalInvestedSol float64 `json:"totalInvestedSol"`
	TotalPnlUSD      float64 `json:"totalPnlUsd"`
	WinRate          float64 `json:"winRate"`
}

type TopToken struct {
	Address       string  `json:"address"`
	Symbol        string  `json:"symbol"`
	TradeCount    int     `json:"tradeCount"`
	AvgPnlPercent float64 `json:"avgPnlPercent"`
}

type GlobalStats struct {
	TotalTrades      int        `json:"totalTrades"`
	TotalUsersTraded int        `json:"totalUsersTraded"`
	OverallWinRate   float64    `json:"overallWinRate"`
	TotalVolumeSOL   float64    `json:"totalVolumeSOL"`
	TopTokens        []TopToken `json:"topTokens"`
}

// UserStats is the caller's own leaderboard position. Rank is nil when the
// caller has no trades.
type UserStats struct {
	TotalTrades      int     `json:"totalTrades"`
	TotalInvestedSol float64 `json:"totalInvestedSol"`
	TotalPnlUSD      float64 `json:"totalPnlUsd"`
	WinRate          float64 `json:"winRate"`
	Rank             *int    `json:"rank"`
	LastUpdated      string  `json:"lastUpdated,omitempty"`
}

// LeaderboardSort selects the ranking column.
type LeaderboardSort string

const (
	SortByPnL     LeaderboardSort = "pnl"
	SortByTrades  LeaderboardSort = "trades"
	SortByWinRate LeaderboardSort = "winRate"
)

// Valid reports whether s is a known ranking column.
func (s LeaderboardSort) Valid() bool {
	switch s {
	case SortByPnL, SortByTrades, SortByWinRate:
		return true
	}
	return false
}
