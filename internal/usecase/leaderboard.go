package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"vibe-trader/internal/domain"
)

const (
	DefaultLeaderboardLimit = 50
	MaxLeaderboardLimit     = 100
)

type LeaderboardQuery struct {
	Sort   domain.LeaderboardSort
	Limit  int
	Offset int
}

type LeaderboardView struct {
	GlobalStats domain.GlobalStats        `json:"globalStats"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
	LastUpdated string                    `json:"lastUpdated"`
}

type LeaderboardSource interface {
	Leaderboard(ctx context.Context, by domain.LeaderboardSort, limit, offset int) ([]domain.LeaderboardEntry, error)
	GlobalStats(ctx context.Context) (domain.GlobalStats, error)
	UserStats(ctx context.Context, userID string) (*domain.UserStats, error)
}

type LeaderboardService struct {
	source LeaderboardSource
	now    func() time.Time
}

func NewLeaderboardService(source LeaderboardSource, now func() time.Time) (*LeaderboardService, error) {
	if source == nil {
		return nil, errors.New("usecase: leaderboard source must not be nil")
	}
	if now == nil {
		now = time.Now
	}
	return &LeaderboardService{source: source, now: now}, nil
}

// Leaderboard returns one page of ranked traders together with the
// platform-wide stats. An empty sort means PnL.
func (s *LeaderboardService) Leaderboard(ctx context.Context, q LeaderboardQuery) (LeaderboardView, error) {
	if q.Sort == "" {
		q.Sort = domain.SortByPnL
	}
	if !q.Sort.Valid() {
		return LeaderboardView{}, newError(ErrorInvalidInput, reasonInvalidSort, fmt.Errorf("usecase: unknown leaderboard sort %q", q.Sort))
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLeaderboardLimit
	}
	q.Limit = min(q.Limit, MaxLeaderboardLimit)
	q.Offset = max(q.Offset, 0)

	var (
		entries    []domain.LeaderboardEntry
		stats      domain.GlobalStats
		entriesErr error
		statsErr   error
		wg         conc.WaitGroup
	)
	wg.Go(func() {
		entries, entriesErr = s.source.Leaderboard(ctx, q.Sort, q.Limit, q.Offset)
	})
	wg.Go(func() {
		stats, statsErr = s.source.GlobalStats(ctx)
	})
	wg.Wait()
	if err := errors.Join(entriesErr, statsErr); err != nil {
		return LeaderboardView{}, newError(ErrorInternal, "leaderboard_error", fmt.Errorf("usecase: Leaderboard: %w", err))
	}

	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	for i := range entries {
		entries[i].DisplayName = MaskUserID(entries[i].UserID, entries[i].UserType)
	}
	if stats.TopTokens == nil {
		stats.TopTokens = []domain.TopToken{}
	}
	return LeaderboardView{
		GlobalStats: stats,
		Leaderboard: entries,
		LastUpdated: s.now().UTC().Format(timestampLayout),
	}, nil
}

// Me returns the caller's stats. A caller without a leaderboard row gets
// zeroes and no rank.
func (s *LeaderboardService) Me(ctx context.Context, userID string) (domain.UserStats, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.UserStats{}, newError(ErrorInvalidInput, reasonNoIdentity, errors.New("usecase: user not identified"))
	}
	stats, err := s.source.UserStats(ctx, userID)
	if err != nil {
		return domain.UserStats{}, newError(ErrorInternal, "user_stats_error", fmt.Errorf("usecase: Me: %w", err))
	}
	if stats == nil {
		return domain.UserStats{}, nil
	}
	return *stats, nil
}

// MaskUserID hides most of an identifier for public display.
func MaskUserID(userID, userType string) string {
	if userType == string(domain.IdentityUser) {
		if len(userID) > 4 {
			userID = userID[:4]
		}
		return "user_" + userID + "..."
	}
	cleaned := strings.Replace(userID, "ip:", "", 1)
	if len(cleaned) > 4 {
		cleaned = cleaned[len(cleaned)-4:]
	}
	return "anon_***" + cleaned
}
