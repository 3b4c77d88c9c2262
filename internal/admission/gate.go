package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vibe-trader/internal/domain"
	"vibe-trader/internal/observ"
)

const (
	DefaultUserLimit      = 20
	DefaultAnonymousLimit = 2

	dayLayout = "2006-01-02"
)

// QuotaStore holds one counter per (identity, UTC day). IncrementQuota must
// be an atomic upsert-increment that returns the new count.
type QuotaStore interface {
	QuotaCount(ctx context.Context, identity, day string) (int, error)
	IncrementQuota(ctx context.Context, identity string, class domain.IdentityClass, day string) (int, error)
	ResetQuota(ctx context.Context, identity, day string) error
}

type Limits struct {
	User      int
	Anonymous int
}

func (l Limits) ceiling(class domain.IdentityClass) int {
	if class == domain.IdentityUser {
		return l.User
	}
	return l.Anonymous
}

// Result describes one admission decision. Degraded results were admitted
// without consulting the store and carry no usable counts.
type Result struct {
	Admitted  bool
	Limited   bool
	Degraded  bool
	Class     domain.IdentityClass
	Count     int
	Ceiling   int
	Remaining int
	ResetAt   time.Time
	// UserCeiling is the authenticated ceiling, offered to anonymous callers.
	UserCeiling int
}

// Message is the human-facing explanation for a rejected request.
func (r Result) Message() string {
	if r.Class == domain.IdentityUser {
		return fmt.Sprintf("You have used all %d interactions for today. Resets at midnight UTC.", r.Ceiling)
	}
	return fmt.Sprintf("You have used all %d free interactions. Sign in for %d interactions per day!", r.Ceiling, r.UserCeiling)
}

type Gate struct {
	store   QuotaStore
	limits  Limits
	now     func() time.Time
	logger  *slog.Logger
	metrics *observ.Metrics
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

func WithMetrics(m *observ.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

func NewGate(store QuotaStore, limits Limits, logger *slog.Logger, opts ...Option) (*Gate, error) {
	if store == nil {
		return nil, errors.New("admission: quota store must not be nil")
	}
	if limits.User <= 0 {
		limits.User = DefaultUserLimit
	}
	if limits.Anonymous <= 0 {
		limits.Anonymous = DefaultAnonymousLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{store: store, limits: limits, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// CheckAndAdmit reads today's count and rejects without mutation when it has
// reached the ceiling; otherwise it increments. Two concurrent requests can
// both pass the read, so a counter may end at ceiling+1. Store failures admit
// the request.
func (g *Gate) CheckAndAdmit(ctx context.Context, id domain.Identity) Result {
	now := g.now().UTC()
	day := now.Format(dayLayout)
	res := Result{
		Class:       id.Class,
		Ceiling:     g.limits.ceiling(id.Class),
		ResetAt:     NextReset(now),
		UserCeiling: g.limits.User,
	}
	log := g.logger.With("identity", id.ID, "class", string(id.Class))

	count, err := g.store.QuotaCount(ctx, id.ID, day)
	if err != nil {
		log.Error("quota read failed, admitting", "err", err)
		return g.degraded(res)
	}
	if count >= res.Ceiling {
		res.Count = count
		res.Limited = true
		log.Info("quota exhausted", "count", count, "limit", res.Ceiling)
		g.metrics.Admission(string(id.Class), "rejected")
		return res
	}

	count, err = g.store.IncrementQuota(ctx, id.ID, id.Class, day)
	if err != nil {
		log.Error("quota increment failed, admitting", "err", err)
		return g.degraded(res)
	}
	res.Admitted = true
	res.Count = count
	res.Remaining = max(0, res.Ceiling-count)
	res.Limited = count > res.Ceiling
	log.Debug("quota consumed", "count", count, "limit", res.Ceiling, "remaining", res.Remaining)
	g.metrics.Admission(string(id.Class), "admitted")
	return res
}

// Reset deletes today's counter for identity.
func (g *Gate) Reset(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("admission: identity must not be empty")
	}
	if err := g.store.ResetQuota(ctx, identity, g.now().UTC().Format(dayLayout)); err != nil {
		return fmt.Errorf("admission: reset quota: %w", err)
	}
	return nil
}

func (g *Gate) degraded(res Result) Result {
	res.Admitted = true
	res.Degraded = true
	res.Remaining = res.Ceiling
	g.metrics.Admission(string(res.Class), "degraded")
	return res
}

// NextReset returns the next UTC midnight after t.
func NextReset(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
