package marketdata

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"vibe-trader/internal/domain"
)

const searchLimit = 5

// Provider is an upstream market-data source. Token returns nil, nil when
// the provider has no data for the address.
type Provider interface {
	Name() string
	Token(ctx context.Context, address string) (*domain.Snapshot, error)
	Search(ctx context.Context, query string, limit int) ([]domain.Snapshot, error)
}

// Service resolves token mentions into snapshots. Providers are tried in
// order; every failure is logged and degrades to "no snapshot".
type Service struct {
	providers []Provider
	cache     *Cache
	logger    *slog.Logger
}

func NewService(cache *Cache, logger *slog.Logger, providers ...Provider) (*Service, error) {
	if len(providers) == 0 {
		return nil, errors.New("marketdata: at least one provider is required")
	}
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("marketdata: provider must not be nil")
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{providers: providers, cache: cache, logger: logger}, nil
}

// Resolve returns the snapshot for an address, or nil.
func (s *Service) Resolve(ctx context.Context, address string) *domain.Snapshot {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	return remember(ctx, s.cache, tokenKey(address), TokenTTL, func() (*domain.Snapshot, bool) {
		for _, p := range s.providers {
			snap, err := p.Token(ctx, address)
			if err != nil {
				s.logger.Warn("snapshot lookup failed", "provider", p.Name(), "token", address, "err", err)
				continue
			}
			if snap != nil {
				return snap, true
			}
		}
		return nil, false
	})
}

// Search returns up to five matches for a free-text query.
func (s *Service) Search(ctx context.Context, query string) []domain.Snapshot {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	return remember(ctx, s.cache, searchKey(query), SearchTTL, func() ([]domain.Snapshot, bool) {
		for _, p := range s.providers {
			results, err := p.Search(ctx, query, searchLimit)
			if err != nil {
				s.logger.Warn("token search failed", "provider", p.Name(), "query", query, "err", err)
				continue
			}
			if len(results) > 0 {
				if len(results) > searchLimit {
					results = results[:searchLimit]
				}
				return results, true
			}
		}
		return nil, false
	})
}

// ResolveText finds the token a message is about: an address first, then a
// $SYMBOL mention resolved through search.
func (s *Service) ResolveText(ctx context.Context, text string) *domain.Snapshot {
	if addr := ExtractAddress(text); addr != "" {
		return s.Resolve(ctx, addr)
	}
	sym := ExtractSymbol(text)
	if sym == "" {
		return nil
	}
	results := s.Search(ctx, sym)
	if len(results) == 0 {
		return nil
	}
	hit := results[0]
	return &hit
}
