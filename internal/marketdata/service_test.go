package marketdata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"vibe-trader/internal/domain"
)

type stubProvider struct {
	name        string
	token       *domain.Snapshot
	tokenErr    error
	results     []domain.Snapshot
	searchErr   error
	tokenCalls  int
	searchCalls int
	lastQuery   string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Token(_ context.Context, _ string) (*domain.Snapshot, error) {
	p.tokenCalls++
	return p.token, p.tokenErr
}

func (p *stubProvider) Search(_ context.Context, query string, _ int) ([]domain.Snapshot, error) {
	p.searchCalls++
	p.lastQuery = query
	return p.results, p.searchErr
}

func newTestService(t *testing.T, providers ...Provider) *Service {
	t.Helper()
	svc, err := NewService(NewCache(NewMemoryBackend(16), nil, nil), nil, providers...)
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresProvider(t *testing.T) {
	_, err := NewService(nil, nil)
	require.Error(t, err)

	_, err = NewService(nil, nil, nil)
	require.Error(t, err)
}

func TestResolve_FallsBackToSecondProvider(t *testing.T) {
	primary := &stubProvider{name: "codex", tokenErr: errors.New("boom")}
	fallback := &stubProvider{name: "dexscreener", token: &domain.Snapshot{Address: wsol, Symbol: "SOL"}}
	svc := newTestService(t, primary, fallback)

	snap := svc.Resolve(context.Background(), wsol)
	require.NotNil(t, snap)
	require.Equal(t, "SOL", snap.Symbol)
	require.Equal(t, 1, primary.tokenCalls)
	require.Equal(t, 1, fallback.tokenCalls)
}

func TestResolve_CachesHits(t *testing.T) {
	p := &stubProvider{name: "codex", token: &domain.Snapshot{Address: wsol, Symbol: "SOL"}}
	svc := newTestService(t, p)

	first := svc.Resolve(context.Background(), wsol)
	second := svc.Resolve(context.Background(), wsol)
	require.Equal(t, first, second)
	require.Equal(t, 1, p.tokenCalls)
}

func TestResolve_NotFoundIsNotCached(t *testing.T) {
	p := &stubProvider{name: "codex"}
	svc := newTestService(t, p)

	require.Nil(t, svc.Resolve(context.Background(), wsol))
	require.Nil(t, svc.Resolve(context.Background(), wsol))
	require.Equal(t, 2, p.tokenCalls)
}

func TestResolve_EmptyIdentifier(t *testing.T) {
	p := &stubProvider{name: "codex"}
	svc := newTestService(t, p)
	require.Nil(t, svc.Resolve(context.Background(), "  "))
	require.Zero(t, p.tokenCalls)
}

func TestSearch_CachedByLowercasedQuery(t *testing.T) {
	p := &stubProvider{name: "codex", results: []domain.Snapshot{{Symbol: "BONK"}}}
	svc := newTestService(t, p)

	require.Len(t, svc.Search(context.Background(), "BONK"), 1)
	require.Len(t, svc.Search(context.Background(), "bonk"), 1)
	require.Equal(t, 1, p.searchCalls)
}

func TestSearch_TruncatesToFive(t *testing.T) {
	p := &stubProvider{name: "codex", results: make([]domain.Snapshot, 8)}
	svc := newTestService(t, p)
	require.Len(t, svc.Search(context.Background(), "meme"), 5)
}

func TestResolveText(t *testing.T) {
	t.Run("address wins over symbol", func(t *testing.T) {
		p := &stubProvider{name: "codex", token: &domain.Snapshot{Address: wsol, Symbol: "SOL"}}
		svc := newTestService(t, p)

		snap := svc.ResolveText(context.Background(), "is $BONK better than "+wsol+"?")
		require.NotNil(t, snap)
		require.Equal(t, "SOL", snap.Symbol)
		require.Zero(t, p.searchCalls)
	})

	t.Run("symbol uses first search hit", func(t *testing.T) {
		p := &stubProvider{name: "codex", results: []domain.Snapshot{{Symbol: "BONK", Address: "a1"}, {Symbol: "BONK2", Address: "a2"}}}
		svc := newTestService(t, p)

		snap := svc.ResolveText(context.Background(), "ape into $BONK now")
		require.NotNil(t, snap)
		require.Equal(t, "a1", snap.Address)
		require.Equal(t, "BONK", p.lastQuery)
	})

	t.Run("nothing to resolve", func(t *testing.T) {
		p := &stubProvider{name: "codex"}
		svc := newTestService(t, p)
		require.Nil(t, svc.ResolveText(context.Background(), "what's good?"))
		require.Zero(t, p.tokenCalls+p.searchCalls)
	})

	t.Run("upstream failure degrades to nil", func(t *testing.T) {
		p := &stubProvider{name: "codex", searchErr: errors.New("down")}
		svc := newTestService(t, p)
		require.Nil(t, svc.ResolveText(context.Background(), "$WIF"))
	})
}
