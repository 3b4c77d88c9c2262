package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"vibe-trader/internal/domain"
)

const backfillConcurrency = 4

type BalanceReader interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

type TradeReader interface {
	ListTrades(ctx context.Context) ([]domain.TradeRecord, error)
	UpdateTradeSymbol(ctx context.Context, txSignature, symbol string) error
	ActiveTokens(ctx context.Context) ([]string, error)
}

type SnapshotLookup interface {
	Resolve(ctx context.Context, address string) *domain.Snapshot
}

type PortfolioView struct {
	Balance   float64              `json:"balance"`
	Purchases []domain.TradeRecord `json:"purchases"`
}

type PortfolioService struct {
	wallet    BalanceReader
	trades    TradeReader
	snapshots SnapshotLookup
	logger    *slog.Logger
}

// NewPortfolioService wires the wallet and ledger reads. snapshots may be
// nil, in which case UNKNOWN symbols are returned as stored.
func NewPortfolioService(wallet BalanceReader, trades TradeReader, snapshots SnapshotLookup, logger *slog.Logger) (*PortfolioService, error) {
	if wallet == nil {
		return nil, errors.New("usecase: balance reader must not be nil")
	}
	if trades == nil {
		return nil, errors.New("usecase: trade reader must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PortfolioService{wallet: wallet, trades: trades, snapshots: snapshots, logger: logger}, nil
}

func (s *PortfolioService) Portfolio(ctx context.Context) (PortfolioView, error) {
	balance, err := s.wallet.Balance(ctx)
	if err != nil {
		return PortfolioView{}, newError(ErrorUpstream, "balance_error", fmt.Errorf("usecase: Portfolio: %w", err))
	}
	trades, err := s.trades.ListTrades(ctx)
	if err != nil {
		return PortfolioView{}, newError(ErrorInternal, "ledger_error", fmt.Errorf("usecase: Portfolio: %w", err))
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	s.backfillSymbols(ctx, trades)
	return PortfolioView{Balance: balance.InexactFloat64(), Purchases: trades}, nil
}

// backfillSymbols resolves symbols for trades recorded as UNKNOWN and
// persists what it finds. Lookups and writes are best effort.
func (s *PortfolioService) backfillSymbols(ctx context.Context, trades []domain.TradeRecord) {
	if s.snapshots == nil {
		return
	}
	var pending []string
	seen := make(map[string]struct{})
	for _, t := range trades {
		if t.TokenSymbol != domain.UnknownSymbol && t.TokenSymbol != "" {
			continue
		}
		if _, ok := seen[t.TokenAddress]; ok {
			continue
		}
		seen[t.TokenAddress] = struct{}{}
		pending = append(pending, t.TokenAddress)
	}
	if len(pending) == 0 {
		return
	}

	symbols := make([]string, len(pending))
	p := pool.New().WithMaxGoroutines(backfillConcurrency)
	for i, addr := range pending {
		p.Go(func() {
			if snap := s.snapshots.Resolve(ctx, addr); snap != nil && knownSymbol(snap.Symbol) {
				symbols[i] = snap.Symbol
			}
		})
	}
	p.Wait()

	resolved := make(map[string]string, len(pending))
	for i, addr := range pending {
		if symbols[i] != "" {
			resolved[addr] = symbols[i]
		}
	}
	for i := range trades {
		symbol, ok := resolved[trades[i].TokenAddress]
		if !ok || knownSymbol(trades[i].TokenSymbol) {
			continue
		}
		trades[i].TokenSymbol = symbol
		if err := s.trades.UpdateTradeSymbol(ctx, trades[i].TxSignature, symbol); err != nil {
			s.logger.Warn("failed to backfill trade symbol", "signature", trades[i].TxSignature, "err", err)
		}
	}
}

// WarmSnapshots resolves a snapshot for every token the wallet has bought
// so the first portfolio and pitch requests hit a warm cache. It returns
// how many tokens resolved.
func (s *PortfolioService) WarmSnapshots(ctx context.Context) (int, error) {
	if s.snapshots == nil {
		return 0, nil
	}
	tokens, err := s.trades.ActiveTokens(ctx)
	if err != nil {
		return 0, fmt.Errorf("usecase: WarmSnapshots: %w", err)
	}
	var warmed atomic.Int64
	p := pool.New().WithMaxGoroutines(backfillConcurrency)
	for _, addr := range tokens {
		p.Go(func() {
			if s.snapshots.Resolve(ctx, addr) != nil {
				warmed.Add(1)
			}
		})
	}
	p.Wait()
	s.logger.Info("snapshot cache warmed", "tokens", len(tokens), "resolved", warmed.Load())
	return int(warmed.Load()), nil
}

type holding struct {
	address string
	symbol  string
	amount  decimal.Decimal
	spent   decimal.Decimal
}

// PortfolioContext renders the wallet balance and per-token holdings for
// the generation prompt.
func (s *PortfolioService) PortfolioContext(ctx context.Context) (string, error) {
	balance, err := s.wallet.Balance(ctx)
	if err != nil {
		return "", fmt.Errorf("usecase: PortfolioContext: %w", err)
	}
	trades, err := s.trades.ListTrades(ctx)
	if err != nil {
		return "", fmt.Errorf("usecase: PortfolioContext: %w", err)
	}

	byAddr := make(map[string]*holding)
	for _, t := range trades {
		h, ok := byAddr[t.TokenAddress]
		if !ok {
			h = &holding{address: t.TokenAddress, symbol: t.TokenSymbol}
			byAddr[t.TokenAddress] = h
		}
		if !knownSymbol(h.symbol) && knownSymbol(t.TokenSymbol) {
			h.symbol = t.TokenSymbol
		}
		h.amount = h.amount.Add(decimal.NewFromFloat(t.AmountToken))
		h.spent = h.spent.Add(decimal.NewFromFloat(t.AmountSol))
	}
	holdings := make([]*holding, 0, len(byAddr))
	for _, h := range byAddr {
		holdings = append(holdings, h)
	}
	sort.Slice(holdings, func(i, j int) bool {
		if !holdings[i].spent.Equal(holdings[j].spent) {
			return holdings[i].spent.GreaterThan(holdings[j].spent)
		}
		return holdings[i].address < holdings[j].address
	})

	var b strings.Builder
	b.WriteString("[Portfolio]\n")
	fmt.Fprintf(&b, "Available balance: %s SOL\n", balance.StringFixed(4))
	if len(holdings) == 0 {
		b.WriteString("Holdings: none yet\n")
		return b.String(), nil
	}
	b.WriteString("Holdings:\n")
	for _, h := range holdings {
		symbol := h.symbol
		if !knownSymbol(symbol) {
			symbol = domain.UnknownSymbol
		}
		fmt.Fprintf(&b, "- %s (%s): %s tokens for %s SOL\n", symbol, h.address, h.amount.String(), h.spent.StringFixed(4))
	}
	return b.String(), nil
}
