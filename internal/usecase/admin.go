package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"vibe-trader/internal/execution"
)

var (
	defaultTestAmount = decimal.RequireFromString("0.001")
	maxTestAmount     = decimal.RequireFromString("0.01")
)

type QuotaResetter interface {
	Reset(ctx context.Context, identity string) error
}

type SwapTester interface {
	Executor
	Quote(ctx context.Context, target string, amountSOL decimal.Decimal) (execution.Quote, error)
}

type SwapRequest struct {
	OutputMint string
	// AmountSOL defaults to 0.001 when zero.
	AmountSOL decimal.Decimal
}

type SwapReport struct {
	Signature     string  `json:"signature"`
	TokenAddress  string  `json:"tokenAddress"`
	AmountSol     float64 `json:"amountSol"`
	AmountToken   float64 `json:"amountToken"`
	PricePerToken float64 `json:"pricePerToken"`
}

// AdminService backs the development-only maintenance routes.
type AdminService struct {
	quota  QuotaResetter
	swaps  SwapTester
	logger *slog.Logger
}

func NewAdminService(quota QuotaResetter, swaps SwapTester, logger *slog.Logger) (*AdminService, error) {
	if quota == nil {
		return nil, errors.New("usecase: quota resetter must not be nil")
	}
	if swaps == nil {
		return nil, errors.New("usecase: swap tester must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminService{quota: quota, swaps: swaps, logger: logger}, nil
}

func (s *AdminService) ResetQuota(ctx context.Context, identity string) error {
	if strings.TrimSpace(identity) == "" {
		return newError(ErrorInvalidInput, reasonNoIdentity, errors.New("usecase: no user identifier"))
	}
	if err := s.quota.Reset(ctx, identity); err != nil {
		return newError(ErrorInternal, "quota_reset_error", fmt.Errorf("usecase: ResetQuota: %w", err))
	}
	s.logger.Info("quota reset", "identity", identity)
	return nil
}

func (s *AdminService) TestOrder(ctx context.Context, req SwapRequest) (execution.Quote, error) {
	req, err := normalizeSwap(req)
	if err != nil {
		return execution.Quote{}, err
	}
	s.logger.Info("test swap order", "output_mint", req.OutputMint, "amount_sol", req.AmountSOL.String())
	q, err := s.swaps.Quote(ctx, req.OutputMint, req.AmountSOL)
	if err != nil {
		return execution.Quote{}, newError(ErrorUpstream, "order_error", fmt.Errorf("usecase: TestOrder: %w", err))
	}
	return q, nil
}

// TestExecute runs a real swap capped at 0.01 SOL.
func (s *AdminService) TestExecute(ctx context.Context, req SwapRequest) (SwapReport, error) {
	req, err := normalizeSwap(req)
	if err != nil {
		return SwapReport{}, err
	}
	if req.AmountSOL.GreaterThan(maxTestAmount) {
		return SwapReport{}, newError(ErrorInvalidInput, reasonTestAmountCap, nil)
	}
	s.logger.Warn("test swap execute", "output_mint", req.OutputMint, "amount_sol", req.AmountSOL.String())
	res, err := s.swaps.Execute(ctx, req.OutputMint, req.AmountSOL)
	if err != nil {
		return SwapReport{}, newError(ErrorUpstream, "execute_error", fmt.Errorf("usecase: TestExecute: %w", err))
	}
	return SwapReport{
		Signature:     res.Signature,
		TokenAddress:  res.TokenAddress,
		AmountSol:     res.AmountSpent.InexactFloat64(),
		AmountToken:   res.AmountOut.InexactFloat64(),
		PricePerToken: res.PricePerToken().InexactFloat64(),
	}, nil
}

func normalizeSwap(req SwapRequest) (SwapRequest, error) {
	req.OutputMint = strings.TrimSpace(req.OutputMint)
	if req.OutputMint == "" {
		return req, newError(ErrorInvalidInput, reasonNoOutputMint, nil)
	}
	if req.AmountSOL.IsZero() {
		req.AmountSOL = defaultTestAmount
	}
	if !req.AmountSOL.IsPositive() {
		return req, newError(ErrorInvalidInput, reasonBadAmount, nil)
	}
	return req, nil
}
