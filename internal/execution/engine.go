package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"vibe-trader/internal/domain"
	"vibe-trader/internal/observ"
)

const defaultTokenDecimals int32 = 6

type Venue interface {
	Order(ctx context.Context, in OrderRequest) (Order, error)
	Execute(ctx context.Context, signedTransaction, requestID string) (ExecuteResult, error)
}

type TxSigner interface {
	PublicKey() string
	SignTransaction(payload string) (string, error)
}

type DecimalsResolver interface {
	Decimals(ctx context.Context, mint string) (int32, error)
}

type Config struct {
	// FallbackDecimals is used when the mint's decimals cannot be read.
	FallbackDecimals int32
	Metrics          *observ.Metrics
}

// Quote is the order phase alone, for dry runs.
type Quote struct {
	RequestID      string          `json:"requestId"`
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       string          `json:"inAmount"`
	OutAmount      string          `json:"outAmount"`
	SwapType       string          `json:"swapType"`
	SlippageBps    int             `json:"slippageBps"`
	AmountSol      decimal.Decimal `json:"amountSol"`
	HasTransaction bool            `json:"hasTransaction"`
}

// Engine runs one-shot swaps from SOL into a target mint. Each call walks
// ordered -> signed -> submitted -> settled and stops at the first failure;
// nothing is retried.
type Engine struct {
	venue    Venue
	signer   TxSigner
	decimals DecimalsResolver
	fallback int32
	metrics  *observ.Metrics
	logger   *slog.Logger
}

// NewEngine builds an Engine. decimals may be nil, in which case the
// fallback exponent is always used.
func NewEngine(venue Venue, signer TxSigner, decimals DecimalsResolver, cfg Config, logger *slog.Logger) (*Engine, error) {
	if venue == nil {
		return nil, errors.New("execution: venue must not be nil")
	}
	if signer == nil {
		return nil, errors.New("execution: signer must not be nil")
	}
	if cfg.FallbackDecimals <= 0 {
		cfg.FallbackDecimals = defaultTokenDecimals
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		venue:    venue,
		signer:   signer,
		decimals: decimals,
		fallback: cfg.FallbackDecimals,
		metrics:  cfg.Metrics,
		logger:   logger,
	}, nil
}

// Execute swaps amountSOL into target. Once started it runs to a terminal
// outcome even if ctx is cancelled, because a submitted transaction cannot
// be recalled.
func (e *Engine) Execute(ctx context.Context, target string, amountSOL decimal.Decimal) (domain.ExecutionResult, error) {
	ctx = context.WithoutCancel(ctx)
	log := e.logger.With("token", target, "amount_sol", amountSOL.String())

	order, lamports, err := e.order(ctx, target, amountSOL)
	if err != nil {
		return domain.ExecutionResult{}, e.fail(log, err)
	}
	if order.Transaction == "" {
		cause := ErrNoTransaction
		if order.ErrorMessage != "" {
			cause = fmt.Errorf("%w: %s", ErrNoTransaction, order.ErrorMessage)
		}
		return domain.ExecutionResult{}, e.fail(log, &Error{Phase: PhaseOrder, Err: cause})
	}
	log = log.With("request_id", order.RequestID)
	log.Info("swap ordered", "in_amount", order.InAmount, "out_amount", order.OutAmount, "swap_type", order.SwapType)

	signed, err := e.signer.SignTransaction(order.Transaction)
	if err != nil {
		return domain.ExecutionResult{}, e.fail(log, &Error{Phase: PhaseSign, Err: err})
	}

	res, err := e.venue.Execute(ctx, signed, order.RequestID)
	if err != nil {
		return domain.ExecutionResult{}, e.fail(log, &Error{Phase: PhaseSubmit, Err: err})
	}
	if res.Status != StatusSuccess {
		cause := ErrNotSettled
		if res.Error != "" {
			cause = fmt.Errorf("%w: %s", ErrNotSettled, res.Error)
		}
		return domain.ExecutionResult{}, e.fail(log, &Error{Phase: PhaseSettle, Status: res.Status, Err: cause})
	}

	result := domain.ExecutionResult{
		Signature:    res.Signature,
		TokenAddress: target,
		AmountSpent:  decimal.NewFromUint64(lamports).Shift(-SOLDecimals),
		AmountOut:    e.received(ctx, log, target, res, order),
	}
	e.metrics.Execution("settled")
	log.Info("swap settled", "signature", res.Signature, "amount_out", result.AmountOut.String())
	return result, nil
}

// Quote runs the order phase only. Nothing is signed or submitted.
func (e *Engine) Quote(ctx context.Context, target string, amountSOL decimal.Decimal) (Quote, error) {
	order, _, err := e.order(ctx, target, amountSOL)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		RequestID:      order.RequestID,
		InputMint:      order.InputMint,
		OutputMint:     order.OutputMint,
		InAmount:       order.InAmount,
		OutAmount:      order.OutAmount,
		SwapType:       order.SwapType,
		SlippageBps:    order.SlippageBps,
		AmountSol:      amountSOL,
		HasTransaction: order.Transaction != "",
	}, nil
}

// Taker returns the wallet address swaps are built for.
func (e *Engine) Taker() string {
	return e.signer.PublicKey()
}

func (e *Engine) order(ctx context.Context, target string, amountSOL decimal.Decimal) (Order, uint64, error) {
	if _, err := solana.PublicKeyFromBase58(target); err != nil {
		return Order{}, 0, &Error{Phase: PhaseOrder, Err: fmt.Errorf("%w: %v", ErrInvalidTarget, err)}
	}
	lamports := ToLamports(amountSOL)
	if lamports == 0 {
		return Order{}, 0, &Error{Phase: PhaseOrder, Err: ErrAmountTooSmall}
	}
	order, err := e.venue.Order(ctx, OrderRequest{
		InputMint:  WrappedSOLMint,
		OutputMint: target,
		Amount:     lamports,
		Taker:      e.signer.PublicKey(),
	})
	if err != nil {
		return Order{}, 0, &Error{Phase: PhaseOrder, Err: err}
	}
	return order, lamports, nil
}

// received converts the settled output amount to token units. The swap has
// already happened, so parse problems are logged and never fail the call.
func (e *Engine) received(ctx context.Context, log *slog.Logger, mint string, res ExecuteResult, order Order) decimal.Decimal {
	exp := e.fallback
	if e.decimals != nil {
		d, err := e.decimals.Decimals(ctx, mint)
		if err != nil {
			log.Warn("mint decimals unavailable, using fallback", "err", err, "decimals", exp)
		} else {
			exp = d
		}
	}
	for _, raw := range []string{res.OutputAmountResult, order.OutAmount} {
		if raw == "" {
			continue
		}
		out, err := FromSubunits(raw, exp)
		if err == nil {
			return out
		}
		log.Warn("unparseable output amount", "raw", raw, "err", err)
	}
	log.Error("settled swap reported no output amount")
	return decimal.Zero
}

func (e *Engine) fail(log *slog.Logger, err error) error {
	var execErr *Error
	if errors.As(err, &execErr) {
		e.metrics.Execution(string(execErr.Phase))
		log.Error("swap failed", "phase", execErr.Phase, "status", execErr.Status, "err", execErr.Err)
	}
	return err
}
