package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"

	"vibe-trader/internal/decision"
	"vibe-trader/internal/domain"
	"vibe-trader/internal/events"
	"vibe-trader/internal/marketdata"
	"vibe-trader/internal/observ"
	"vibe-trader/internal/repository"
)

// FailureNote is appended to the reply when a buy decision could not be
// executed.
const FailureNote = "\n\n(Note: I wanted to buy but the swap failed. Make sure the wallet has SOL!)"

const (
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
	settledTTL      = time.Hour
	settledEntries  = 10000
)

var defaultBuyAmount = decimal.RequireFromString("0.1")

type TurnEngine interface {
	AdvanceStream(ctx context.Context, conversationID, humanText string, emit func(decision.Event) error) (decision.Reply, error)
}

type Executor interface {
	Execute(ctx context.Context, target string, amountSOL decimal.Decimal) (domain.ExecutionResult, error)
}

type TradeAppender interface {
	AppendTrade(ctx context.Context, rec domain.TradeRecord) error
}

type Publisher interface {
	Publish(ev domain.TokenEvent)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// DecisionSummary is the caller-facing view of a settled decision.
type DecisionSummary struct {
	Action    domain.Verdict `json:"action"`
	Token     string         `json:"token,omitempty"`
	Amount    *float64       `json:"amount,omitempty"`
	Reasoning string         `json:"reasoning"`
}

type ChatInput struct {
	Message        string
	ConversationID string
	Identity       domain.Identity
}

type ChatOutput struct {
	Message        string
	ConversationID string
	Decision       *DecisionSummary
	Purchase       *domain.TradeRecord
	TokenPreview   *domain.TokenPreview
}

type StreamEventType string

const (
	StreamToken    StreamEventType = "token"
	StreamChunk    StreamEventType = "chunk"
	StreamDecision StreamEventType = "decision"
)

// StreamEvent is one intermediate item of a streamed chat turn. The caller
// writes the terminal done or error frame itself.
type StreamEvent struct {
	Type           StreamEventType
	ConversationID string
	TokenPreview   *domain.TokenPreview
	Content        string
	Decision       *DecisionSummary
}

type ChatConfig struct {
	// BuyAmount is the fixed SOL notional of every buy.
	BuyAmount decimal.Decimal
	Metrics   *observ.Metrics
	Now       func() time.Time
}

type ChatService struct {
	engine    TurnEngine
	executor  Executor
	ledger    TradeAppender
	publisher Publisher
	buyAmount decimal.Decimal
	metrics   *observ.Metrics
	now       func() time.Time
	logger    *slog.Logger

	settleMu sync.Mutex
	settled  *expirable.LRU[turnKey, *settlement]
}

type turnKey struct {
	conversationID string
	turnID         string
}

// settlement holds the side effects of one completed turn. once guards
// them so a replayed turn cannot execute twice.
type settlement struct {
	once     sync.Once
	decision *DecisionSummary
	purchase *domain.TradeRecord
	note     string
}

func NewChatService(engine TurnEngine, executor Executor, ledger TradeAppender, publisher Publisher, cfg ChatConfig, logger *slog.Logger) (*ChatService, error) {
	if engine == nil {
		return nil, errors.New("usecase: turn engine must not be nil")
	}
	if executor == nil {
		return nil, errors.New("usecase: executor must not be nil")
	}
	if ledger == nil {
		return nil, errors.New("usecase: trade ledger must not be nil")
	}
	if publisher == nil {
		return nil, errors.New("usecase: event publisher must not be nil")
	}
	if !cfg.BuyAmount.IsPositive() {
		cfg.BuyAmount = defaultBuyAmount
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		engine:    engine,
		executor:  executor,
		ledger:    ledger,
		publisher: publisher,
		buyAmount: cfg.BuyAmount,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		logger:    logger,
		settled:   expirable.NewLRU[turnKey, *settlement](settledEntries, nil, settledTTL),
	}, nil
}

// Chat runs one turn and settles its decision.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	return s.ChatStream(ctx, in, nil)
}

// ChatStream runs one turn, emitting a token event for a surfaced snapshot,
// chunk events in generation order and finally the decision event. emit
// errors stop forwarding only; the decision is still settled.
func (s *ChatService) ChatStream(ctx context.Context, in ChatInput, emit func(StreamEvent) error) (ChatOutput, error) {
	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}
	log := s.logger.With("conversation_id", convID, "identity", in.Identity.ID)

	forwarding := emit != nil
	send := func(ev StreamEvent) {
		if !forwarding {
			return
		}
		if err := emit(ev); err != nil {
			log.Debug("client stopped receiving stream", "err", err)
			forwarding = false
		}
	}

	reply, err := s.engine.AdvanceStream(ctx, convID, in.Message, func(ev decision.Event) error {
		switch ev.Kind {
		case decision.EventSnapshot:
			preview := marketdata.Preview(*ev.Snapshot, s.now())
			send(StreamEvent{Type: StreamToken, ConversationID: convID, TokenPreview: &preview})
		case decision.EventChunk:
			send(StreamEvent{Type: StreamChunk, Content: ev.Chunk})
		}
		return nil
	})
	if err != nil {
		return ChatOutput{}, mapTurnError(err)
	}

	st := s.settleOnce(ctx, in.Identity, reply)

	out := ChatOutput{
		Message:        reply.Text + st.note,
		ConversationID: convID,
		Decision:       st.decision,
		Purchase:       st.purchase,
	}
	if reply.Snapshot != nil {
		preview := marketdata.Preview(*reply.Snapshot, s.now())
		out.TokenPreview = &preview
	}
	if st.note != "" {
		send(StreamEvent{Type: StreamChunk, Content: st.note})
	}
	if st.decision != nil {
		send(StreamEvent{Type: StreamDecision, Decision: st.decision})
	}
	return out, nil
}

// settleOnce applies the side effects of a completed turn exactly once per
// (conversation, turn ID), however often it is called. A reply without a turn
// ID cannot be told apart from another turn and is settled on its own.
func (s *ChatService) settleOnce(ctx context.Context, id domain.Identity, reply decision.Reply) *settlement {
	if reply.TurnID == "" {
		st := &settlement{}
		s.apply(ctx, st, id, reply)
		return st
	}
	key := turnKey{conversationID: reply.ConversationID, turnID: reply.TurnID}

	s.settleMu.Lock()
	st, ok := s.settled.Get(key)
	if !ok {
		st = &settlement{}
		s.settled.Add(key, st)
	}
	s.settleMu.Unlock()

	st.once.Do(func() {
		s.apply(ctx, st, id, reply)
	})
	return st
}

func (s *ChatService) apply(ctx context.Context, st *settlement, id domain.Identity, reply decision.Reply) {
	log := s.logger.With("conversation_id", reply.ConversationID, "identity", id.ID, "turn", reply.Turn, "turn_id", reply.TurnID)

	if reply.Snapshot != nil {
		s.publisher.Publish(events.Pitched(*reply.Snapshot, s.now()))
	}

	d := reply.Decision
	if d == nil {
		return
	}
	s.metrics.Decision(string(d.Verdict))
	if reply.Switched {
		s.metrics.LockOverride()
		log.Info("buying the locked token instead of the parsed target", "token", d.Target)
	}

	switch d.Verdict {
	case domain.VerdictDecline:
		st.decision = &DecisionSummary{Action: domain.VerdictDecline, Reasoning: d.Rationale}
		if reply.Subject != nil {
			s.publisher.Publish(events.Rejected(*reply.Subject, d.Rationale, s.now()))
		}
	case domain.VerdictAct:
		if !d.Executable() {
			log.Warn("buy decision without a usable target, skipping execution")
			return
		}
		res, err := s.executor.Execute(ctx, d.Target, s.buyAmount)
		if err != nil {
			log.Error("swap failed", "token", d.Target, "err", err)
			st.note = FailureNote
			return
		}
		rec := s.tradeRecord(id, d, res, reply.Subject)
		if err := s.ledger.AppendTrade(context.WithoutCancel(ctx), rec); err != nil {
			if errors.Is(err, repository.ErrDuplicateTrade) {
				log.Info("trade already recorded", "signature", res.Signature)
			} else {
				log.Error("failed to record trade", "signature", res.Signature, "err", err)
			}
		}
		st.purchase = &rec
		amount := rec.AmountToken
		st.decision = &DecisionSummary{
			Action:    domain.VerdictAct,
			Token:     res.TokenAddress,
			Amount:    &amount,
			Reasoning: d.Rationale,
		}
		var snap *domain.Snapshot
		if reply.Subject != nil && reply.Subject.Address == res.TokenAddress {
			snap = reply.Subject
		}
		s.publisher.Publish(events.Bought(snap, res, s.now()))
		log.Info("purchase recorded", "token", res.TokenAddress, "signature", res.Signature)
	}
}

func (s *ChatService) tradeRecord(id domain.Identity, d *domain.Decision, res domain.ExecutionResult, subject *domain.Snapshot) domain.TradeRecord {
	symbol := domain.UnknownSymbol
	if subject != nil && subject.Address == res.TokenAddress && knownSymbol(subject.Symbol) {
		symbol = subject.Symbol
	}
	return domain.TradeRecord{
		ID:            newUUID(),
		TokenAddress:  res.TokenAddress,
		TokenSymbol:   symbol,
		AmountSol:     res.AmountSpent.InexactFloat64(),
		AmountToken:   res.AmountOut.InexactFloat64(),
		PricePerToken: res.PricePerToken().InexactFloat64(),
		Reasoning:     d.Rationale,
		TxSignature:   res.Signature,
		Timestamp:     s.now().UTC().Format(timestampLayout),
		UserID:        id.ID,
		UserType:      string(id.Class),
	}
}

func knownSymbol(symbol string) bool {
	return symbol != "" && symbol != "???" && symbol != domain.UnknownSymbol
}

func mapTurnError(err error) error {
	var upstream *decision.UpstreamError
	switch {
	case errors.Is(err, decision.ErrEmptyMessage):
		return newError(ErrorInvalidInput, reasonEmptyMessage, err)
	case errors.Is(err, decision.ErrMessageTooLong):
		return newError(ErrorInvalidInput, reasonMessageTooLong, err)
	case errors.Is(err, decision.ErrFlagged):
		return newError(ErrorInvalidQuestion, reasonFlagged, err)
	case errors.As(err, &upstream):
		if status, ok := upstreamStatusCode(err); ok && status == 429 {
			return newError(ErrorRateLimited, upstream.Op+"_rate_limited", err)
		}
		return newError(ErrorUpstream, upstream.Op+"_error", err)
	default:
		return newError(ErrorInternal, "turn_error", fmt.Errorf("usecase: chat: %w", err))
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
