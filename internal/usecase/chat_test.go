package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"vibe-trader/internal/decision"
	"vibe-trader/internal/domain"
	"vibe-trader/internal/observ"
	"vibe-trader/internal/repository"
)

const testMint = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"

var chatNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// ---- fakes ----

type mockEngine struct {
	reply  decision.Reply
	err    error
	events []decision.Event
	in     string
}

func (m *mockEngine) AdvanceStream(_ context.Context, id, text string, emit func(decision.Event) error) (decision.Reply, error) {
	m.in = text
	for _, ev := range m.events {
		if err := emit(ev); err != nil {
			break
		}
	}
	if m.err != nil {
		return decision.Reply{}, m.err
	}
	r := m.reply
	r.ConversationID = id
	return r, nil
}

type mockExecutor struct {
	mu     sync.Mutex
	calls  int
	target string
	amount decimal.Decimal
	res    domain.ExecutionResult
	err    error
}

func (m *mockExecutor) Execute(_ context.Context, target string, amount decimal.Decimal) (domain.ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.target = target
	m.amount = amount
	return m.res, m.err
}

type mockLedger struct {
	mu     sync.Mutex
	trades []domain.TradeRecord
	seen   map[string]bool
	err    error
}

func (m *mockLedger) AppendTrade(_ context.Context, rec domain.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[rec.TxSignature] {
		return repository.ErrDuplicateTrade
	}
	m.seen[rec.TxSignature] = true
	m.trades = append(m.trades, rec)
	return nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.TokenEvent
}

func (m *mockPublisher) Publish(ev domain.TokenEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockPublisher) types() []domain.TokenEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TokenEventType, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return "status" }
func (e statusErr) HTTPStatusCode() int { return e.code }

// ---- helpers ----

func testSnapshot() *domain.Snapshot {
	mc := 1_500_000.0
	return &domain.Snapshot{
		Address:   testMint,
		Name:      "Bonk Two",
		Symbol:    "BONK2",
		PriceUSD:  "0.0012",
		Liquidity: 250_000,
		MarketCap: &mc,
	}
}

func successResult() domain.ExecutionResult {
	return domain.ExecutionResult{
		Signature:    "5sig",
		TokenAddress: testMint,
		AmountSpent:  decimal.RequireFromString("0.1"),
		AmountOut:    decimal.RequireFromString("2000"),
	}
}

type chatFixture struct {
	engine    *mockEngine
	executor  *mockExecutor
	ledger    *mockLedger
	publisher *mockPublisher
	svc       *ChatService
}

func newChatFixture(t *testing.T, reply decision.Reply) *chatFixture {
	t.Helper()
	f := &chatFixture{
		engine:    &mockEngine{reply: reply},
		executor:  &mockExecutor{res: successResult()},
		ledger:    &mockLedger{},
		publisher: &mockPublisher{},
	}
	svc, err := NewChatService(f.engine, f.executor, f.ledger, f.publisher, ChatConfig{
		BuyAmount: decimal.RequireFromString("0.1"),
		Now:       func() time.Time { return chatNow },
	}, nil)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func buyReply(turn int) decision.Reply {
	snap := testSnapshot()
	return decision.Reply{
		Text:          "Love it. DECISION: BUY " + testMint,
		Decision:      &domain.Decision{Verdict: domain.VerdictAct, Target: testMint, Rationale: "Love it. DECISION: BUY " + testMint},
		Snapshot:      snap,
		Subject:       snap,
		LockedAddress: testMint,
		Turn:          turn,
		TurnID:        fmt.Sprintf("turn-%d", turn),
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

// ---- tests ----

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	e, x, l, p := &mockEngine{}, &mockExecutor{}, &mockLedger{}, &mockPublisher{}
	_, err := NewChatService(nil, x, l, p, ChatConfig{}, nil)
	require.Error(t, err)
	_, err = NewChatService(e, nil, l, p, ChatConfig{}, nil)
	require.Error(t, err)
	_, err = NewChatService(e, x, nil, p, ChatConfig{}, nil)
	require.Error(t, err)
	_, err = NewChatService(e, x, l, nil, ChatConfig{}, nil)
	require.Error(t, err)

	svc, err := NewChatService(e, x, l, p, ChatConfig{}, nil)
	require.NoError(t, err)
	require.True(t, svc.buyAmount.Equal(defaultBuyAmount))
}

func TestChat_BuyExecutesAndRecords(t *testing.T) {
	f := newChatFixture(t, buyReply(1))

	out, err := f.svc.Chat(context.Background(), ChatInput{
		Message:        "check out " + testMint,
		ConversationID: "conv-1",
		Identity:       domain.Identity{ID: "user_abc", Class: domain.IdentityUser},
	})
	require.NoError(t, err)
	require.Equal(t, "conv-1", out.ConversationID)
	require.Equal(t, "Love it. DECISION: BUY "+testMint, out.Message)

	require.Equal(t, 1, f.executor.calls)
	require.Equal(t, testMint, f.executor.target)
	require.True(t, f.executor.amount.Equal(decimal.RequireFromString("0.1")))

	require.NotNil(t, out.Decision)
	require.Equal(t, domain.VerdictAct, out.Decision.Action)
	require.Equal(t, testMint, out.Decision.Token)
	require.NotNil(t, out.Decision.Amount)
	require.InDelta(t, 2000, *out.Decision.Amount, 1e-9)

	require.Len(t, f.ledger.trades, 1)
	rec := f.ledger.trades[0]
	require.Equal(t, "5sig", rec.TxSignature)
	require.Equal(t, "BONK2", rec.TokenSymbol)
	require.InDelta(t, 0.1, rec.AmountSol, 1e-12)
	require.InDelta(t, 0.00005, rec.PricePerToken, 1e-12)
	require.Equal(t, "2026-05-04T12:00:00.000Z", rec.Timestamp)
	require.Equal(t, "user_abc", rec.UserID)
	require.Equal(t, "user", rec.UserType)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, &rec, out.Purchase)

	require.Equal(t, []domain.TokenEventType{domain.TokenPitched, domain.TokenBought}, f.publisher.types())
	require.NotNil(t, out.TokenPreview)
	require.Equal(t, "BONK2", out.TokenPreview.Symbol)
}

func TestChat_GeneratesConversationID(t *testing.T) {
	orig := newUUID
	newUUID = func() string { return "generated-id" }
	t.Cleanup(func() { newUUID = orig })

	f := newChatFixture(t, decision.Reply{Text: "hi", Turn: 1})
	out, err := f.svc.Chat(context.Background(), ChatInput{Message: "hello", ConversationID: "   "})
	require.NoError(t, err)
	require.Equal(t, "generated-id", out.ConversationID)
	require.Nil(t, out.Decision)
	require.Zero(t, f.executor.calls)
	require.Empty(t, f.publisher.types())
}

func TestChat_PassPublishesRejected(t *testing.T) {
	snap := testSnapshot()
	f := newChatFixture(t, decision.Reply{
		Text:     "Too thin. DECISION: PASS",
		Decision: &domain.Decision{Verdict: domain.VerdictDecline, Rationale: "Too thin. DECISION: PASS"},
		Subject:  snap,
		Turn:     2,
	})

	out, err := f.svc.Chat(context.Background(), ChatInput{Message: "still no?", ConversationID: "conv-2"})
	require.NoError(t, err)
	require.Equal(t, &DecisionSummary{Action: domain.VerdictDecline, Reasoning: "Too thin. DECISION: PASS"}, out.Decision)
	require.Zero(t, f.executor.calls)
	require.Empty(t, f.ledger.trades)
	require.Equal(t, []domain.TokenEventType{domain.TokenRejected}, f.publisher.types())
	require.Nil(t, out.TokenPreview)
}

func TestChat_PassWithoutSubjectPublishesNothing(t *testing.T) {
	f := newChatFixture(t, decision.Reply{
		Text:     "DECISION: PASS",
		Decision: &domain.Decision{Verdict: domain.VerdictDecline, Rationale: "DECISION: PASS"},
		Turn:     1,
	})
	_, err := f.svc.Chat(context.Background(), ChatInput{Message: "meh", ConversationID: "c"})
	require.NoError(t, err)
	require.Empty(t, f.publisher.types())
}

func TestChat_BuyWithoutTargetSkipsExecution(t *testing.T) {
	f := newChatFixture(t, decision.Reply{
		Text:     "DECISION: BUY",
		Decision: &domain.Decision{Verdict: domain.VerdictAct, Rationale: "DECISION: BUY"},
		Turn:     1,
	})
	out, err := f.svc.Chat(context.Background(), ChatInput{Message: "buy it", ConversationID: "c"})
	require.NoError(t, err)
	require.Nil(t, out.Decision)
	require.Zero(t, f.executor.calls)
	require.Empty(t, f.ledger.trades)
}

func TestChat_NonIdentifierTargetSkipsExecution(t *testing.T) {
	for _, text := range []string{
		"Sold. DECISION: BUY <token_address>",
		"Sold.\nDECISION: BUY <token_address>",
		"Sold.\nDECISION: BUY IT NOW",
		"Sold.\nDECISION: BUY ING",
		"Soon.\nDECISION: BUYING more soon",
	} {
		t.Run(text, func(t *testing.T) {
			d := decision.Parse(text)
			switched := decision.Enforce(d, testMint)
			f := newChatFixture(t, decision.Reply{
				Text:          text,
				Decision:      d,
				LockedAddress: testMint,
				Turn:          1,
				TurnID:        "turn-1",
				Switched:      switched,
			})

			out, err := f.svc.Chat(context.Background(), ChatInput{Message: "pitch: " + testMint, ConversationID: "c"})
			require.NoError(t, err)
			require.False(t, switched)
			require.Zero(t, f.executor.calls)
			require.Equal(t, text, out.Message)
			require.NotContains(t, out.Message, FailureNote)
			require.Nil(t, out.Decision)
			require.Nil(t, out.Purchase)
			require.Empty(t, f.ledger.trades)
		})
	}
}

func TestChat_LockOverrideIsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newChatFixture(t, buyReply(1))
	f.svc.metrics = observ.NewMetrics(reg)
	f.engine.reply.Switched = true

	_, err := f.svc.Chat(context.Background(), ChatInput{Message: "buy the other one", ConversationID: "c"})
	require.NoError(t, err)
	require.Equal(t, 1, f.executor.calls)
	require.Equal(t, testMint, f.executor.target)
	require.Equal(t, 1.0, counterValue(t, reg, "vibe_trader_decision_lock_overrides_total"))

	f = newChatFixture(t, buyReply(1))
	reg = prometheus.NewRegistry()
	f.svc.metrics = observ.NewMetrics(reg)
	_, err = f.svc.Chat(context.Background(), ChatInput{Message: testMint, ConversationID: "c"})
	require.NoError(t, err)
	require.Zero(t, counterValue(t, reg, "vibe_trader_decision_lock_overrides_total"))
}

func TestChat_SwapFailureAppendsNote(t *testing.T) {
	f := newChatFixture(t, buyReply(1))
	f.executor.err = errors.New("insufficient lamports")

	out, err := f.svc.Chat(context.Background(), ChatInput{Message: testMint, ConversationID: "c"})
	require.NoError(t, err)
	require.Equal(t, "Love it. DECISION: BUY "+testMint+FailureNote, out.Message)
	require.Nil(t, out.Decision)
	require.Nil(t, out.Purchase)
	require.Empty(t, f.ledger.trades)
	require.Equal(t, []domain.TokenEventType{domain.TokenPitched}, f.publisher.types())
}

func TestChat_LedgerFailureStillReportsPurchase(t *testing.T) {
	f := newChatFixture(t, buyReply(1))
	f.ledger.err = errors.New("db down")

	out, err := f.svc.Chat(context.Background(), ChatInput{Message: testMint, ConversationID: "c"})
	require.NoError(t, err)
	require.NotNil(t, out.Decision)
	require.Equal(t, domain.VerdictAct, out.Decision.Action)
	require.Contains(t, f.publisher.types(), domain.TokenBought)
}

func TestChat_UnknownSymbolWhenSubjectDiffers(t *testing.T) {
	reply := buyReply(1)
	other := testSnapshot()
	other.Address = "So11111111111111111111111111111111111111112"
	reply.Subject = other
	f := newChatFixture(t, reply)

	_, err := f.svc.Chat(context.Background(), ChatInput{Message: testMint, ConversationID: "c"})
	require.NoError(t, err)
	require.Len(t, f.ledger.trades, 1)
	require.Equal(t, domain.UnknownSymbol, f.ledger.trades[0].TokenSymbol)
	require.Equal(t, domain.UnknownSymbol, f.publisher.events[len(f.publisher.events)-1].Symbol)
}

func TestSettle_ReplayExecutesOnce(t *testing.T) {
	f := newChatFixture(t, buyReply(1))
	reply := buyReply(1)
	reply.ConversationID = "conv-r"
	id := domain.Identity{ID: "ip:1.2.3.4", Class: domain.IdentityAnonymous}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.settleOnce(context.Background(), id, reply)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, f.executor.calls)
	require.Len(t, f.ledger.trades, 1)

	st := f.svc.settleOnce(context.Background(), id, reply)
	require.NotNil(t, st.decision)
	require.Equal(t, 1, f.executor.calls)

	next := buyReply(2)
	next.ConversationID = "conv-r"
	f.svc.settleOnce(context.Background(), id, next)
	require.Equal(t, 2, f.executor.calls)
	// Same signature from the venue: the ledger keeps one row.
	require.Len(t, f.ledger.trades, 1)
}

func TestSettle_RecreatedConversationExecutesAgain(t *testing.T) {
	f := newChatFixture(t, buyReply(1))
	id := domain.Identity{ID: "ip:1.2.3.4", Class: domain.IdentityAnonymous}

	first := buyReply(1)
	first.ConversationID = "conv-r"
	f.svc.settleOnce(context.Background(), id, first)
	require.Equal(t, 1, f.executor.calls)

	// Same conversation ID and turn number after eviction, but a new turn.
	recreated := buyReply(1)
	recreated.ConversationID = "conv-r"
	recreated.TurnID = "turn-1-after-eviction"
	f.executor.res.Signature = "6sig"
	st := f.svc.settleOnce(context.Background(), id, recreated)
	require.Equal(t, 2, f.executor.calls)
	require.NotNil(t, st.purchase)
	require.Equal(t, "6sig", st.purchase.TxSignature)
	require.Len(t, f.ledger.trades, 2)
}

func TestSettle_WithoutTurnIDIsNotShared(t *testing.T) {
	f := newChatFixture(t, buyReply(1))
	id := domain.Identity{ID: "ip:1.2.3.4", Class: domain.IdentityAnonymous}

	reply := buyReply(1)
	reply.ConversationID = "conv-n"
	reply.TurnID = ""
	f.svc.settleOnce(context.Background(), id, reply)
	f.svc.settleOnce(context.Background(), id, reply)
	require.Equal(t, 2, f.executor.calls)
	require.Zero(t, f.svc.settled.Len())
}

func TestChatStream_EventOrder(t *testing.T) {
	f := newChatFixture(t, buyReply(1))
	f.engine.events = []decision.Event{
		{Kind: decision.EventSnapshot, Snapshot: testSnapshot()},
		{Kind: decision.EventChunk, Chunk: "Love it. "},
		{Kind: decision.EventChunk, Chunk: "DECISION: BUY " + testMint},
	}

	var got []StreamEvent
	out, err := f.svc.ChatStream(context.Background(), ChatInput{Message: testMint, ConversationID: "conv-s"}, func(ev StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, StreamToken, got[0].Type)
	require.Equal(t, "conv-s", got[0].ConversationID)
	require.Equal(t, "BONK2", got[0].TokenPreview.Symbol)
	require.Equal(t, StreamChunk, got[1].Type)
	require.Equal(t, StreamChunk, got[2].Type)
	require.Equal(t, StreamDecision, got[3].Type)
	require.Equal(t, out.Decision, got[3].Decision)
}

func TestChatStream_FailureNoteIsStreamed(t *testing.T) {
	f := newChatFixture(t, buyReply(1))
	f.executor.err = errors.New("boom")

	var got []StreamEvent
	_, err := f.svc.ChatStream(context.Background(), ChatInput{Message: testMint, ConversationID: "c"}, func(ev StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, StreamEvent{Type: StreamChunk, Content: FailureNote}, got[0])
}

func TestChatStream_EmitErrorStillSettles(t *testing.T) {
	f := newChatFixture(t, buyReply(1))
	f.engine.events = []decision.Event{
		{Kind: decision.EventChunk, Chunk: "a"},
		{Kind: decision.EventChunk, Chunk: "b"},
	}

	calls := 0
	out, err := f.svc.ChatStream(context.Background(), ChatInput{Message: testMint, ConversationID: "c"}, func(StreamEvent) error {
		calls++
		return errors.New("client gone")
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, f.executor.calls)
	require.NotNil(t, out.Decision)
}

func TestChat_MapsTurnErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   ErrorCode
		reason string
	}{
		{name: "empty", err: decision.ErrEmptyMessage, code: ErrorInvalidInput, reason: reasonEmptyMessage},
		{name: "too long", err: decision.ErrMessageTooLong, code: ErrorInvalidInput, reason: reasonMessageTooLong},
		{name: "flagged", err: decision.ErrFlagged, code: ErrorInvalidQuestion, reason: reasonFlagged},
		{name: "generation 429", err: &decision.UpstreamError{Op: "generation", Err: statusErr{code: 429}}, code: ErrorRateLimited, reason: "generation_rate_limited"},
		{name: "generation 500", err: &decision.UpstreamError{Op: "generation", Err: statusErr{code: 500}}, code: ErrorUpstream, reason: "generation_error"},
		{name: "moderation", err: &decision.UpstreamError{Op: "moderation", Err: errors.New("dial")}, code: ErrorUpstream, reason: "moderation_error"},
		{name: "other", err: errors.New("weird"), code: ErrorInternal, reason: "turn_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newChatFixture(t, decision.Reply{})
			f.engine.err = tc.err

			_, err := f.svc.Chat(context.Background(), ChatInput{Message: "x", ConversationID: "c"})
			var ucErr *Error
			require.ErrorAs(t, err, &ucErr)
			require.Equal(t, tc.code, ucErr.Code)
			require.Equal(t, tc.reason, ucErr.Reason)
			require.ErrorIs(t, err, tc.err)
			require.Zero(t, f.executor.calls)
		})
	}
}

func TestError_Public(t *testing.T) {
	require.Equal(t, "Message is required", newError(ErrorInvalidInput, reasonEmptyMessage, nil).Public())
	require.Equal(t, "Upstream service unavailable", newError(ErrorUpstream, "generation_error", errors.New("secret detail")).Public())
	require.Equal(t, "Internal server error", newError(ErrorInternal, "x", nil).Public())
	var nilErr *Error
	require.Empty(t, nilErr.Public())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrorInvalidInput:    400,
		ErrorInvalidQuestion: 400,
		ErrorRateLimited:     429,
		ErrorUpstream:        502,
		ErrorInternal:        500,
	}
	for code, want := range cases {
		require.Equal(t, want, HTTPStatus(newError(code, "r", nil)), code)
	}
	require.Equal(t, 500, HTTPStatus(errors.New("plain")))
	require.Equal(t, "Internal server error", PublicMessage(errors.New("plain")))
}
