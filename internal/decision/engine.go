package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"vibe-trader/internal/domain"
	"vibe-trader/internal/marketdata"
)

const defaultMaxMessageLen = 4000

var (
	ErrEmptyMessage    = errors.New("decision: message must not be empty")
	ErrMessageTooLong  = errors.New("decision: message too long")
	ErrFlagged         = errors.New("decision: message flagged by moderation")
	ErrEmptyGeneration = errors.New("decision: generation returned no text")
)

// UpstreamError wraps a failed moderation or generation call. The turn that
// produced it left no trace in the conversation.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("decision: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Generator streams a chat completion, calling onDelta for every fragment in
// generation order, and returns the full text.
type Generator interface {
	ChatStream(ctx context.Context, model string, messages []domain.ChatMessage, onDelta func(string)) (string, error)
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type SnapshotResolver interface {
	ResolveText(ctx context.Context, text string) *domain.Snapshot
}

// PortfolioContext renders the current balance and holdings as a prompt block.
type PortfolioContext interface {
	PortfolioContext(ctx context.Context) (string, error)
}

type EventKind int

const (
	EventSnapshot EventKind = iota + 1
	EventChunk
)

// Event is an intermediate streaming item. The terminal item is the Reply
// returned by AdvanceStream.
type Event struct {
	Kind     EventKind
	Snapshot *domain.Snapshot
	Chunk    string
}

type Reply struct {
	ConversationID string
	Text           string
	Decision       *domain.Decision
	// Snapshot is the snapshot surfaced by this turn, if any.
	Snapshot *domain.Snapshot
	// Subject is the surfaced snapshot the conversation is about.
	Subject       *domain.Snapshot
	LockedAddress string
	// Turn numbers completed turns within the conversation, starting at 1.
	// It restarts when an evicted conversation is recreated.
	Turn int
	// TurnID is unique per completed turn across the process lifetime.
	TurnID string
	// Switched reports that the lock replaced the parsed decision target.
	Switched bool
}

type Config struct {
	Model         string
	MaxMessageLen int
	// Moderator is optional; nil skips moderation.
	Moderator Moderator
	Now       func() time.Time
}

type Engine struct {
	store     *Store
	gen       Generator
	snapshots SnapshotResolver
	portfolio PortfolioContext
	moderator Moderator
	model     string
	maxLen    int
	now       func() time.Time
	logger    *slog.Logger
}

func NewEngine(store *Store, gen Generator, snapshots SnapshotResolver, portfolio PortfolioContext, cfg Config, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("decision: store must not be nil")
	}
	if gen == nil {
		return nil, errors.New("decision: generator must not be nil")
	}
	if snapshots == nil {
		return nil, errors.New("decision: snapshot resolver must not be nil")
	}
	if portfolio == nil {
		return nil, errors.New("decision: portfolio context must not be nil")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("decision: model must not be empty")
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = defaultMaxMessageLen
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		gen:       gen,
		snapshots: snapshots,
		portfolio: portfolio,
		moderator: cfg.Moderator,
		model:     model,
		maxLen:    cfg.MaxMessageLen,
		now:       cfg.Now,
		logger:    logger,
	}, nil
}

// Advance runs one turn and returns the complete reply.
func (e *Engine) Advance(ctx context.Context, conversationID, humanText string) (Reply, error) {
	return e.AdvanceStream(ctx, conversationID, humanText, nil)
}

// AdvanceStream runs one turn, emitting a snapshot event when the human text
// resolves to a token and a chunk event per generated fragment. If emit
// returns an error, forwarding stops but the turn still completes.
func (e *Engine) AdvanceStream(ctx context.Context, conversationID, humanText string, emit func(Event) error) (Reply, error) {
	text := strings.TrimSpace(humanText)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	if len(text) > e.maxLen {
		return Reply{}, ErrMessageTooLong
	}
	if conversationID == "" {
		return Reply{}, errors.New("decision: conversation id must not be empty")
	}

	if e.moderator != nil {
		flagged, err := e.moderator.Moderate(ctx, text)
		if err != nil {
			return Reply{}, &UpstreamError{Op: "moderation", Err: err}
		}
		if flagged {
			return Reply{}, ErrFlagged
		}
	}

	conv := e.store.GetOrCreate(conversationID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	log := e.logger.With("conversation_id", conversationID)
	forwarding := emit != nil
	send := func(ev Event) {
		if !forwarding {
			return
		}
		if err := emit(ev); err != nil {
			log.Debug("stopped forwarding stream events", "err", err)
			forwarding = false
		}
	}

	snapshot, holdings := e.enrichment(ctx, text, log)
	if snapshot != nil {
		send(Event{Kind: EventSnapshot, Snapshot: snapshot})
	}

	locked := conv.lock.candidate(text)
	if locked == "" && snapshot != nil {
		locked = snapshot.Address
	}

	blocks := []string{holdings}
	if snapshot != nil {
		blocks = append(blocks, "[Token Data]\n"+marketdata.Format(*snapshot, e.now()))
	}
	messages := buildPromptMessages(conv.turns, locked, enrich(text, blocks...))

	generated, err := e.gen.ChatStream(ctx, e.model, messages, func(delta string) {
		if delta != "" {
			send(Event{Kind: EventChunk, Chunk: delta})
		}
	})
	if err != nil {
		return Reply{}, &UpstreamError{Op: "generation", Err: err}
	}
	if strings.TrimSpace(generated) == "" {
		return Reply{}, &UpstreamError{Op: "generation", Err: ErrEmptyGeneration}
	}

	if conv.lock.commit(locked) {
		log.Info("conversation locked to token", "token", locked)
	}
	if snapshot != nil {
		conv.surfaced[snapshot.Address] = *snapshot
		conv.last = snapshot.Address
	}
	conv.turns = append(conv.turns,
		domain.Turn{Role: domain.RoleUser, Text: text},
		domain.Turn{Role: domain.RoleAssistant, Text: generated},
	)
	conv.turnSeq++
	e.store.touch(conv)

	reply := Reply{
		ConversationID: conversationID,
		Text:           generated,
		Decision:       Parse(generated),
		Snapshot:       snapshot,
		Subject:        conv.subject(),
		LockedAddress:  conv.lock.locked,
		Turn:           conv.turnSeq,
		TurnID:         newTurnID(),
	}
	if reply.Decision != nil {
		original := reply.Decision.Target
		if Enforce(reply.Decision, reply.LockedAddress) {
			reply.Switched = true
			log.Warn("decision target overridden by address lock", "parsed", original, "token", reply.LockedAddress)
		}
		if reply.Decision.Verdict == domain.VerdictAct && !reply.Decision.Executable() {
			log.Warn("buy decision without a usable target, not executable")
		}
	}
	return reply, nil
}

// enrichment fetches the snapshot and the portfolio block concurrently. Both
// are best effort.
func (e *Engine) enrichment(ctx context.Context, text string, log *slog.Logger) (*domain.Snapshot, string) {
	var (
		snapshot *domain.Snapshot
		holdings string
		wg       conc.WaitGroup
	)
	wg.Go(func() {
		snapshot = e.snapshots.ResolveText(ctx, text)
	})
	wg.Go(func() {
		block, err := e.portfolio.PortfolioContext(ctx)
		if err != nil {
			log.Warn("portfolio context unavailable", "err", err)
			return
		}
		holdings = block
	})
	if r := wg.WaitAndRecover(); r != nil {
		log.Error("enrichment panicked", "err", r.AsError())
	}
	return snapshot, holdings
}

var newTurnID = func() string {
	return uuid.NewString()
}
