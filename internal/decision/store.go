package decision

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"vibe-trader/internal/domain"
)

const (
	defaultMaxConversations = 10000
	defaultIdleTTL          = 2 * time.Hour
)

// Conversation is the process-local state of one dialogue. Its mutex is held
// for an entire turn, so a second turn for the same ID waits until the first
// has stored its answer.
type Conversation struct {
	ID string

	mu       sync.Mutex
	turns    []domain.Turn
	lock     addressLock
	surfaced map[string]domain.Snapshot
	last     string
	turnSeq  int
}

// subject returns the snapshot a decision in this conversation is about: the
// locked address when it was surfaced, otherwise the last surfaced snapshot.
// Callers hold c.mu.
func (c *Conversation) subject() *domain.Snapshot {
	key := c.lock.locked
	if key == "" {
		key = c.last
	}
	s, ok := c.surfaced[key]
	if !ok {
		return nil
	}
	return &s
}

// Store is a bounded keyed store of conversations. Entries are evicted when
// the store is full (least recently used first) or after idleTTL without a
// completed turn.
type Store struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *Conversation]
}

// NewStore creates a Store. Non-positive arguments select the defaults.
func NewStore(maxEntries int, idleTTL time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = defaultMaxConversations
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &Store{cache: expirable.NewLRU[string, *Conversation](maxEntries, nil, idleTTL)}
}

// GetOrCreate returns the conversation for id, creating it on first use.
func (s *Store) GetOrCreate(id string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cache.Get(id); ok {
		return c
	}
	c := &Conversation{ID: id, surfaced: map[string]domain.Snapshot{}}
	s.cache.Add(id, c)
	return c
}

// touch refreshes the idle deadline of a conversation.
func (s *Store) touch(c *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(c.ID, c)
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	return s.cache.Len()
}
