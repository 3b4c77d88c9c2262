package events

import (
	"sync"

	"vibe-trader/internal/domain"
	"vibe-trader/internal/observ"
)

// DefaultBuffer is the per-subscriber queue depth used when Subscribe is
// given a non-positive size.
const DefaultBuffer = 16

// Broadcaster fans token events out to live subscribers. Publish never
// blocks: a subscriber whose queue is full misses the event.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[uint64]chan domain.TokenEvent
	nextID  uint64
	metrics *observ.Metrics
}

func NewBroadcaster(metrics *observ.Metrics) *Broadcaster {
	return &Broadcaster{
		subs:    make(map[uint64]chan domain.TokenEvent),
		metrics: metrics,
	}
}

// Subscribe registers a new subscriber. The returned cancel func removes it
// and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan domain.TokenEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan domain.TokenEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Broadcaster) Publish(ev domain.TokenEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.metrics.EventDropped()
		}
	}
}

// Len reports the number of registered subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
