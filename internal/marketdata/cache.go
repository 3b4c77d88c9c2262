package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"vibe-trader/internal/observ"
)

const (
	TokenTTL  = 30 * time.Second
	SearchTTL = 5 * time.Minute

	tokenPrefix  = "codex:token:"
	searchPrefix = "codex:search:"
)

// ErrCacheMiss is returned by a Backend when a key is absent or expired.
var ErrCacheMiss = errors.New("marketdata: cache miss")

// Backend stores opaque values with a per-key TTL.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisBackend shares cached snapshots across processes.
type RedisBackend struct {
	client redisAPI
}

func NewRedisBackend(client redisAPI) (*RedisBackend, error) {
	if client == nil {
		return nil, errors.New("marketdata: redis client must not be nil")
	}
	return &RedisBackend{client: client}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("marketdata: redis get: %w", err)
	}
	return val, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("marketdata: redis set: %w", err)
	}
	return nil
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is a process-local bounded cache. The LRU TTL bounds idle
// entries; each entry also carries its own deadline.
type MemoryBackend struct {
	mu    sync.Mutex
	lru   *expirable.LRU[string, memoryEntry]
	nowFn func() time.Time
}

func NewMemoryBackend(size int) *MemoryBackend {
	if size <= 0 {
		size = 1024
	}
	return &MemoryBackend{
		lru:   expirable.NewLRU[string, memoryEntry](size, nil, SearchTTL),
		nowFn: time.Now,
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !b.nowFn().Before(e.expiresAt) {
		b.lru.Remove(key)
		return nil, ErrCacheMiss
	}
	return e.value, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lru.Add(key, memoryEntry{value: value, expiresAt: b.nowFn().Add(ttl)})
	return nil
}

// Cache wraps a Backend and never fails: backend errors are logged and the
// caller falls through to the provider.
type Cache struct {
	backend Backend
	logger  *slog.Logger
	metrics *observ.Metrics
}

func NewCache(backend Backend, logger *slog.Logger, metrics *observ.Metrics) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: backend, logger: logger, metrics: metrics}
}

func tokenKey(address string) string {
	return tokenPrefix + address
}

func searchKey(query string) string {
	return searchPrefix + strings.ToLower(query)
}

// remember returns the cached value for key or calls fetch and caches its
// result. ok=false results are not cached.
func remember[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func() (T, bool)) T {
	if c == nil || c.backend == nil {
		v, _ := fetch()
		return v
	}
	raw, err := c.backend.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		decErr := json.Unmarshal(raw, &v)
		if decErr == nil {
			c.metrics.CacheLookup("hit")
			return v
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key, "err", decErr)
	case errors.Is(err, ErrCacheMiss):
		c.metrics.CacheLookup("miss")
	default:
		c.metrics.CacheLookup("error")
		c.logger.Warn("snapshot cache read failed", "key", key, "err", err)
	}

	v, ok := fetch()
	if !ok {
		return v
	}
	buf, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("snapshot cache encode failed", "key", key, "err", err)
		return v
	}
	if err := c.backend.Set(ctx, key, buf, ttl); err != nil {
		c.logger.Warn("snapshot cache write failed", "key", key, "err", err)
	}
	return v
}
