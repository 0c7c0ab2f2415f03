package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

// DefaultDedupeWindow suppresses repeats of a key for this long.
const DefaultDedupeWindow = 2 * time.Minute

const redisKeyPrefix = "waypoint:alert:"

var errMissingEmitter = errors.New("notify: downstream emitter required")

// DedupeStore claims a key for a window. Claim returns false when the key is already held.
type DedupeStore interface {
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
}

// DedupeConfig configures a Deduper.
type DedupeConfig struct {
	Next   Emitter
	Store  DedupeStore
	Window time.Duration
	Logger *zap.Logger
}

// Deduper drops alerts whose key was already delivered within the window.
type Deduper struct {
	next   Emitter
	store  DedupeStore
	window time.Duration
	logger *zap.Logger
}

func NewDeduper(cfg DedupeConfig) (*Deduper, error) {
	if cfg.Next == nil {
		return nil, errMissingEmitter
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryDedupeStore(nil)
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{next: cfg.Next, store: store, window: window, logger: logger}, nil
}

// Notify forwards the alert unless its key is held. A failing store does not block delivery.
func (d *Deduper) Notify(ctx context.Context, alert Alert) error {
	if alert.DedupeKey != "" {
		claimed, err := d.store.Claim(ctx, alert.DedupeKey, d.window)
		if err != nil {
			d.logger.Warn("dedupe store unavailable", zap.String("dedupe_key", alert.DedupeKey), zap.Error(err))
		} else if !claimed {
			d.logger.Debug("alert suppressed", zap.String("dedupe_key", alert.DedupeKey))
			return nil
		}
	}
	return d.next.Notify(ctx, alert)
}

// MemoryDedupeStore keeps claims in process memory.
type MemoryDedupeStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
	clock  func() time.Time
}

func NewMemoryDedupeStore(clock func() time.Time) *MemoryDedupeStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryDedupeStore{claims: make(map[string]time.Time), clock: clock}
}

func (s *MemoryDedupeStore) Claim(_ context.Context, key string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if expiresAt, ok := s.claims[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.claims[key] = now.Add(window)
	return true, nil
}

// Sweep drops expired claims and returns how many were removed.
func (s *MemoryDedupeStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	removed := 0
	for key, expiresAt := range s.claims {
		if !now.Before(expiresAt) {
			delete(s.claims, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of held claims, expired or not.
func (s *MemoryDedupeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

// RedisDedupeStore claims keys with SET NX so claims outlive an agent restart.
type RedisDedupeStore struct {
	client redis.UniversalClient
}

func NewRedisDedupeStore(client redis.UniversalClient) *RedisDedupeStore {
	return &RedisDedupeStore{client: client}
}

// DialRedisDedupeStore connects to address and verifies the server responds.
func DialRedisDedupeStore(ctx context.Context, address string) (*RedisDedupeStore, error) {
	client := redis.NewClient(&redis.Options{Addr: address})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisDedupeStore(client), nil
}

func (s *RedisDedupeStore) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	return s.client.SetNX(ctx, redisKeyPrefix+key, 1, window).Result()
}

// Close releases the redis connection pool.
func (s *RedisDedupeStore) Close() error {
	return s.client.Close()
}
