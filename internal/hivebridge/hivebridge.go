// Package hivebridge queries fee intelligence gathered by the external
// fleet ("hive") intelligence service, guarded by a circuit breaker so a
// degraded or unreachable fleet never blocks the local decision cycle, and
// cached (Redis-backed when configured, in-process otherwise) so repeated
// queries for the same peer don't hammer the remote service.
package hivebridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/brewgator/revenue-ops/internal/model"
)

// CircuitState is the classic three-state breaker.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// Breaker tracks remote-call health and decides when to stop calling out.
type Breaker struct {
	mu sync.Mutex

	state            CircuitState
	failureThreshold int
	resetTimeout     time.Duration
	consecutiveFails int
	openedAt         time.Time
}

// NewBreaker returns a closed breaker that opens after failureThreshold
// consecutive failures and attempts recovery after resetTimeout.
func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 5 * time.Minute
	}
	return &Breaker{state: StateClosed, failureThreshold: failureThreshold, resetTimeout: resetTimeout}
}

// Allow reports whether a call should be attempted right now, transitioning
// an open breaker to half-open once resetTimeout has elapsed.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) >= b.resetTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.state = StateClosed
}

// RecordFailure counts a failed call, opening the breaker once the
// threshold is hit (immediately, if the failure happened in half-open).
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = now
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.state = StateOpen
		b.openedAt = now
	}
}

// State returns the current breaker state, for diagnostics.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// cacheEntry wraps a cached profile with its fetch time, so a stale read
// can still compute EffectiveConfidence's age-based decay.
type cacheEntry struct {
	Profile model.HiveProfile `json:"profile"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// cacheBackend is satisfied by both the Redis-backed and in-memory caches.
type cacheBackend interface {
	Get(ctx context.Context, key string) (cacheEntry, bool, error)
	Set(ctx context.Context, key string, entry cacheEntry, ttl time.Duration) error
}

// memoryCache is the graceful-degradation fallback when no Redis endpoint
// is configured.
type memoryCache struct {
	mu   sync.RWMutex
	data map[string]cachedWithExpiry
}

type cachedWithExpiry struct {
	entry   cacheEntry
	expires time.Time
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string]cachedWithExpiry)}
}

func (m *memoryCache) Get(_ context.Context, key string) (cacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return cacheEntry{}, false, nil
	}
	return v.entry, true, nil
}

func (m *memoryCache) Set(_ context.Context, key string, entry cacheEntry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = cachedWithExpiry{entry: entry, expires: time.Now().Add(ttl)}
	return nil
}

// redisCmdable is the minimal surface hivebridge needs from a Redis
// client, narrowed the way etalazz-vsa's RedisEvaler narrows Cmdable.
type redisCmdable interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

type redisCache struct {
	client redisCmdable
}

func (r *redisCache) Get(ctx context.Context, key string) (cacheEntry, bool, error) {
	raw, err := r.client.Get(ctx, key)
	if err != nil {
		return cacheEntry{}, false, nil // treat miss/error as cache miss; caller falls back
	}
	if raw == "" {
		return cacheEntry{}, false, nil
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return cacheEntry{}, false, fmt.Errorf("decode cached hive profile: %w", err)
	}
	return entry, true, nil
}

func (r *redisCache) Set(ctx context.Context, key string, entry cacheEntry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode hive profile for cache: %w", err)
	}
	return r.client.Set(ctx, key, string(raw), ttl)
}

// remoteFetcher is the subset of an actual hive-fleet RPC client needed
// here, kept abstract so tests can substitute a fake.
type remoteFetcher interface {
	FetchProfile(ctx context.Context, peerID string) (model.HiveProfile, error)
}

// Bridge queries fleet intelligence with circuit-breaker protection and a
// cache that falls back gracefully to local-only mode.
type Bridge struct {
	remote  remoteFetcher
	breaker *Breaker
	cache   cacheBackend
	freshTTL time.Duration
	staleTTL time.Duration
}

// New returns a Bridge backed by Redis when client is non-nil, or an
// in-process map otherwise.
func New(remote remoteFetcher, client redisCmdable, freshTTL, staleTTL time.Duration) *Bridge {
	if freshTTL <= 0 {
		freshTTL = 30 * time.Minute
	}
	if staleTTL <= 0 {
		staleTTL = 24 * time.Hour
	}
	var backend cacheBackend
	if client != nil {
		backend = &redisCache{client: client}
	} else {
		backend = newMemoryCache()
	}
	return &Bridge{
		remote:   remote,
		breaker:  NewBreaker(3, 5*time.Minute),
		cache:    backend,
		freshTTL: freshTTL,
		staleTTL: staleTTL,
	}
}

// IsAvailable reports whether the remote fleet service is currently
// reachable according to the circuit breaker.
func (b *Bridge) IsAvailable(now time.Time) bool {
	return b.breaker.Allow(now)
}

// BreakerState exposes the circuit breaker's current state for metrics and
// diagnostics without calling out to the remote fleet service.
func (b *Bridge) BreakerState() CircuitState {
	return b.breaker.State()
}

// QueryFeeIntelligence returns the cached or freshly-fetched fee profile
// for a peer. A cached profile younger than freshTTL is returned without
// calling the remote. Otherwise it fetches; on remote failure it falls back
// to a cached value, marking it Stale with EffectiveConfidence decay; with
// no cache at all it returns ErrNoIntelligence.
func (b *Bridge) QueryFeeIntelligence(ctx context.Context, peerID string, now time.Time) (model.HiveProfile, error) {
	cacheKey := "hive:" + peerID

	if entry, ok, err := b.cache.Get(ctx, cacheKey); err == nil && ok && now.Sub(entry.FetchedAt) <= b.freshTTL {
		profile := entry.Profile
		profile.Stale = false
		profile.AgeHours = now.Sub(entry.FetchedAt).Hours()
		return profile, nil
	}

	if b.breaker.Allow(now) {
		profile, err := b.remote.FetchProfile(ctx, peerID)
		if err == nil {
			b.breaker.RecordSuccess()
			profile.LastUpdated = now
			profile.Stale = false
			_ = b.cache.Set(ctx, cacheKey, cacheEntry{Profile: profile, FetchedAt: now}, b.staleTTL)
			return profile, nil
		}
		b.breaker.RecordFailure(now)
	}

	entry, ok, err := b.cache.Get(ctx, cacheKey)
	if err != nil {
		return model.HiveProfile{}, fmt.Errorf("read cached hive profile: %w", err)
	}
	if !ok {
		return model.HiveProfile{}, ErrNoIntelligence
	}

	age := now.Sub(entry.FetchedAt)
	profile := entry.Profile
	profile.Stale = age > b.freshTTL
	profile.AgeHours = age.Hours()
	return profile, nil
}

// ErrNoIntelligence is returned when the fleet is unreachable and no cached
// profile exists for the peer.
var ErrNoIntelligence = fmt.Errorf("no hive fee intelligence available")
