package hivebridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brewgator/revenue-ops/internal/model"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	now := time.Now()

	for i := 0; i < 2; i++ {
		b.RecordFailure(now)
	}
	if !b.Allow(now) {
		t.Error("expected breaker to stay closed before threshold")
	}
	b.RecordFailure(now)
	if b.Allow(now) {
		t.Error("expected breaker to open at the failure threshold")
	}
	if b.State() != StateOpen {
		t.Errorf("expected open state, got %v", b.State())
	}
}

func TestBreakerHalfOpensAfterResetTimeout(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Now()
	b.RecordFailure(now)
	if b.Allow(now) {
		t.Fatal("expected breaker open immediately after tripping")
	}

	later := now.Add(2 * time.Minute)
	if !b.Allow(later) {
		t.Error("expected breaker to allow a trial call after reset timeout")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("expected half_open state, got %v", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Now()
	b.RecordFailure(now)
	later := now.Add(2 * time.Minute)
	b.Allow(later)
	b.RecordFailure(later)
	if b.State() != StateOpen {
		t.Errorf("expected a half-open failure to reopen the breaker, got %v", b.State())
	}
}

func TestBreakerSuccessCloses(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	now := time.Now()
	b.RecordFailure(now)
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("expected success to close the breaker, got %v", b.State())
	}
}

type fakeFetcher struct {
	mu      sync.Mutex
	profile model.HiveProfile
	err     error
	calls   int
}

func (f *fakeFetcher) FetchProfile(ctx context.Context, peerID string) (model.HiveProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.profile, f.err
}

func TestQueryFeeIntelligenceCachesSuccess(t *testing.T) {
	fetcher := &fakeFetcher{profile: model.HiveProfile{PeerID: "peer-a", OptimalFeeEstimate: 250}}
	b := New(fetcher, nil, time.Hour, 24*time.Hour)
	now := time.Now()

	profile, err := b.QueryFeeIntelligence(context.Background(), "peer-a", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.OptimalFeeEstimate != 250 {
		t.Errorf("expected optimal fee 250, got %v", profile.OptimalFeeEstimate)
	}
	if _, err := b.QueryFeeIntelligence(context.Background(), "peer-a", now.Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error on cached query: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected exactly one fetch call across both queries, got %d", fetcher.calls)
	}
}

func TestQueryFeeIntelligenceFallsBackToCacheOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{profile: model.HiveProfile{PeerID: "peer-a", OptimalFeeEstimate: 250}}
	b := New(fetcher, nil, 30*time.Second, 24*time.Hour)
	now := time.Now()

	if _, err := b.QueryFeeIntelligence(context.Background(), "peer-a", now); err != nil {
		t.Fatalf("unexpected error priming cache: %v", err)
	}

	fetcher.mu.Lock()
	fetcher.err = errors.New("fleet unreachable")
	fetcher.mu.Unlock()

	for i := 0; i < 3; i++ {
		b.QueryFeeIntelligence(context.Background(), "peer-a", now)
	}

	profile, err := b.QueryFeeIntelligence(context.Background(), "peer-a", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("expected a cached fallback, got error: %v", err)
	}
	if profile.OptimalFeeEstimate != 250 {
		t.Errorf("expected cached profile, got %+v", profile)
	}
	if !profile.Stale {
		t.Error("expected a profile served from a reachability-degraded cache after TTL to be marked stale")
	}
}

func TestQueryFeeIntelligenceNoCacheReturnsErrNoIntelligence(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("fleet unreachable")}
	b := New(fetcher, nil, time.Hour, 24*time.Hour)

	_, err := b.QueryFeeIntelligence(context.Background(), "peer-never-seen", time.Now())
	if !errors.Is(err, ErrNoIntelligence) {
		t.Errorf("expected ErrNoIntelligence, got %v", err)
	}
}
