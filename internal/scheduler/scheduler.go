// Package scheduler runs the daemon's periodic loops (flow analysis, fee
// decisions, rebalance arbitration), following the ticker-plus-signal-
// channel loop shape used by the teacher's dashboard-collector command,
// generalized to multiple independent loops with jittered intervals and a
// panic-recovering wrapper around every cycle.
package scheduler

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/brewgator/revenue-ops/internal/metrics"
)

// Job is one periodic unit of work. It receives the current time for the
// cycle so callers don't need their own clock access.
type Job func(ctx context.Context, now time.Time) error

// LoopConfig names a job and its cadence for logging and jitter.
type LoopConfig struct {
	Name     string
	Interval time.Duration
	Jitter   time.Duration // max random delay added before each tick fires
	Job      Job
}

// Scheduler runs a fixed set of named loops until its context is canceled.
type Scheduler struct {
	loops []LoopConfig
	rng   *rand.Rand
}

// New returns a Scheduler over the given loops.
func New(loops []LoopConfig, seed int64) *Scheduler {
	return &Scheduler{loops: loops, rng: rand.New(rand.NewSource(seed))}
}

// Run starts every configured loop in its own goroutine and blocks until
// ctx is canceled, at which point all loops stop and Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{}, len(s.loops))
	for _, loop := range s.loops {
		loop := loop
		go func() {
			s.runLoop(ctx, loop)
			done <- struct{}{}
		}()
	}
	for range s.loops {
		<-done
	}
}

func (s *Scheduler) runLoop(ctx context.Context, loop LoopConfig) {
	log.Printf("scheduler: starting %s loop every %v", loop.Name, loop.Interval)
	s.runOnce(ctx, loop)

	ticker := time.NewTicker(loop.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if loop.Jitter > 0 {
				delay := time.Duration(s.rng.Int63n(int64(loop.Jitter)))
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			s.runOnce(ctx, loop)
		case <-ctx.Done():
			log.Printf("scheduler: stopping %s loop", loop.Name)
			return
		}
	}
}

// runOnce invokes a job with panic recovery so one bad cycle never takes
// down the whole daemon.
func (s *Scheduler) runOnce(ctx context.Context, loop LoopConfig) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SchedulerCycleErrors.WithLabelValues(loop.Name).Inc()
			log.Printf("scheduler: %s loop panicked: %v", loop.Name, r)
		}
	}()
	now := time.Now()
	if err := loop.Job(ctx, now); err != nil {
		metrics.SchedulerCycleErrors.WithLabelValues(loop.Name).Inc()
		log.Printf("scheduler: %s loop cycle failed: %v", loop.Name, err)
	}
}
