// README: Interval scheduler driving the dispatch sweep; one sweep at a time, slow sweeps skip ticks.
package dispatch

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Sweeper lets tests substitute the engine.
type Sweeper interface {
	Sweep(ctx context.Context) (SweepStats, error)
}

type Scheduler struct {
	engine   Sweeper
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool // a sweep is in flight
}

func NewScheduler(engine Sweeper, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{engine: engine, interval: interval}
}

// Start launches the tick loop. Calling Start on a running scheduler is a
// no-op with a warning.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		log.Printf("dispatch: scheduler already running, start ignored")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
	log.Printf("dispatch: scheduler started, interval=%s", s.interval)
}

// Stop halts the tick loop and waits for any in-flight sweep to finish.
// Safe to call on a stopped scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("dispatch: scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// One immediate sweep so a restart doesn't strand aged groups a full
	// interval longer.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one sweep unless the previous one is still in flight, in which
// case this tick is dropped rather than queued.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("dispatch: previous sweep still running, tick skipped")
		return
	}
	defer s.running.Store(false)

	if _, err := s.engine.Sweep(ctx); err != nil {
		log.Printf("dispatch: sweep failed: %v", err)
	}
}

// TriggerSweep runs a sweep outside the tick loop, honoring the same mutual
// exclusion. Returns false when a sweep is already in flight.
func (s *Scheduler) TriggerSweep(ctx context.Context) (SweepStats, bool, error) {
	if !s.running.CompareAndSwap(false, true) {
		return SweepStats{}, false, nil
	}
	defer s.running.Store(false)

	stats, err := s.engine.Sweep(ctx)
	return stats, true, err
}
