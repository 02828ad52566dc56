package simigo

import (
	"context"
	"sync"
	"time"
)

// SchedulerOptions contains configuration options for the scheduler.
type SchedulerOptions struct {
	// SweepInterval is the cadence of the pending request expiry sweep.
	SweepInterval time.Duration

	// RefreshInterval is the cadence of the feature store refresh.
	RefreshInterval time.Duration
}

// Scheduler runs the two periodic maintenance jobs of a Finder: the
// pending request expiry sweep and the feature store refresh. Jobs run
// on their own goroutines and never propagate failures; errors are
// logged and the next tick proceeds normally.
type Scheduler struct {
	finder          *Finder
	sweepInterval   time.Duration
	refreshInterval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a scheduler for the given finder.
func NewScheduler(finder *Finder, optFns ...func(o *SchedulerOptions)) *Scheduler {
	opts := SchedulerOptions{
		SweepInterval:   time.Minute,
		RefreshInterval: 2 * time.Minute,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Scheduler{
		finder:          finder,
		sweepInterval:   opts.SweepInterval,
		refreshInterval: opts.RefreshInterval,
	}
}

// Start launches the background jobs. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	s.started = true
	s.stopCh = make(chan struct{})

	s.wg.Add(2)

	go s.loop(s.stopCh, s.sweepInterval, func(context.Context) {
		s.finder.SweepExpired()
	})

	go s.loop(s.stopCh, s.refreshInterval, func(ctx context.Context) {
		_ = s.finder.RefreshStore(ctx)
	})
}

// Close stops the background jobs and waits for in-flight ticks to
// finish. The scheduler can be started again afterwards.
func (s *Scheduler) Close() error {
	s.mu.Lock()

	if !s.started {
		s.mu.Unlock()
		return nil
	}

	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	return nil
}

func (s *Scheduler) loop(stopCh <-chan struct{}, interval time.Duration, tick func(ctx context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.runTick(stopCh, interval, tick)
		}
	}
}

// runTick executes one job tick with a deadline of one interval, so a
// stuck refresh cannot pile up behind the ticker. Panics are contained
// to the tick.
func (s *Scheduler) runTick(stopCh <-chan struct{}, interval time.Duration, tick func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), interval)
	defer cancel()

	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			s.finder.logger.Error("background job panicked", "panic", r)
		}
	}()

	tick(ctx)
}
