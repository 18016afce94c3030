// SPDX-License-Identifier: MIT

package schedule

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/metrics"
)

// ManualRunner fires out-of-band pipeline runs for manual submissions
// and admin-triggered refreshes. It shares the scheduler's semaphore
// and deduplicates per feed: a second trigger while one is pending or
// running is rejected.
type ManualRunner struct {
	processor Processor
	sem       *semaphore.Weighted
	logger    zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewManualRunner builds a runner sharing sem with the scheduler. Runs
// use the runner's own context so they outlive the HTTP request that
// triggered them.
func NewManualRunner(processor Processor, sem *semaphore.Weighted) *ManualRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &ManualRunner{
		processor: processor,
		sem:       sem,
		logger:    log.WithComponent("schedule.manual"),
		inFlight:  make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Trigger queues one pipeline run for feedID. Returns ErrAlreadyRunning
// when a run for the feed is already pending or in flight.
func (r *ManualRunner) Trigger(feedID string, cfg *config.Feed) error {
	r.mu.Lock()
	if _, busy := r.inFlight[feedID]; busy {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.inFlight[feedID] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(feedID, cfg)
	return nil
}

func (r *ManualRunner) run(feedID string, cfg *config.Feed) {
	defer r.wg.Done()

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		r.clear(feedID)
		return
	}
	defer r.sem.Release(1)

	// Dedup covers the queued window only; once the run holds a
	// semaphore slot, a fresh trigger may queue behind it.
	r.clear(feedID)

	metrics.SchedulerInflight.Inc()
	defer metrics.SchedulerInflight.Dec()

	result := r.processor.Process(r.ctx, feedID, cfg)
	r.logger.Debug().
		Str("event", "scheduler.manual_run").
		Str("feed_id", feedID).
		Bool("success", result.OverallSuccess).
		Dur("duration", result.TotalDuration).
		Msg("manual run finished")
}

func (r *ManualRunner) clear(feedID string) {
	r.mu.Lock()
	delete(r.inFlight, feedID)
	r.mu.Unlock()
}

// Shutdown cancels pending runs and waits for in-flight ones, bounded
// by ctx.
func (r *ManualRunner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
