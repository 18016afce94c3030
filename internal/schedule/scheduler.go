// SPDX-License-Identifier: MIT

// Package schedule runs the per-feed cron loops and the manual trigger
// path. Both share one weighted semaphore so the total number of
// in-flight pipeline runs stays bounded regardless of how a run was
// started.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/metrics"
	"github.com/thurstonsan/anypod/internal/pipeline"
)

// MisfireGrace is how late a cron fire may be and still run. Later
// fires are dropped and coalesced into the next slot.
const MisfireGrace = 5 * time.Minute

// Processor runs one pipeline pass for a feed; satisfied by
// *pipeline.FeedCoordinator.
type Processor interface {
	Process(ctx context.Context, feedID string, cfg *config.Feed) *pipeline.ProcessingResult
}

type job struct {
	feedID string
	expr   string
	cfg    *config.Feed
	sched  cron.Schedule
	next   time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns one goroutine per scheduled feed. Each loop sleeps
// until the feed's next cron fire, then runs the processor under the
// shared semaphore. A run in progress delays the loop, so at most one
// instance per feed is ever in flight; fires missed by more than
// MisfireGrace are dropped.
type Scheduler struct {
	processor Processor
	sem       *semaphore.Weighted
	clock     Clock
	loc       *time.Location
	logger    zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*job
	ctx  context.Context
	stop context.CancelFunc
}

// New builds a scheduler sharing sem with the manual runner. loc is the
// timezone cron expressions are evaluated in.
func New(processor Processor, sem *semaphore.Weighted, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		processor: processor,
		sem:       sem,
		clock:     RealClock{},
		loc:       loc,
		logger:    log.WithComponent("schedule"),
		jobs:      make(map[string]*job),
	}
}

// Start launches a cron loop for every scheduled feed in feeds. Manual
// feeds and feeds without a schedule are skipped. Per-feed parse
// failures are aggregated; the remaining feeds still start.
func (s *Scheduler) Start(ctx context.Context, feeds map[string]*config.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.stop = context.WithCancel(ctx)

	var merr *multierror.Error
	for id, cfg := range feeds {
		if err := s.startJobLocked(id, cfg); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	s.logger.Info().
		Str("event", "scheduler.started").
		Int("jobs", len(s.jobs)).
		Msg("scheduler started")
	return merr.ErrorOrNil()
}

// Rebuild swaps the scheduled feed set after a config reload: loops for
// removed feeds stop, new feeds start, and changed schedules or feed
// definitions restart their loop.
func (s *Scheduler) Rebuild(feeds map[string]*config.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return &SchedulerError{Err: context.Canceled}
	}

	var merr *multierror.Error
	for id, j := range s.jobs {
		cfg, keep := feeds[id]
		if keep && j.expr == cfg.Schedule && !cfg.IsManual {
			j.cfg = cfg
			continue
		}
		j.cancel()
		<-j.done
		delete(s.jobs, id)
		if keep {
			if err := s.startJobLocked(id, cfg); err != nil {
				merr = multierror.Append(merr, err)
			}
		} else {
			s.logger.Info().
				Str("event", "scheduler.job_removed").
				Str("feed_id", id).
				Msg("feed unscheduled")
		}
	}
	for id, cfg := range feeds {
		if _, exists := s.jobs[id]; exists {
			continue
		}
		if err := s.startJobLocked(id, cfg); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// Stop cancels every loop and waits for in-flight runs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
	}
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		select {
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Scheduler) startJobLocked(id string, cfg *config.Feed) error {
	if cfg.IsManual || cfg.Schedule == "" {
		return nil
	}
	sched, err := config.ParseSchedule(cfg.Schedule)
	if err != nil {
		return &SchedulerError{FeedID: id, Err: err}
	}
	jctx, cancel := context.WithCancel(s.ctx)
	j := &job{
		feedID: id,
		expr:   cfg.Schedule,
		cfg:    cfg,
		sched:  sched,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.jobs[id] = j
	go s.runLoop(jctx, j)
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context, j *job) {
	defer close(j.done)

	timer := s.clock.NewTimer(s.untilNext(j))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
			fired := s.clock.Now()
			if late := fired.Sub(j.next); late > MisfireGrace {
				s.logger.Warn().
					Str("event", "scheduler.job_missed").
					Str("feed_id", j.feedID).
					Dur("late", late).
					Msg("missed fire beyond grace, coalescing to next slot")
			} else {
				s.dispatch(ctx, j)
			}
			timer.Reset(s.untilNext(j))
		}
	}
}

// untilNext advances the job's fire time and returns the sleep until it.
func (s *Scheduler) untilNext(j *job) time.Duration {
	now := s.clock.Now().In(s.loc)
	j.next = j.sched.Next(now)
	return j.next.Sub(now)
}

func (s *Scheduler) dispatch(ctx context.Context, j *job) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	metrics.SchedulerInflight.Inc()
	defer metrics.SchedulerInflight.Dec()

	result := s.processor.Process(ctx, j.feedID, j.cfg)
	s.logger.Debug().
		Str("event", "scheduler.run_dispatched").
		Str("feed_id", j.feedID).
		Bool("success", result.OverallSuccess).
		Dur("duration", result.TotalDuration).
		Msg("scheduled run finished")
}
