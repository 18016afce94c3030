// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/metrics"
	"github.com/thurstonsan/anypod/internal/ytdlp"
)

// SelfUpdater keeps the fetcher binary current; satisfied by
// *ytdlp.Client. May be nil.
type SelfUpdater interface {
	MaybeSelfUpdate(ctx context.Context, state ytdlp.UpdateState, now time.Time) (bool, error)
}

// FeedCoordinator sequences the pipeline phases for one feed run.
type FeedCoordinator struct {
	feeds      *db.FeedStore
	downloads  *db.DownloadStore
	enqueuer   *Enqueuer
	downloader *Downloader
	pruner     *Pruner
	rssgen     *RSSGenerator

	updater  SelfUpdater
	appState *db.AppStateStore

	cookiesPath string

	tracer trace.Tracer
	logger zerolog.Logger
}

// NewFeedCoordinator wires a coordinator. updater and appState may be
// nil together to disable fetcher self-updates.
func NewFeedCoordinator(
	feeds *db.FeedStore,
	downloads *db.DownloadStore,
	enqueuer *Enqueuer,
	downloader *Downloader,
	pruner *Pruner,
	rssgen *RSSGenerator,
	updater SelfUpdater,
	appState *db.AppStateStore,
	cookiesPath string,
) *FeedCoordinator {
	return &FeedCoordinator{
		feeds:       feeds,
		downloads:   downloads,
		enqueuer:    enqueuer,
		downloader:  downloader,
		pruner:      pruner,
		rssgen:      rssgen,
		updater:     updater,
		appState:    appState,
		cookiesPath: cookiesPath,
		tracer:      otel.Tracer("anypod/pipeline"),
		logger:      log.WithComponent("coordinator"),
	}
}

// Process runs enqueue → download → prune → RSS for one feed. The sync
// watermark advances only when enqueue and RSS both succeeded.
func (c *FeedCoordinator) Process(ctx context.Context, feedID string, cfg *config.Feed) *ProcessingResult {
	start := time.Now()
	ctx = log.ContextWithContextID(ctx, log.NewContextID(feedID, start))
	ctx, span := c.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.String("feed.id", feedID)))
	defer span.End()

	logger := log.WithContext(ctx, c.logger).With().Str("feed_id", feedID).Logger()
	result := &ProcessingResult{FeedID: feedID}
	defer func() {
		result.TotalDuration = time.Since(start)
		c.finish(logger, result)
	}()

	c.maybeSelfUpdate(ctx, logger)

	feed, err := c.feeds.GetFeed(ctx, feedID)
	if err != nil {
		result.FatalError = err
		return result
	}

	opts := ytdlp.Options{YtArgs: cfg.YtArgs, CookiesPath: c.cookiesPath}

	downloadedBefore, err := c.downloads.CountByStatus(ctx, feedID, db.StatusDownloaded)
	if err != nil {
		result.FatalError = err
		return result
	}

	// Enqueue: fatal on enumeration failure.
	c.runPhase(ctx, PhaseEnqueue, &result.Enqueue, func(ctx context.Context, pr *PhaseResult) error {
		n, err := c.enqueuer.Enqueue(ctx, feed, cfg, feed.LastSuccessfulSync, opts, pr)
		pr.Count = n
		return err
	})
	if result.FatalError == nil && !result.Enqueue.Success {
		result.FatalError = result.Enqueue.fatal
	}
	if result.FatalError != nil {
		if err := c.feeds.MarkSyncFailure(ctx, feedID, time.Now().UTC(), result.FatalError.Error()); err != nil {
			logger.Error().Err(err).Msg("recording sync failure failed")
		}
		return result
	}

	// Download: per-item failures only.
	c.runPhase(ctx, PhaseDownload, &result.Download, func(ctx context.Context, pr *PhaseResult) error {
		success, _ := c.downloader.Download(ctx, feed, cfg, 0, opts, pr)
		pr.Count = success
		return nil
	})

	// Prune: only when a retention policy exists.
	if cfg.KeepLast != nil || cfg.Since != nil {
		c.runPhase(ctx, PhasePrune, &result.Prune, func(ctx context.Context, pr *PhaseResult) error {
			archived, _ := c.pruner.Prune(ctx, feedID, cfg.KeepLast, cfg.Since, pr)
			pr.Count = len(archived)
			return nil
		})
	} else {
		result.Prune.Success = true
	}

	// RSS: when the DOWNLOADED set changed or no document exists yet.
	downloadedAfter, err := c.downloads.CountByStatus(ctx, feedID, db.StatusDownloaded)
	if err != nil {
		result.FatalError = err
		return result
	}
	xmlExists, err := c.rssgen.Exists(ctx, feedID)
	if err != nil {
		result.FatalError = err
		return result
	}
	if downloadedAfter != downloadedBefore || !xmlExists {
		c.runPhase(ctx, PhaseRSS, &result.RSS, func(ctx context.Context, pr *PhaseResult) error {
			n, err := c.rssgen.Generate(ctx, feed)
			pr.Count = n
			return err
		})
		if !result.RSS.Success {
			result.FatalError = result.RSS.fatal
			return result
		}
	} else {
		result.RSS.Success = true
	}

	// Watermark: the enumeration window's upper bound is the run start.
	if err := c.feeds.MarkSyncSuccess(ctx, feedID, start.UTC()); err != nil {
		result.FatalError = err
		return result
	}
	result.FeedSyncUpdated = true
	result.OverallSuccess = true
	return result
}

// RegenerateRSS rebuilds one feed document outside a full run (used
// after manual deletes and admin actions).
func (c *FeedCoordinator) RegenerateRSS(ctx context.Context, feedID string) (*PhaseResult, error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.regenerate_rss",
		trace.WithAttributes(attribute.String("feed.id", feedID)))
	defer span.End()

	feed, err := c.feeds.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}

	var pr PhaseResult
	c.runPhase(ctx, PhaseRSS, &pr, func(ctx context.Context, pr *PhaseResult) error {
		n, err := c.rssgen.Generate(ctx, feed)
		pr.Count = n
		return err
	})
	if !pr.Success {
		return &pr, pr.fatal
	}
	return &pr, nil
}

// runPhase executes fn under a span, records duration metrics, and
// captures the phase-fatal error (if any) on the result.
func (c *FeedCoordinator) runPhase(ctx context.Context, name string, pr *PhaseResult, fn func(ctx context.Context, pr *PhaseResult) error) {
	ctx, span := c.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	phaseStart := time.Now()
	err := fn(ctx, pr)
	pr.Duration = time.Since(phaseStart)
	metrics.ObservePhase(name, pr.Duration)

	if err != nil {
		pr.Success = false
		pr.fatal = err
		span.RecordError(err)
		return
	}
	pr.Success = true
}

func (c *FeedCoordinator) maybeSelfUpdate(ctx context.Context, logger zerolog.Logger) {
	if c.updater == nil || c.appState == nil {
		return
	}
	updated, err := c.updater.MaybeSelfUpdate(ctx, c.appState, time.Now())
	if err != nil {
		logger.Warn().Err(err).Str("event", "coordinator.self_update_failed").Msg("fetcher self-update failed")
		return
	}
	if updated {
		metrics.YtdlpUpdateTimestamp.SetToCurrentTime()
	}
}

func (c *FeedCoordinator) finish(logger zerolog.Logger, result *ProcessingResult) {
	outcome := "success"
	switch {
	case !result.OverallSuccess:
		outcome = "failure"
	case result.Download.ErrorCount() > 0 || result.Prune.ErrorCount() > 0 || result.Enqueue.ErrorCount() > 0:
		outcome = "partial"
	}
	metrics.RecordRun(result.FeedID, outcome)

	evt := logger.Info()
	if outcome == "failure" {
		evt = logger.Error().Err(result.FatalError)
	}
	evt.
		Str("event", "coordinator.run_complete").
		Str("result", outcome).
		Int("enqueued", result.Enqueue.Count).
		Int("downloaded", result.Download.Count).
		Int("archived", result.Prune.Count).
		Int("rss_items", result.RSS.Count).
		Dur("total_duration", result.TotalDuration).
		Bool("sync_updated", result.FeedSyncUpdated).
		Msg("feed pipeline run finished")
}
