// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/ytdlp"
)

// Enqueuer discovers feed items and reconciles them into download rows.
type Enqueuer struct {
	feeds     *db.FeedStore
	downloads *db.DownloadStore
	fetcher   Fetcher
	prober    Prober
	logger    zerolog.Logger
}

// NewEnqueuer wires the enqueue phase. prober may be nil when no remote
// duration probing is wanted.
func NewEnqueuer(feeds *db.FeedStore, downloads *db.DownloadStore, fetcher Fetcher, prober Prober) *Enqueuer {
	return &Enqueuer{
		feeds:     feeds,
		downloads: downloads,
		fetcher:   fetcher,
		prober:    prober,
		logger:    log.WithComponent("enqueuer"),
	}
}

// Enqueue re-checks UPCOMING rows and enumerates new items since the
// watermark. Returns the count of items newly in QUEUED and the
// per-item failures; a failed enumeration is phase-fatal.
func (e *Enqueuer) Enqueue(ctx context.Context, feed *db.Feed, cfg *config.Feed, since time.Time, opts ytdlp.Options, result *PhaseResult) (int, error) {
	logger := log.WithContext(ctx, e.logger).With().Str("feed_id", feed.ID).Logger()

	newQueued := e.recheckUpcoming(ctx, feed, cfg, opts, logger, result)

	resolvedURL, err := e.resolveSource(ctx, feed, opts)
	if err != nil {
		return newQueued, &EnqueueError{FeedID: feed.ID, Err: err}
	}

	limit := 0
	if cfg.KeepLast != nil {
		limit = *cfg.KeepLast
	}
	items, err := e.fetcher.Enumerate(ctx, resolvedURL, since, limit, opts)
	if err != nil {
		if errors.Is(err, ytdlp.ErrNoEntries) {
			// An empty window is not a failure.
			logger.Debug().Str("event", "enqueue.empty_window").Msg("no items in enumeration window")
			return newQueued, nil
		}
		if errors.Is(err, ytdlp.ErrTooManyRequests) {
			logger.Warn().Str("event", "enqueue.rate_limited").Msg("source rate limited enumeration")
		}
		return newQueued, &EnqueueError{FeedID: feed.ID, Err: err}
	}

	for _, item := range items {
		queued, err := e.reconcileItem(ctx, feed, item, logger)
		if err != nil {
			result.addError(err)
			continue
		}
		if queued {
			newQueued++
		}
	}

	logger.Info().
		Str("event", "enqueue.done").
		Int("new_queued", newQueued).
		Int("enumerated", len(items)).
		Msg("enqueue phase complete")
	return newQueued, nil
}

// recheckUpcoming re-fetches metadata for UPCOMING rows; items that
// became VODs transition to QUEUED, unusable results bump retries.
// Per-item failures never abort the phase.
func (e *Enqueuer) recheckUpcoming(ctx context.Context, feed *db.Feed, cfg *config.Feed, opts ytdlp.Options, logger zerolog.Logger, result *PhaseResult) int {
	rows, err := e.downloads.GetDownloadsByStatus(ctx, feed.ID, db.StatusUpcoming, false, 0)
	if err != nil {
		result.addError(err)
		return 0
	}

	newQueued := 0
	for _, row := range rows {
		items, err := e.fetcher.FetchMetadata(ctx, row.SourceURL, opts)
		if err != nil {
			e.bumpAndRecord(ctx, feed, row.ID, err.Error(), cfg.MaxErrors, logger, result)
			continue
		}

		match := matchItem(items, row.ID)
		if match == nil {
			e.bumpAndRecord(ctx, feed, row.ID, "re-check returned no matching item", cfg.MaxErrors, logger, result)
			continue
		}
		if match.Status != ytdlp.ItemQueued {
			// Still live or scheduled; nothing to do this round.
			continue
		}

		if err := e.downloads.MarkAsQueuedFromUpcoming(ctx, feed.ID, row.ID); err != nil {
			result.addError(err)
			continue
		}
		e.probeDuration(ctx, match, logger)
		if err := e.downloads.UpsertDownload(ctx, ItemToDownload(feed.ID, match)); err != nil {
			result.addError(err)
			continue
		}
		logger.Info().
			Str("event", "enqueue.upcoming_queued").
			Str("download_id", row.ID).
			Msg("upcoming item became downloadable")
		newQueued++
	}
	return newQueued
}

func (e *Enqueuer) bumpAndRecord(ctx context.Context, feed *db.Feed, id, cause string, maxErrors int, logger zerolog.Logger, result *PhaseResult) {
	retries, status, transitioned, err := e.downloads.BumpRetries(ctx, feed.ID, id, cause, maxErrors)
	if err != nil {
		result.addError(err)
		return
	}
	event := "enqueue.recheck_failed"
	if transitioned {
		event = "enqueue.recheck_gave_up"
	}
	logger.Warn().
		Str("event", event).
		Str("download_id", id).
		Int("retries", retries).
		Str("status", status.String()).
		Msg(cause)
}

// resolveSource classifies the feed URL on first contact and persists
// the outcome so later runs skip the discovery fetch.
func (e *Enqueuer) resolveSource(ctx context.Context, feed *db.Feed, opts ytdlp.Options) (string, error) {
	if feed.SourceType != db.SourceTypeUnknown && feed.ResolvedURL != "" {
		return feed.ResolvedURL, nil
	}
	disc, err := e.fetcher.Discover(ctx, feed.SourceURL, opts)
	if err != nil {
		return "", err
	}
	st := db.SourceType(disc.SourceType)
	if err := e.feeds.UpdateDiscovery(ctx, feed.ID, st, disc.ResolvedURL); err != nil {
		return "", err
	}
	feed.SourceType = st
	feed.ResolvedURL = disc.ResolvedURL
	e.logger.Info().
		Str("event", "enqueue.discovered").
		Str("feed_id", feed.ID).
		Str("source_type", st.String()).
		Str("resolved_url", disc.ResolvedURL).
		Msg("source classified")
	return disc.ResolvedURL, nil
}

// reconcileItem merges one enumerated item into the store. Returns true
// when the item is newly in QUEUED.
func (e *Enqueuer) reconcileItem(ctx context.Context, feed *db.Feed, item *ytdlp.Item, logger zerolog.Logger) (bool, error) {
	existing, err := e.downloads.GetDownload(ctx, feed.ID, item.ID)
	switch {
	case errors.Is(err, db.ErrDownloadNotFound):
		e.probeDuration(ctx, item, logger)
		if err := e.downloads.UpsertDownload(ctx, ItemToDownload(feed.ID, item)); err != nil {
			return false, err
		}
		logger.Debug().
			Str("event", "enqueue.inserted").
			Str("download_id", item.ID).
			Str("status", string(item.Status)).
			Msg("new item")
		return item.Status == ytdlp.ItemQueued, nil

	case err != nil:
		return false, err

	case existing.Status == db.StatusDownloaded:
		return false, nil

	case existing.Status == db.StatusUpcoming && item.Status == ytdlp.ItemQueued:
		if err := e.downloads.MarkAsQueuedFromUpcoming(ctx, feed.ID, item.ID); err != nil {
			return false, err
		}
		e.probeDuration(ctx, item, logger)
		if err := e.downloads.UpsertDownload(ctx, ItemToDownload(feed.ID, item)); err != nil {
			return false, err
		}
		return true, nil

	default:
		// Metadata refresh; status is guarded by the upsert.
		return false, e.downloads.UpsertDownload(ctx, ItemToDownload(feed.ID, item))
	}
}

// probeDuration resolves a missing duration through the handler's remote
// probe candidates. Best-effort: a failed probe leaves duration zero for
// the downloader's local probe.
func (e *Enqueuer) probeDuration(ctx context.Context, item *ytdlp.Item, logger zerolog.Logger) {
	if item.Duration > 0 || item.DurationProbe == nil || e.prober == nil {
		return
	}
	for _, candidate := range item.DurationProbe.Candidates {
		d, err := e.prober.ProbeDurationURL(ctx, candidate, item.DurationProbe.Referer)
		if err == nil && d > 0 {
			item.Duration = d
			return
		}
		logger.Debug().
			Str("event", "enqueue.probe_miss").
			Str("download_id", item.ID).
			Err(err).
			Msg("duration probe candidate failed")
	}
}

func matchItem(items []*ytdlp.Item, id string) *ytdlp.Item {
	for _, it := range items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// ItemToDownload maps a fetched item onto a download row.
func ItemToDownload(feedID string, item *ytdlp.Item) *db.Download {
	return &db.Download{
		FeedID:             feedID,
		ID:                 item.ID,
		SourceURL:          item.SourceURL,
		Title:              item.Title,
		Description:        item.Description,
		Published:          item.Published,
		Ext:                item.Ext,
		MimeType:           item.MimeType,
		Filesize:           item.Filesize,
		Duration:           item.Duration,
		Status:             db.Status(item.Status),
		RemoteThumbnailURL: item.ThumbnailURL,
		QualityInfo:        item.QualityInfo,
		PlaylistIndex:      item.PlaylistIndex,
	}
}
