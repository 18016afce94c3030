// SPDX-License-Identifier: MIT

// Package reconcile aligns the database feed set with the declarative
// configuration at startup and after every config reload. Feeds present
// in config are inserted or diffed; feeds removed from config are
// soft-disabled and fully archived. Loosened retention policies restore
// archived items back into the queue.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/rss"
)

// Archiver archives every download of a removed feed; satisfied by
// *pipeline.Pruner.
type Archiver interface {
	ArchiveFeed(ctx context.Context, feedID string) ([]string, []error)
}

// StateReconciler computes and applies the config↔DB diff.
type StateReconciler struct {
	feeds     *db.FeedStore
	downloads *db.DownloadStore
	archiver  Archiver
	logger    zerolog.Logger
}

// New wires a reconciler.
func New(feeds *db.FeedStore, downloads *db.DownloadStore, archiver Archiver) *StateReconciler {
	return &StateReconciler{
		feeds:     feeds,
		downloads: downloads,
		archiver:  archiver,
		logger:    log.WithComponent("reconcile"),
	}
}

// Reconcile applies cfg to the database and returns the feed ids
// eligible for scheduling (config-present and enabled). Per-feed
// failures are aggregated; a partially applied reconciliation returns
// both the ready set and the error.
func (r *StateReconciler) Reconcile(ctx context.Context, cfg *config.Config) ([]string, error) {
	existing, err := r.feeds.GetFeeds(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*db.Feed, len(existing))
	for _, f := range existing {
		byID[f.ID] = f
	}

	var merr *multierror.Error
	var ready []string

	for _, id := range cfg.FeedIDs() {
		feedCfg := cfg.Feeds[id]
		dbFeed, present := byID[id]
		if !present {
			if err := r.insertFeed(ctx, feedCfg); err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
		} else {
			if err := r.updateFeed(ctx, dbFeed, feedCfg); err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
		}
		if feedCfg.Enabled {
			ready = append(ready, id)
		}
	}

	// Feeds no longer in config: disable and archive.
	for _, dbFeed := range existing {
		if _, inConfig := cfg.Feeds[dbFeed.ID]; inConfig || !dbFeed.IsEnabled {
			continue
		}
		if err := r.removeFeed(ctx, dbFeed.ID); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	r.logger.Info().
		Str("event", "reconcile.done").
		Int("config_feeds", len(cfg.Feeds)).
		Int("db_feeds", len(existing)).
		Int("ready", len(ready)).
		Msg("state reconciled")
	return ready, merr.ErrorOrNil()
}

func (r *StateReconciler) insertFeed(ctx context.Context, feedCfg *config.Feed) error {
	sync := db.EpochMin
	if feedCfg.Since != nil {
		sync = *feedCfg.Since
	}
	feed := &db.Feed{
		ID:                 feedCfg.ID,
		IsEnabled:          feedCfg.Enabled,
		SourceType:         db.SourceTypeUnknown,
		SourceURL:          feedCfg.URL,
		LastSuccessfulSync: sync,
		Since:              feedCfg.Since,
		KeepLast:           feedCfg.KeepLast,
	}
	applyMetadata(feed, feedCfg)
	if err := r.feeds.InsertFeed(ctx, feed); err != nil {
		return err
	}
	r.logger.Info().
		Str("event", "reconcile.feed_added").
		Str("feed_id", feedCfg.ID).
		Msg("new feed inserted")
	return nil
}

func (r *StateReconciler) updateFeed(ctx context.Context, dbFeed *db.Feed, feedCfg *config.Feed) error {
	// Retention restoration first, based on the previous policy.
	if err := r.restoreRetention(ctx, dbFeed, feedCfg); err != nil {
		return err
	}

	updated := *dbFeed
	updated.IsEnabled = feedCfg.Enabled
	updated.SourceURL = feedCfg.URL
	updated.Since = feedCfg.Since
	updated.KeepLast = feedCfg.KeepLast
	applyMetadata(&updated, feedCfg)

	if feedsEqual(dbFeed, &updated) {
		return nil
	}
	if err := r.feeds.UpdateFeedConfig(ctx, &updated); err != nil {
		return err
	}
	if updated.SourceURL != dbFeed.SourceURL {
		// A changed URL invalidates the discovery cache.
		if err := r.feeds.UpdateDiscovery(ctx, dbFeed.ID, db.SourceTypeUnknown, ""); err != nil {
			return err
		}
	}
	r.logger.Info().
		Str("event", "reconcile.feed_updated").
		Str("feed_id", dbFeed.ID).
		Msg("feed definition changed")
	return nil
}

func (r *StateReconciler) removeFeed(ctx context.Context, feedID string) error {
	if err := r.feeds.SetEnabled(ctx, feedID, false); err != nil {
		return err
	}
	archived, errs := r.archiver.ArchiveFeed(ctx, feedID)
	r.logger.Info().
		Str("event", "reconcile.feed_removed").
		Str("feed_id", feedID).
		Int("archived", len(archived)).
		Int("errors", len(errs)).
		Msg("feed removed from config, archived")
	if len(errs) > 0 {
		merr := &multierror.Error{}
		for _, e := range errs {
			merr = multierror.Append(merr, e)
		}
		return merr.ErrorOrNil()
	}
	return nil
}

// restoreRetention requeues ARCHIVED items that a loosened policy put
// back inside the retention window.
//
// since transitions: present→absent restores everything; present→earlier
// restores items published at or after the new date; absent→present and
// present→later restore nothing. A keep_last raise (or removal) with
// since unchanged restores within the current window. keep_last caps
// the restoration count: a present→present change only frees new−total
// slots.
func (r *StateReconciler) restoreRetention(ctx context.Context, dbFeed *db.Feed, feedCfg *config.Feed) error {
	var cutoff *time.Time
	restore := false

	switch {
	case dbFeed.Since != nil && feedCfg.Since == nil:
		restore = true
	case dbFeed.Since != nil && feedCfg.Since != nil && feedCfg.Since.Before(*dbFeed.Since):
		restore = true
		cutoff = feedCfg.Since
	case timePtrEqual(dbFeed.Since, feedCfg.Since) && keepLastLoosened(dbFeed.KeepLast, feedCfg.KeepLast):
		restore = true
		cutoff = feedCfg.Since
	}
	if !restore {
		return nil
	}

	limit := restorationLimit(dbFeed, feedCfg)
	if limit == 0 {
		return nil
	}

	rows, err := r.downloads.GetArchivedSince(ctx, dbFeed.ID, cutoff)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit] // newest first: keep the most recent
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	from := db.StatusArchived
	n, err := r.downloads.RequeueDownloads(ctx, dbFeed.ID, ids, &from)
	if err != nil && !errors.Is(err, db.ErrDownloadNotFound) {
		return err
	}
	r.logger.Info().
		Str("event", "reconcile.retention_restored").
		Str("feed_id", dbFeed.ID).
		Int("requeued", n).
		Msg("loosened retention restored archived items")
	return nil
}

// keepLastLoosened reports whether the cap was removed or raised.
func keepLastLoosened(old, updated *int) bool {
	return old != nil && (updated == nil || *updated > *old)
}

// restorationLimit returns the maximum number of items to restore;
// negative means unlimited.
func restorationLimit(dbFeed *db.Feed, feedCfg *config.Feed) int {
	switch {
	case dbFeed.KeepLast == nil:
		return -1
	case feedCfg.KeepLast == nil:
		return -1
	case *feedCfg.KeepLast > dbFeed.TotalDownloads:
		return *feedCfg.KeepLast - dbFeed.TotalDownloads
	default:
		return 0
	}
}

func applyMetadata(feed *db.Feed, feedCfg *config.Feed) {
	meta := feedCfg.Metadata
	feed.Title = meta.Title
	feed.Subtitle = meta.Subtitle
	feed.Description = meta.Description
	feed.Language = meta.Language
	feed.Author = meta.Author
	feed.AuthorEmail = meta.AuthorEmail
	feed.RemoteImageURL = meta.ImageURL
	feed.Category = rss.FormatCategories(meta.Categories)
	feed.PodcastType = db.PodcastType(meta.PodcastType)
	feed.Explicit = db.PodcastExplicit(meta.Explicit)
}

func feedsEqual(a, b *db.Feed) bool {
	return a.IsEnabled == b.IsEnabled &&
		a.SourceURL == b.SourceURL &&
		timePtrEqual(a.Since, b.Since) &&
		intPtrEqual(a.KeepLast, b.KeepLast) &&
		a.Title == b.Title &&
		a.Subtitle == b.Subtitle &&
		a.Description == b.Description &&
		a.Language == b.Language &&
		a.Author == b.Author &&
		a.AuthorEmail == b.AuthorEmail &&
		a.RemoteImageURL == b.RemoteImageURL &&
		a.Category == b.Category &&
		a.PodcastType == b.PodcastType &&
		a.Explicit == b.Explicit
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
