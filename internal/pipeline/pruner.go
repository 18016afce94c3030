// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/fsstore"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/paths"
)

// Pruner archives downloads that fell outside the retention window and
// removes their files.
type Pruner struct {
	downloads *db.DownloadStore
	store     *fsstore.Store
	paths     *paths.Manager
	logger    zerolog.Logger
}

// NewPruner wires the prune phase.
func NewPruner(downloads *db.DownloadStore, store *fsstore.Store, pm *paths.Manager) *Pruner {
	return &Pruner{
		downloads: downloads,
		store:     store,
		paths:     pm,
		logger:    log.WithComponent("pruner"),
	}
}

// Prune archives every item outside keepLast and since (union of both
// policies). Missing files warn; other delete failures skip the item
// and are reported. Returns the archived ids and the ids whose media
// file was deleted.
func (p *Pruner) Prune(ctx context.Context, feedID string, keepLast *int, since *time.Time, result *PhaseResult) (archived, filesDeleted []string) {
	logger := log.WithContext(ctx, p.logger).With().Str("feed_id", feedID).Logger()

	candidates := make(map[string]*db.Download)
	if keepLast != nil {
		rows, err := p.downloads.GetPrunableByKeepLast(ctx, feedID, *keepLast)
		if err != nil {
			result.addError(err)
			return nil, nil
		}
		for _, row := range rows {
			candidates[row.ID] = row
		}
	}
	if since != nil {
		rows, err := p.downloads.GetPrunableBySince(ctx, feedID, *since)
		if err != nil {
			result.addError(err)
			return nil, nil
		}
		for _, row := range rows {
			candidates[row.ID] = row
		}
	}

	for _, row := range candidates {
		deleted, err := p.archiveOne(ctx, feedID, row, logger)
		if err != nil {
			result.addError(err)
			continue
		}
		archived = append(archived, row.ID)
		if deleted {
			filesDeleted = append(filesDeleted, row.ID)
		}
	}

	logger.Info().
		Str("event", "prune.done").
		Int("archived", len(archived)).
		Int("files_deleted", len(filesDeleted)).
		Msg("prune phase complete")
	return archived, filesDeleted
}

// ArchiveFeed archives every non-archived download of a feed; used when
// a feed disappears from the configuration.
func (p *Pruner) ArchiveFeed(ctx context.Context, feedID string) (archived []string, errs []error) {
	logger := p.logger.With().Str("feed_id", feedID).Logger()

	for _, status := range []db.Status{
		db.StatusUpcoming, db.StatusQueued, db.StatusDownloaded, db.StatusError, db.StatusSkipped,
	} {
		rows, err := p.downloads.GetDownloadsByStatus(ctx, feedID, status, false, 0)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, row := range rows {
			if _, err := p.archiveOne(ctx, feedID, row, logger); err != nil {
				errs = append(errs, err)
				continue
			}
			archived = append(archived, row.ID)
		}
	}

	logger.Info().
		Str("event", "prune.feed_archived").
		Int("archived", len(archived)).
		Int("errors", len(errs)).
		Msg("feed fully archived")
	return archived, errs
}

// archiveOne deletes the item's files then flips it to ARCHIVED. The
// row keeps retries and last_error; only the thumbnail ext is cleared
// (by the store, together with the status flip).
func (p *Pruner) archiveOne(ctx context.Context, feedID string, row *db.Download, logger zerolog.Logger) (fileDeleted bool, err error) {
	if row.Status == db.StatusDownloaded {
		mediaPath, err := p.paths.MediaFilePath(feedID, row.ID, row.Ext)
		if err != nil {
			return false, err
		}
		switch err := p.store.Delete(ctx, mediaPath); {
		case err == nil:
			fileDeleted = true
		case fsstore.IsNotExist(err):
			logger.Warn().
				Str("event", "prune.file_missing").
				Str("download_id", row.ID).
				Str("path", mediaPath).
				Msg("media file already gone")
		default:
			return false, err
		}
	}

	if row.ThumbnailExt != "" {
		thumbPath, err := p.paths.DownloadImagePath(feedID, row.ID, row.ThumbnailExt)
		if err != nil {
			return fileDeleted, err
		}
		if err := p.store.Delete(ctx, thumbPath); err != nil && !fsstore.IsNotExist(err) {
			return fileDeleted, err
		}
	}

	if err := p.downloads.ArchiveDownload(ctx, feedID, row.ID); err != nil {
		return fileDeleted, err
	}
	logger.Debug().
		Str("event", "prune.archived").
		Str("download_id", row.ID).
		Bool("file_deleted", fileDeleted).
		Msg("download archived")
	return fileDeleted, nil
}
