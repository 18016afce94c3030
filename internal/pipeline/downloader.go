// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/fsstore"
	"github.com/thurstonsan/anypod/internal/joblog"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/metrics"
	"github.com/thurstonsan/anypod/internal/paths"
	"github.com/thurstonsan/anypod/internal/ytdlp"
)

// Downloader turns QUEUED rows into media files on disk.
type Downloader struct {
	downloads *db.DownloadStore
	fetcher   Fetcher
	prober    Prober
	store     *fsstore.Store
	paths     *paths.Manager
	images    ImageFetcher
	attempts  AttemptRecorder
	logger    zerolog.Logger
}

// NewDownloader wires the download phase. images and attempts may be
// nil to disable thumbnail hosting and the attempt archive.
func NewDownloader(downloads *db.DownloadStore, fetcher Fetcher, prober Prober, store *fsstore.Store, pm *paths.Manager, images ImageFetcher, attempts AttemptRecorder) *Downloader {
	return &Downloader{
		downloads: downloads,
		fetcher:   fetcher,
		prober:    prober,
		store:     store,
		paths:     pm,
		images:    images,
		attempts:  attempts,
		logger:    log.WithComponent("downloader"),
	}
}

// Download processes QUEUED items oldest-published first, up to limit
// (0 = unbounded). Per-item failures bump retries and continue.
func (d *Downloader) Download(ctx context.Context, feed *db.Feed, cfg *config.Feed, limit int, opts ytdlp.Options, result *PhaseResult) (success, failure int) {
	logger := log.WithContext(ctx, d.logger).With().Str("feed_id", feed.ID).Logger()

	rows, err := d.downloads.GetDownloadsByStatus(ctx, feed.ID, db.StatusQueued, false, limit)
	if err != nil {
		result.addError(err)
		return 0, 0
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			result.addError(ctx.Err())
			break
		}
		if err := d.downloadOne(ctx, feed, cfg, row, opts, logger); err != nil {
			failure++
			result.addError(err)
			metrics.RecordDownload(feed.ID, "failure")
			continue
		}
		success++
		metrics.RecordDownload(feed.ID, "success")
	}

	logger.Info().
		Str("event", "download.done").
		Int("success", success).
		Int("failure", failure).
		Msg("download phase complete")
	return success, failure
}

func (d *Downloader) downloadOne(ctx context.Context, feed *db.Feed, cfg *config.Feed, row *db.Download, opts ytdlp.Options, logger zerolog.Logger) error {
	tmpDir, err := d.paths.TmpDir(feed.ID)
	if err != nil {
		return err
	}

	item := downloadToItem(row)
	producedPath, logTail, err := d.fetcher.DownloadMedia(ctx, item, tmpDir, opts)
	d.recordAttempt(feed.ID, row.ID, err, logTail, logger)
	if logTail != "" {
		if logErr := d.downloads.SetDownloadLogs(ctx, feed.ID, row.ID, logTail); logErr != nil {
			logger.Warn().Err(logErr).Str("download_id", row.ID).Msg("storing download logs failed")
		}
	}
	if err != nil {
		d.failItem(ctx, feed, cfg, row, err, logger)
		d.cleanTmp(ctx, tmpDir, row.ID, logger)
		return err
	}

	ext := strings.TrimPrefix(filepath.Ext(producedPath), ".")
	if ext == "" {
		ext = row.Ext
	}

	info, err := os.Stat(producedPath)
	if err != nil {
		d.failItem(ctx, feed, cfg, row, err, logger)
		d.cleanTmp(ctx, tmpDir, row.ID, logger)
		return err
	}
	filesize := info.Size()

	duration := row.Duration
	if duration <= db.UpcomingDuration {
		if probed, probeErr := d.prober.ProbeDuration(ctx, producedPath); probeErr == nil && probed > 0 {
			duration = probed
		} else if probeErr != nil {
			logger.Warn().
				Err(probeErr).
				Str("event", "download.probe_failed").
				Str("download_id", row.ID).
				Msg("duration probe failed, keeping metadata value")
		}
	}

	finalPath, err := d.paths.MediaFilePath(feed.ID, row.ID, ext)
	if err != nil {
		d.failItem(ctx, feed, cfg, row, err, logger)
		d.cleanTmp(ctx, tmpDir, row.ID, logger)
		return err
	}
	if err := d.store.Publish(ctx, producedPath, finalPath); err != nil {
		d.failItem(ctx, feed, cfg, row, err, logger)
		d.cleanTmp(ctx, tmpDir, row.ID, logger)
		return err
	}

	// Thumbnail and transcript are enrichments; their failures degrade
	// the episode, not the run.
	d.fetchThumbnail(ctx, feed.ID, row, logger)
	d.fetchTranscript(ctx, feed.ID, cfg, item, tmpDir, logger)

	mime := ytdlp.MimeForExt(ext)
	if err := d.downloads.MarkAsDownloaded(ctx, feed.ID, row.ID, ext, mime, filesize, duration); err != nil {
		return err
	}

	logger.Info().
		Str("event", "download.complete").
		Str("download_id", row.ID).
		Str("ext", ext).
		Int64("filesize", filesize).
		Int64("duration", duration).
		Msg("media downloaded")
	return nil
}

func (d *Downloader) failItem(ctx context.Context, feed *db.Feed, cfg *config.Feed, row *db.Download, cause error, logger zerolog.Logger) {
	retries, status, transitioned, err := d.downloads.BumpRetries(ctx, feed.ID, row.ID, cause.Error(), cfg.MaxErrors)
	if err != nil {
		logger.Error().Err(err).Str("download_id", row.ID).Msg("bump retries failed")
		return
	}
	evt := logger.Warn().
		Str("event", "download.failed").
		Str("download_id", row.ID).
		Int("retries", retries).
		Str("status", status.String()).
		Err(cause)
	if transitioned {
		evt = logger.Error().
			Str("event", "download.gave_up").
			Str("download_id", row.ID).
			Int("retries", retries).
			Err(cause)
	}
	evt.Msg("download attempt failed")
}

func (d *Downloader) recordAttempt(feedID, id string, runErr error, tail string, logger zerolog.Logger) {
	if d.attempts == nil {
		return
	}
	exit := 0
	if runErr != nil {
		exit = 1
	}
	att := joblog.Attempt{
		FeedID:     feedID,
		DownloadID: id,
		Timestamp:  time.Now().UTC(),
		ExitCode:   exit,
		StderrTail: tail,
	}
	if err := d.attempts.Record(att); err != nil {
		logger.Warn().Err(err).Str("download_id", id).Msg("attempt archive write failed")
	}
}

func (d *Downloader) fetchThumbnail(ctx context.Context, feedID string, row *db.Download, logger zerolog.Logger) {
	if d.images == nil || row.RemoteThumbnailURL == "" {
		return
	}
	dest, err := d.paths.DownloadImagePath(feedID, row.ID, "jpg")
	if err != nil {
		logger.Warn().Err(err).Str("download_id", row.ID).Msg("thumbnail path rejected")
		return
	}
	destNoExt := strings.TrimSuffix(dest, ".jpg")
	ext, err := d.images.Fetch(ctx, row.RemoteThumbnailURL, destNoExt)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "download.thumbnail_failed").
			Str("download_id", row.ID).
			Msg("thumbnail fetch failed")
		return
	}
	if err := d.downloads.SetThumbnailExt(ctx, feedID, row.ID, ext); err != nil {
		logger.Warn().Err(err).Str("download_id", row.ID).Msg("storing thumbnail ext failed")
	}
}

func (d *Downloader) fetchTranscript(ctx context.Context, feedID string, cfg *config.Feed, item *ytdlp.Item, tmpDir string, logger zerolog.Logger) {
	if cfg.TranscriptLang == "" {
		return
	}
	pref := ytdlp.TranscriptPreference{
		Lang:           cfg.TranscriptLang,
		SourcePriority: cfg.TranscriptSourcePriority,
	}
	producedPath, source, err := d.fetcher.DownloadTranscript(ctx, item, tmpDir, pref, ytdlp.Options{})
	if err != nil {
		logger.Debug().
			Err(err).
			Str("event", "download.transcript_missing").
			Str("download_id", item.ID).
			Msg("no transcript available")
		return
	}
	finalPath, err := d.paths.MediaFilePath(feedID, item.ID, "srt")
	if err != nil {
		logger.Warn().Err(err).Str("download_id", item.ID).Msg("transcript path rejected")
		return
	}
	if err := d.store.Publish(ctx, producedPath, finalPath); err != nil {
		logger.Warn().Err(err).Str("download_id", item.ID).Msg("transcript publish failed")
		return
	}
	if err := d.downloads.SetTranscript(ctx, feedID, item.ID, "srt", cfg.TranscriptLang, db.TranscriptSource(source)); err != nil {
		logger.Warn().Err(err).Str("download_id", item.ID).Msg("storing transcript metadata failed")
	}
}

// cleanTmp removes the leftovers of a failed attempt for one item only;
// concurrent feeds never share a tmp dir but items within a feed might.
func (d *Downloader) cleanTmp(ctx context.Context, tmpDir, id string, logger zerolog.Logger) {
	matches, err := filepath.Glob(filepath.Join(tmpDir, id+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := d.store.Delete(ctx, m); err != nil && !fsstore.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", m).Msg("tmp cleanup failed")
		}
	}
}

// downloadToItem rebuilds the fetcher-facing item from a stored row.
func downloadToItem(row *db.Download) *ytdlp.Item {
	return &ytdlp.Item{
		ID:            row.ID,
		SourceURL:     row.SourceURL,
		Title:         row.Title,
		Published:     row.Published,
		Ext:           row.Ext,
		MimeType:      row.MimeType,
		Filesize:      row.Filesize,
		Duration:      row.Duration,
		Status:        ytdlp.ItemQueued,
		ThumbnailURL:  row.RemoteThumbnailURL,
		PlaylistIndex: row.PlaylistIndex,
	}
}
