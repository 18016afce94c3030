// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/joblog"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/manual"
	"github.com/thurstonsan/anypod/internal/schedule"
)

// handleRefresh queues an out-of-band pipeline run for the feed.
// A run already pending is treated as success: the work will happen.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	cfg, ok := s.feedConfig(feedID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown feed")
		return
	}
	if !cfg.Enabled {
		writeError(w, http.StatusBadRequest, "feed is disabled")
		return
	}
	if err := s.deps.Refresher.Trigger(feedID, cfg); err != nil && !errors.Is(err, schedule.ErrAlreadyRunning) {
		writeError(w, http.StatusInternalServerError, "could not schedule refresh")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"feed_id": feedID,
		"status":  "refresh scheduled",
	})
}

// handleResetErrors requeues every ERROR row of the feed.
func (s *Server) handleResetErrors(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	if _, err := s.deps.Feeds.GetFeed(r.Context(), feedID); err != nil {
		if errors.Is(err, db.ErrFeedNotFound) {
			writeError(w, http.StatusNotFound, "unknown feed")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	from := db.StatusError
	n, err := s.deps.Downloads.RequeueDownloads(r.Context(), feedID, nil, &from)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feed_id":     feedID,
		"reset_count": n,
	})
}

type submitRequest struct {
	URL string `json:"url"`
}

// handleManualSubmit ingests a single URL into a manual feed.
func (s *Server) handleManualSubmit(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	cfg, ok := s.feedConfig(feedID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown feed")
		return
	}
	if !cfg.IsManual {
		writeError(w, http.StatusBadRequest, "feed does not accept manual submissions")
		return
	}

	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	res, err := s.deps.Submitter.Submit(r.Context(), feedID, cfg, req.URL)
	if err != nil {
		switch {
		case errors.Is(err, manual.ErrUnsupportedURL):
			writeError(w, http.StatusBadRequest, "url yields no downloadable items")
		case errors.Is(err, manual.ErrUnavailable):
			writeError(w, http.StatusUnprocessableEntity, "item has not started yet, resubmit after it ends")
		default:
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Error().
				Err(err).Str("feed_id", feedID).Msg("manual submission failed")
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"download_id": res.DownloadID,
		"status":      res.Status.String(),
		"new":         res.New,
		"message":     res.Message,
	})
}

// handleGetDownload returns one download row, optionally projected to
// ?fields=a,b.
func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	downloadID := chi.URLParam(r, "downloadID")

	row, err := s.deps.Downloads.GetDownload(r.Context(), feedID, downloadID)
	if err != nil {
		if errors.Is(err, db.ErrDownloadNotFound) {
			writeError(w, http.StatusNotFound, "unknown download")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	full := downloadFields(row)
	if raw := r.URL.Query().Get("fields"); raw != "" {
		selected := make(map[string]any)
		for _, f := range strings.Split(raw, ",") {
			key := strings.TrimSpace(f)
			if v, ok := full[key]; ok {
				selected[key] = v
			} else {
				writeError(w, http.StatusBadRequest, "unknown field "+key)
				return
			}
		}
		writeJSON(w, http.StatusOK, selected)
		return
	}
	writeJSON(w, http.StatusOK, full)
}

// handleDeleteDownload removes one item from a manual feed: the row,
// its media file and thumbnail, then a fresh RSS document.
func (s *Server) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	downloadID := chi.URLParam(r, "downloadID")
	logger := log.WithComponentFromContext(r.Context(), "api")

	cfg, ok := s.feedConfig(feedID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown feed")
		return
	}
	if !cfg.IsManual {
		writeError(w, http.StatusBadRequest, "downloads can only be deleted from manual feeds")
		return
	}

	row, err := s.deps.Downloads.GetDownload(r.Context(), feedID, downloadID)
	if err != nil {
		if errors.Is(err, db.ErrDownloadNotFound) {
			writeError(w, http.StatusNotFound, "unknown download")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	if row.Status == db.StatusDownloaded && row.Ext != "" {
		if path, err := s.deps.Paths.MediaFilePath(feedID, downloadID, row.Ext); err == nil {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Error().Err(err).Str("path", path).Msg("media file not deleted, keeping row")
				writeError(w, http.StatusInternalServerError, "could not delete media file")
				return
			}
		}
	}
	if row.ThumbnailExt != "" {
		if path, err := s.deps.Paths.DownloadImagePath(feedID, downloadID, row.ThumbnailExt); err == nil {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warn().Err(err).Str("path", path).Msg("thumbnail not deleted")
			}
		}
	}

	if err := s.deps.Downloads.DeleteDownload(r.Context(), feedID, downloadID); err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	if _, err := s.deps.RSS.RegenerateRSS(r.Context(), feedID); err != nil {
		logger.Warn().Err(err).Str("feed_id", feedID).Msg("rss not regenerated after delete")
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDownloadLogs returns the archived fetcher attempts for one
// item, newest last.
func (s *Server) handleDownloadLogs(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	downloadID := chi.URLParam(r, "downloadID")

	if s.deps.Attempts == nil {
		writeError(w, http.StatusNotFound, "attempt archive is disabled")
		return
	}
	attempts, err := s.deps.Attempts.Attempts(feedID, downloadID)
	if err != nil {
		if errors.Is(err, joblog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no attempts recorded")
			return
		}
		writeError(w, http.StatusInternalServerError, "log archive failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feed_id":     feedID,
		"download_id": downloadID,
		"attempts":    attempts,
	})
}

// handleConfigReload re-reads the config file through the holder; a
// validation failure keeps the running config and reports the cause.
func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Holder.Reload(r.Context()); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"status": "rejected",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func downloadFields(row *db.Download) map[string]any {
	fields := map[string]any{
		"feed_id":        row.FeedID,
		"id":             row.ID,
		"source_url":     row.SourceURL,
		"title":          row.Title,
		"published":      row.Published.UTC().Format(time.RFC3339),
		"ext":            row.Ext,
		"mime_type":      row.MimeType,
		"filesize":       row.Filesize,
		"duration":       row.Duration,
		"status":         row.Status.String(),
		"discovered_at":  row.DiscoveredAt.UTC().Format(time.RFC3339),
		"updated_at":     row.UpdatedAt.UTC().Format(time.RFC3339),
		"thumbnail_ext":  row.ThumbnailExt,
		"description":    row.Description,
		"quality_info":   row.QualityInfo,
		"retries":        row.Retries,
		"last_error":     row.LastError,
		"download_logs":  row.DownloadLogs,
		"playlist_index": row.PlaylistIndex,
	}
	if row.DownloadedAt != nil {
		fields["downloaded_at"] = row.DownloadedAt.UTC().Format(time.RFC3339)
	} else {
		fields["downloaded_at"] = nil
	}
	if row.TranscriptExt != "" {
		fields["transcript_ext"] = row.TranscriptExt
		fields["transcript_lang"] = row.TranscriptLang
		fields["transcript_source"] = string(row.TranscriptSource)
	}
	return fields
}
