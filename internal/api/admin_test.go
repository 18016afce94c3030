// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/joblog"
	"github.com/thurstonsan/anypod/internal/manual"
	"github.com/thurstonsan/anypod/internal/schedule"
)

func TestRefreshAccepted(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.admin(t, http.MethodPost, "/admin/feeds/f1/refresh", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"f1"}, h.refresher.calls)
}

func TestRefreshWhileBusyStillAccepted(t *testing.T) {
	h := newAPIHarness(t)
	h.refresher.err = schedule.ErrAlreadyRunning
	rec := h.admin(t, http.MethodPost, "/admin/feeds/f1/refresh", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRefreshUnknownFeed(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.admin(t, http.MethodPost, "/admin/feeds/ghost/refresh", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefreshDisabledFeed(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.admin(t, http.MethodPost, "/admin/feeds/off/refresh", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.refresher.calls)
}

func TestResetErrors(t *testing.T) {
	h := newAPIHarness(t)
	require.NoError(t, h.downloads.UpsertDownload(context.Background(), &db.Download{
		FeedID: "f1", ID: "v1", SourceURL: "https://example.com/w/v1",
		Title: "v1", Published: time.Now().UTC(), Ext: "mp4", MimeType: "video/mp4",
		Filesize: 1, Duration: 1, Status: db.StatusQueued,
	}))
	_, _, _, err := h.downloads.BumpRetries(context.Background(), "f1", "v1", "broken", 1)
	require.NoError(t, err)

	rec := h.admin(t, http.MethodPost, "/admin/feeds/f1/reset-errors", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		FeedID     string `json:"feed_id"`
		ResetCount int    `json:"reset_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "f1", body.FeedID)
	assert.Equal(t, 1, body.ResetCount)

	row, err := h.downloads.GetDownload(context.Background(), "f1", "v1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusQueued, row.Status)
	assert.Zero(t, row.Retries)
}

func TestManualSubmitSuccess(t *testing.T) {
	h := newAPIHarness(t)
	h.submitter.result = &manual.Result{
		DownloadID: "v1", Status: db.StatusQueued, New: true, Message: "queued for download",
	}

	rec := h.admin(t, http.MethodPost, "/admin/feeds/m1/downloads", `{"url":"youtube.com/watch?v=v1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		DownloadID string `json:"download_id"`
		Status     string `json:"status"`
		New        bool   `json:"new"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "v1", body.DownloadID)
	assert.Equal(t, "QUEUED", body.Status)
	assert.True(t, body.New)
	assert.Equal(t, []string{"youtube.com/watch?v=v1"}, h.submitter.urls)
}

func TestManualSubmitRejections(t *testing.T) {
	h := newAPIHarness(t)

	h.submitter.err = &manual.SubmissionError{FeedID: "m1", URL: "x", Err: manual.ErrUnsupportedURL}
	rec := h.admin(t, http.MethodPost, "/admin/feeds/m1/downloads", `{"url":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.submitter.err = &manual.SubmissionError{FeedID: "m1", URL: "x", Err: manual.ErrUnavailable}
	rec = h.admin(t, http.MethodPost, "/admin/feeds/m1/downloads", `{"url":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	h.submitter.err = errors.New("boom")
	rec = h.admin(t, http.MethodPost, "/admin/feeds/m1/downloads", `{"url":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestManualSubmitNonManualFeed(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.admin(t, http.MethodPost, "/admin/feeds/f1/downloads", `{"url":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualSubmitEmptyBody(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.admin(t, http.MethodPost, "/admin/feeds/m1/downloads", `{"url":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDownloadFullAndProjected(t *testing.T) {
	h := newAPIHarness(t)
	h.seedDownloaded(t, "f1", "v1")

	rec := h.admin(t, http.MethodGet, "/admin/feeds/f1/downloads/v1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var full map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &full))
	assert.Equal(t, "DOWNLOADED", full["status"])
	assert.Equal(t, "mp4", full["ext"])

	rec = h.admin(t, http.MethodGet, "/admin/feeds/f1/downloads/v1?fields=id,status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var projected map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &projected))
	assert.Len(t, projected, 2)
	assert.Equal(t, "v1", projected["id"])

	rec = h.admin(t, http.MethodGet, "/admin/feeds/f1/downloads/v1?fields=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDownloadNotFound(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.admin(t, http.MethodGet, "/admin/feeds/f1/downloads/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteDownloadManualOnly(t *testing.T) {
	h := newAPIHarness(t)
	h.seedDownloaded(t, "f1", "v1")

	rec := h.admin(t, http.MethodDelete, "/admin/feeds/f1/downloads/v1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDownload(t *testing.T) {
	h := newAPIHarness(t)
	h.seedDownloaded(t, "m1", "d1")
	mediaPath, err := h.paths.MediaFilePath("m1", "d1", "mp4")
	require.NoError(t, err)

	rec := h.admin(t, http.MethodDelete, "/admin/feeds/m1/downloads/d1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err = h.downloads.GetDownload(context.Background(), "m1", "d1")
	assert.ErrorIs(t, err, db.ErrDownloadNotFound)
	_, statErr := os.Stat(mediaPath)
	assert.True(t, os.IsNotExist(statErr), "media file unlinked")
	assert.Equal(t, []string{"m1"}, h.rss.calls, "document regenerated")

	feed, err := h.feeds.GetFeed(context.Background(), "m1")
	require.NoError(t, err)
	assert.Zero(t, feed.TotalDownloads, "trigger decremented the counter")
}

func TestDownloadLogs(t *testing.T) {
	h := newAPIHarness(t)
	h.attempts.attempts = []joblog.Attempt{
		{FeedID: "f1", DownloadID: "v1", ExitCode: 1, StderrTail: "network down"},
	}

	rec := h.admin(t, http.MethodGet, "/admin/feeds/f1/downloads/v1/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "network down")

	h.attempts.err = joblog.ErrNotFound
	rec = h.admin(t, http.MethodGet, "/admin/feeds/f1/downloads/v1/logs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigReloadRejectsInvalid(t *testing.T) {
	h := newAPIHarness(t)
	// Holder path points at a nonexistent file: reload must fail and
	// keep the running config.
	rec := h.admin(t, http.MethodPost, "/admin/config/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotNil(t, h.holder.Get())
}
