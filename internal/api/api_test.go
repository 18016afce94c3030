// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/feedcache"
	"github.com/thurstonsan/anypod/internal/joblog"
	"github.com/thurstonsan/anypod/internal/manual"
	"github.com/thurstonsan/anypod/internal/paths"
	"github.com/thurstonsan/anypod/internal/pipeline"
)

type fakeRefresher struct {
	calls []string
	err   error
}

func (f *fakeRefresher) Trigger(feedID string, _ *config.Feed) error {
	f.calls = append(f.calls, feedID)
	return f.err
}

type fakeSubmitter struct {
	result *manual.Result
	err    error
	urls   []string
}

func (f *fakeSubmitter) Submit(_ context.Context, _ string, _ *config.Feed, rawURL string) (*manual.Result, error) {
	f.urls = append(f.urls, rawURL)
	return f.result, f.err
}

type fakeRSS struct {
	calls []string
	err   error
}

func (f *fakeRSS) RegenerateRSS(_ context.Context, feedID string) (*pipeline.PhaseResult, error) {
	f.calls = append(f.calls, feedID)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.PhaseResult{Success: true}, nil
}

type fakeAttempts struct {
	attempts []joblog.Attempt
	err      error
}

func (f *fakeAttempts) Attempts(string, string) ([]joblog.Attempt, error) {
	return f.attempts, f.err
}

type apiHarness struct {
	server    *Server
	dataDir   string
	feeds     *db.FeedStore
	downloads *db.DownloadStore
	paths     *paths.Manager
	cache     *feedcache.Memory
	refresher *fakeRefresher
	submitter *fakeSubmitter
	rss       *fakeRSS
	attempts  *fakeAttempts
	holder    *config.Holder
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	dataDir := t.TempDir()

	d, err := db.Open(filepath.Join(dataDir, "anypod.db"), db.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, d.Close()) })

	feeds := db.NewFeedStore(d)
	downloads := db.NewDownloadStore(d)
	pm := paths.NewManager(dataDir, "http://localhost:8024")
	cache := feedcache.NewMemory(feedcache.DefaultTTL)
	t.Cleanup(func() { require.NoError(t, cache.Close()) })

	keep := 5
	cfg := &config.Config{Feeds: map[string]*config.Feed{
		"f1": {ID: "f1", URL: "https://example.com/f1", Enabled: true, Schedule: "@hourly", MaxErrors: 3, KeepLast: &keep},
		"m1": {ID: "m1", URL: "manual", Enabled: true, IsManual: true, MaxErrors: 3},
		"off": {ID: "off", URL: "https://example.com/off", Schedule: "@hourly", MaxErrors: 3},
	}}

	h := &apiHarness{
		dataDir:   dataDir,
		feeds:     feeds,
		downloads: downloads,
		paths:     pm,
		cache:     cache,
		refresher: &fakeRefresher{},
		submitter: &fakeSubmitter{},
		rss:       &fakeRSS{},
		attempts:  &fakeAttempts{},
		holder:    config.NewHolder(cfg, filepath.Join(dataDir, "feeds.yaml")),
	}
	h.server = New(Deps{
		Settings:  &config.Settings{},
		Holder:    h.holder,
		Feeds:     feeds,
		Downloads: downloads,
		Cache:     cache,
		Paths:     pm,
		Refresher: h.refresher,
		Submitter: h.submitter,
		RSS:       h.rss,
		Attempts:  h.attempts,
	})

	for _, id := range []string{"f1", "m1", "off"} {
		require.NoError(t, feeds.InsertFeed(context.Background(), &db.Feed{
			ID: id, IsEnabled: id != "off", SourceType: db.SourceTypeUnknown,
			SourceURL: "https://example.com/" + id, LastSuccessfulSync: db.EpochMin,
		}))
	}
	return h
}

func (h *apiHarness) seedDownloaded(t *testing.T, feedID, id string) {
	t.Helper()
	require.NoError(t, h.downloads.UpsertDownload(context.Background(), &db.Download{
		FeedID: feedID, ID: id, SourceURL: "https://example.com/w/" + id,
		Title: "Item " + id, Published: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Ext: "mp4", MimeType: "video/mp4", Filesize: 11, Duration: 60,
		Status: db.StatusQueued,
	}))
	require.NoError(t, h.downloads.MarkAsDownloaded(context.Background(), feedID, id, "mp4", "video/mp4", 11, 60))

	path, err := h.paths.MediaFilePath(feedID, id, "mp4")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("media-bytes"), 0o644))
}

func (h *apiHarness) public(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	return h.do(t, h.server.PublicRouter(), method, target, "")
}

func (h *apiHarness) admin(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	return h.do(t, h.server.AdminRouter(), method, target, body)
}

func (h *apiHarness) do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func newConditionalGet(target, etag string) (*http.Request, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("If-None-Match", etag)
	return req, httptest.NewRecorder()
}
