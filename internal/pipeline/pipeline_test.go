// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/fsstore"
	"github.com/thurstonsan/anypod/internal/paths"
	"github.com/thurstonsan/anypod/internal/ytdlp"
)

// harness bundles the real stores over a temp SQLite file with fake
// external tools.
type harness struct {
	db        *db.DB
	feeds     *db.FeedStore
	downloads *db.DownloadStore
	appState  *db.AppStateStore
	store     *fsstore.Store
	paths     *paths.Manager
	fetcher   *fakeFetcher
	prober    *fakeProber
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dataDir := t.TempDir()

	d, err := db.Open(filepath.Join(dataDir, "anypod.db"), db.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, d.Close()) })

	store, err := fsstore.New(dataDir)
	require.NoError(t, err)

	return &harness{
		db:        d,
		feeds:     db.NewFeedStore(d),
		downloads: db.NewDownloadStore(d),
		appState:  db.NewAppStateStore(d),
		store:     store,
		paths:     paths.NewManager(dataDir, "http://localhost:8024"),
		fetcher:   &fakeFetcher{},
		prober:    &fakeProber{},
	}
}

func (h *harness) insertFeed(t *testing.T, id string) *db.Feed {
	t.Helper()
	feed := &db.Feed{
		ID:                 id,
		IsEnabled:          true,
		SourceType:         db.SourceTypePlaylist,
		SourceURL:          "https://example.com/" + id,
		ResolvedURL:        "https://example.com/" + id,
		LastSuccessfulSync: db.EpochMin,
		Title:              "Feed " + id,
	}
	require.NoError(t, h.feeds.InsertFeed(context.Background(), feed))
	return feed
}

func feedConfig(id string) *config.Feed {
	return &config.Feed{
		ID:        id,
		URL:       "https://example.com/" + id,
		Enabled:   true,
		Schedule:  "@hourly",
		MaxErrors: 3,
	}
}

func queuedItem(id string, published time.Time) *ytdlp.Item {
	return &ytdlp.Item{
		ID:        id,
		SourceURL: "https://example.com/watch/" + id,
		Title:     "Item " + id,
		Published: published,
		Ext:       "mp4",
		MimeType:  "video/mp4",
		Filesize:  2048,
		Duration:  90,
		Status:    ytdlp.ItemQueued,
	}
}

func upcomingItem(id string, published time.Time) *ytdlp.Item {
	return &ytdlp.Item{
		ID:        id,
		SourceURL: "https://example.com/watch/" + id,
		Title:     "Item " + id,
		Published: published,
		Ext:       ytdlp.SentinelExt,
		MimeType:  ytdlp.SentinelMimeType,
		Filesize:  ytdlp.SentinelFilesize,
		Duration:  ytdlp.SentinelDuration,
		Status:    ytdlp.ItemUpcoming,
	}
}

// fakeFetcher scripts the yt-dlp client surface.
type fakeFetcher struct {
	discovery    *ytdlp.Discovery
	discoverErr  error
	enumerated   []*ytdlp.Item
	enumerateErr error
	// metadata maps source URL to the items a re-check returns.
	metadata    map[string][]*ytdlp.Item
	metadataErr error

	// downloadErr fails DownloadMedia for the listed item ids.
	downloadErr map[string]error
	// mediaBody is the content written for successful downloads.
	mediaBody string

	transcriptErr error

	enumerateCalls int
	downloadCalls  []string
}

func (f *fakeFetcher) Discover(context.Context, string, ytdlp.Options) (*ytdlp.Discovery, error) {
	if f.discoverErr != nil {
		return nil, f.discoverErr
	}
	if f.discovery != nil {
		return f.discovery, nil
	}
	return &ytdlp.Discovery{SourceType: ytdlp.SourcePlaylist, ResolvedURL: "https://example.com/resolved"}, nil
}

func (f *fakeFetcher) Enumerate(_ context.Context, _ string, _ time.Time, _ int, _ ytdlp.Options) ([]*ytdlp.Item, error) {
	f.enumerateCalls++
	if f.enumerateErr != nil {
		return nil, f.enumerateErr
	}
	if len(f.enumerated) == 0 {
		return nil, &ytdlp.DataError{URL: "x", Err: ytdlp.ErrNoEntries}
	}
	return f.enumerated, nil
}

func (f *fakeFetcher) FetchMetadata(_ context.Context, itemURL string, _ ytdlp.Options) ([]*ytdlp.Item, error) {
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	items, ok := f.metadata[itemURL]
	if !ok {
		return nil, &ytdlp.DataError{URL: itemURL, Err: ytdlp.ErrNoEntries}
	}
	return items, nil
}

func (f *fakeFetcher) DownloadMedia(_ context.Context, item *ytdlp.Item, tmpDir string, _ ytdlp.Options) (string, string, error) {
	f.downloadCalls = append(f.downloadCalls, item.ID)
	if err, ok := f.downloadErr[item.ID]; ok {
		return "", "simulated stderr tail", err
	}
	body := f.mediaBody
	if body == "" {
		body = "media-bytes"
	}
	path := filepath.Join(tmpDir, item.ID+".mp4")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", "", err
	}
	return path, "downloaded ok", nil
}

func (f *fakeFetcher) DownloadTranscript(_ context.Context, item *ytdlp.Item, tmpDir string, pref ytdlp.TranscriptPreference, _ ytdlp.Options) (string, string, error) {
	if f.transcriptErr != nil {
		return "", "", f.transcriptErr
	}
	path := filepath.Join(tmpDir, item.ID+"."+pref.Lang+".srt")
	if err := os.WriteFile(path, []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"), 0o644); err != nil {
		return "", "", err
	}
	return path, "creator", nil
}

// fakeProber returns fixed durations.
type fakeProber struct {
	fileDuration int64
	urlDuration  int64
	urlErr       error
	urlCalls     []string
}

func (p *fakeProber) ProbeDuration(context.Context, string) (int64, error) {
	if p.fileDuration == 0 {
		return 0, errors.New("probe failed")
	}
	return p.fileDuration, nil
}

func (p *fakeProber) ProbeDurationURL(_ context.Context, url, _ string) (int64, error) {
	p.urlCalls = append(p.urlCalls, url)
	if p.urlErr != nil {
		return 0, p.urlErr
	}
	return p.urlDuration, nil
}

// fakeImages records thumbnail fetches without network access.
type fakeImages struct {
	err   error
	calls []string
}

func (f *fakeImages) Fetch(_ context.Context, remoteURL, destNoExt string) (string, error) {
	f.calls = append(f.calls, remoteURL)
	if f.err != nil {
		return "", f.err
	}
	if err := os.WriteFile(destNoExt+".jpg", []byte("jpg"), 0o644); err != nil {
		return "", err
	}
	return "jpg", nil
}

func statusOf(t *testing.T, h *harness, feedID, id string) db.Status {
	t.Helper()
	row, err := h.downloads.GetDownload(context.Background(), feedID, id)
	require.NoError(t, err)
	return row.Status
}

func mustCount(t *testing.T, h *harness, feedID string, status db.Status) int {
	t.Helper()
	n, err := h.downloads.CountByStatus(context.Background(), feedID, status)
	require.NoError(t, err)
	return n
}
