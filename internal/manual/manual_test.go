// SPDX-License-Identifier: MIT

package manual

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/schedule"
	"github.com/thurstonsan/anypod/internal/ytdlp"
)

type fakeFetcher struct {
	items   []*ytdlp.Item
	err     error
	lastURL string
}

func (f *fakeFetcher) FetchMetadata(_ context.Context, itemURL string, _ ytdlp.Options) ([]*ytdlp.Item, error) {
	f.lastURL = itemURL
	return f.items, f.err
}

type fakeTrigger struct {
	calls []string
	err   error
}

func (f *fakeTrigger) Trigger(feedID string, _ *config.Feed) error {
	f.calls = append(f.calls, feedID)
	return f.err
}

func newService(t *testing.T, fetcher *fakeFetcher, trigger *fakeTrigger) (*Service, *db.DownloadStore, *db.FeedStore) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "anypod.db"), db.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, d.Close()) })

	feeds := db.NewFeedStore(d)
	require.NoError(t, feeds.InsertFeed(context.Background(), &db.Feed{
		ID: "m1", IsEnabled: true, SourceType: db.SourceTypeSingleVideo,
		SourceURL: "manual", LastSuccessfulSync: db.EpochMin,
	}))
	downloads := db.NewDownloadStore(d)
	return New(downloads, fetcher, trigger, ""), downloads, feeds
}

func manualFeed() *config.Feed {
	return &config.Feed{ID: "m1", URL: "manual", Enabled: true, IsManual: true, MaxErrors: 3}
}

func videoItem(id string) *ytdlp.Item {
	return &ytdlp.Item{
		ID:        id,
		SourceURL: "https://example.com/watch/" + id,
		Title:     "Item " + id,
		Published: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Ext:       "mp4",
		MimeType:  "video/mp4",
		Filesize:  100,
		Duration:  60,
		Status:    ytdlp.ItemQueued,
	}
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://youtube.com/watch?v=x", NormalizeURL("youtube.com/watch?v=x"))
	assert.Equal(t, "http://example.com/v", NormalizeURL("http://example.com/v"))
	assert.Equal(t, "https://example.com/v", NormalizeURL("  https://example.com/v "))
	assert.Equal(t, "", NormalizeURL("   "))
}

func TestSubmitNewItem(t *testing.T) {
	fetcher := &fakeFetcher{items: []*ytdlp.Item{videoItem("v1")}}
	trigger := &fakeTrigger{}
	svc, downloads, _ := newService(t, fetcher, trigger)

	res, err := svc.Submit(context.Background(), "m1", manualFeed(), "example.com/watch/v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", res.DownloadID)
	assert.Equal(t, db.StatusQueued, res.Status)
	assert.True(t, res.New)
	assert.Equal(t, "https://example.com/watch/v1", fetcher.lastURL, "scheme prepended")
	assert.Equal(t, []string{"m1"}, trigger.calls)

	row, err := downloads.GetDownload(context.Background(), "m1", "v1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusQueued, row.Status)
}

func TestSubmitUnsupportedURL(t *testing.T) {
	fetcher := &fakeFetcher{}
	trigger := &fakeTrigger{}
	svc, _, _ := newService(t, fetcher, trigger)

	_, err := svc.Submit(context.Background(), "m1", manualFeed(), "https://example.com/not-a-video")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedURL)
	var se *SubmissionError
	assert.ErrorAs(t, err, &se)
	assert.Empty(t, trigger.calls)
}

func TestSubmitUpcomingItem(t *testing.T) {
	item := videoItem("v1")
	item.Status = ytdlp.ItemUpcoming
	fetcher := &fakeFetcher{items: []*ytdlp.Item{item}}
	svc, _, _ := newService(t, fetcher, &fakeTrigger{})

	_, err := svc.Submit(context.Background(), "m1", manualFeed(), "https://example.com/live")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSubmitAlreadyDownloaded(t *testing.T) {
	fetcher := &fakeFetcher{items: []*ytdlp.Item{videoItem("v1")}}
	trigger := &fakeTrigger{}
	svc, downloads, _ := newService(t, fetcher, trigger)

	first, err := svc.Submit(context.Background(), "m1", manualFeed(), "https://example.com/watch/v1")
	require.NoError(t, err)
	require.True(t, first.New)
	require.NoError(t, downloads.MarkAsDownloaded(context.Background(), "m1", "v1", "mp4", "video/mp4", 100, 60))

	res, err := svc.Submit(context.Background(), "m1", manualFeed(), "https://example.com/watch/v1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusDownloaded, res.Status)
	assert.False(t, res.New)
	assert.Equal(t, "already downloaded", res.Message)
	assert.Equal(t, []string{"m1"}, trigger.calls, "no second trigger")
}

func TestSubmitRequeuesErroredRow(t *testing.T) {
	fetcher := &fakeFetcher{items: []*ytdlp.Item{videoItem("v1")}}
	trigger := &fakeTrigger{}
	svc, downloads, _ := newService(t, fetcher, trigger)

	_, err := svc.Submit(context.Background(), "m1", manualFeed(), "https://example.com/watch/v1")
	require.NoError(t, err)
	_, _, _, err = downloads.BumpRetries(context.Background(), "m1", "v1", "broken", 1)
	require.NoError(t, err)

	res, err := svc.Submit(context.Background(), "m1", manualFeed(), "https://example.com/watch/v1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusQueued, res.Status)
	assert.False(t, res.New)
	assert.Equal(t, "requeued for download", res.Message)

	row, err := downloads.GetDownload(context.Background(), "m1", "v1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusQueued, row.Status)
	assert.Zero(t, row.Retries)
	assert.Equal(t, []string{"m1", "m1"}, trigger.calls)
}

func TestSubmitFetcherFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: &ytdlp.APIError{URL: "x", Err: errors.New("api down")}}
	svc, _, _ := newService(t, fetcher, &fakeTrigger{})

	_, err := svc.Submit(context.Background(), "m1", manualFeed(), "https://example.com/watch/v1")
	require.Error(t, err)
	var ae *ytdlp.APIError
	assert.ErrorAs(t, err, &ae)
}

func TestSubmitTriggerBusyIsNotAnError(t *testing.T) {
	fetcher := &fakeFetcher{items: []*ytdlp.Item{videoItem("v1")}}
	trigger := &fakeTrigger{err: schedule.ErrAlreadyRunning}
	svc, _, _ := newService(t, fetcher, trigger)

	res, err := svc.Submit(context.Background(), "m1", manualFeed(), "https://example.com/watch/v1")
	require.NoError(t, err)
	assert.True(t, res.New)
}
