// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/ytdlp"
)

func TestEnqueueInsertsNewItems(t *testing.T) {
	h := newHarness(t)
	feed := h.insertFeed(t, "f1")
	cfg := feedConfig("f1")
	published := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	h.fetcher.enumerated = []*ytdlp.Item{
		queuedItem("v1", published),
		upcomingItem("v2", published.Add(time.Hour)),
	}

	e := NewEnqueuer(h.feeds, h.downloads, h.fetcher, h.prober)
	var pr PhaseResult
	n, err := e.Enqueue(context.Background(), feed, cfg, db.EpochMin, ytdlp.Options{}, &pr)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the VOD counts as newly queued")
	assert.Empty(t, pr.Errors)

	assert.Equal(t, db.StatusQueued, statusOf(t, h, "f1", "v1"))
	assert.Equal(t, db.StatusUpcoming, statusOf(t, h, "f1", "v2"))

	row, err := h.downloads.GetDownload(context.Background(), "f1", "v2")
	require.NoError(t, err)
	assert.True(t, row.IsUpcomingSentinel())
}

func TestEnqueueEmptyWindowIsNotFatal(t *testing.T) {
	h := newHarness(t)
	feed := h.insertFeed(t, "f1")

	e := NewEnqueuer(h.feeds, h.downloads, h.fetcher, h.prober)
	var pr PhaseResult
	n, err := e.Enqueue(context.Background(), feed, feedConfig("f1"), db.EpochMin, ytdlp.Options{}, &pr)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnqueueEnumerationFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	feed := h.insertFeed(t, "f1")
	h.fetcher.enumerateErr = &ytdlp.APIError{URL: "x", Err: errors.New("boom")}

	e := NewEnqueuer(h.feeds, h.downloads, h.fetcher, h.prober)
	var pr PhaseResult
	_, err := e.Enqueue(context.Background(), feed, feedConfig("f1"), db.EpochMin, ytdlp.Options{}, &pr)
	var ee *EnqueueError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "f1", ee.FeedID)
}

func TestEnqueueDiscoversUnknownSource(t *testing.T) {
	h := newHarness(t)
	feed := h.insertFeed(t, "f1")
	// Reset discovery state to simulate first contact.
	require.NoError(t, h.feeds.UpdateDiscovery(context.Background(), "f1", db.SourceTypeUnknown, ""))
	feed.SourceType = db.SourceTypeUnknown
	feed.ResolvedURL = ""

	h.fetcher.discovery = &ytdlp.Discovery{
		SourceType:  ytdlp.SourceChannel,
		ResolvedURL: "https://youtube.com/@c/videos",
	}
	h.fetcher.enumerated = []*ytdlp.Item{queuedItem("v1", time.Now().UTC())}

	e := NewEnqueuer(h.feeds, h.downloads, h.fetcher, h.prober)
	var pr PhaseResult
	n, err := e.Enqueue(context.Background(), feed, feedConfig("f1"), db.EpochMin, ytdlp.Options{}, &pr)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := h.feeds.GetFeed(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, db.SourceTypeChannel, stored.SourceType)
	assert.Equal(t, "https://youtube.com/@c/videos", stored.ResolvedURL)
}

func TestEnqueueUpcomingBecomesQueued(t *testing.T) {
	h := newHarness(t)
	feed := h.insertFeed(t, "f1")
	published := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	up := upcomingItem("v1", published)
	require.NoError(t, h.downloads.UpsertDownload(context.Background(), ItemToDownload("f1", up)))

	vod := queuedItem("v1", published)
	h.fetcher.metadata = map[string][]*ytdlp.Item{vod.SourceURL: {vod}}

	e := NewEnqueuer(h.feeds, h.downloads, h.fetcher, h.prober)
	var pr PhaseResult
	n, err := e.Enqueue(context.Background(), feed, feedConfig("f1"), db.EpochMin, ytdlp.Options{}, &pr)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, db.StatusQueued, statusOf(t, h, "f1", "v1"))

	row, err := h.downloads.GetDownload(context.Background(), "f1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "mp4", row.Ext)
	assert.EqualValues(t, 2048, row.Filesize)
}

func TestEnqueueRecheckFailureBumpsRetries(t *testing.T) {
	h := newHarness(t)
	feed := h.insertFeed(t, "f1")
	cfg := feedConfig("f1")
	cfg.MaxErrors = 2

	up := upcomingItem("v1", time.Now().UTC())
	require.NoError(t, h.downloads.UpsertDownload(context.Background(), ItemToDownload("f1", up)))

	// No metadata registered: every re-check fails.
	e := NewEnqueuer(h.feeds, h.downloads, h.fetcher, h.prober)

	var pr PhaseResult
	_, err := e.Enqueue(context.Background(), feed, cfg, db.EpochMin, ytdlp.Options{}, &pr)
	require.NoError(t, err)
	row, err := h.downloads.GetDownload(context.Background(), "f1", "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, row.Retries)
	assert.Equal(t, db.StatusUpcoming, row.Status)

	_, err = e.Enqueue(context.Background(), feed, cfg, db.EpochMin, ytdlp.Options{}, &pr)
	require.NoError(t, err)
	assert.Equal(t, db.StatusError, statusOf(t, h, "f1", "v1"), "budget exhausted")
}

func TestEnqueueStillUpcomingLeftAlone(t *testing.T) {
	h := newHarness(t)
	feed := h.insertFeed(t, "f1")

	up := upcomingItem("v1", time.Now().UTC())
	require.NoError(t, h.downloads.UpsertDownload(context.Background(), ItemToDownload("f1", up)))
	h.fetcher.metadata = map[string][]*ytdlp.Item{up.SourceURL: {up}}

	e := NewEnqueuer(h.feeds, h.downloads, h.fetcher, h.prober)
	var pr PhaseResult
	n, err := e.Enqueue(context.Background(), feed, feedConfig("f1"), db.EpochMin, ytdlp.Options{}, &pr)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, db.StatusUpcoming, statusOf(t, h, "f1", "v1"))

	row, err := h.downloads.GetDownload(context.Background(), "f1", "v1")
	require.NoError(t, err)
	assert.Zero(t, row.Retries, "a still-upcoming item is not a failure")
}

func TestEnqueueDownloadedNeverRegresses(t *testing.T) {
	h := newHarness(t)
	feed := h.insertFeed(t, "f1")
	published := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	item := queuedItem("v1", published)
	require.NoError(t, h.downloads.UpsertDownload(context.Background(), ItemToDownload("f1", item)))
	require.NoError(t, h.downloads.MarkAsDownloaded(context.Background(), "f1", "v1", "mp4", "video/mp4", 2048, 90))

	h.fetcher.enumerated = []*ytdlp.Item{item}

	e := NewEnqueuer(h.feeds, h.downloads, h.fetcher, h.prober)
	var pr PhaseResult
	n, err := e.Enqueue(context.Background(), feed, feedConfig("f1"), db.EpochMin, ytdlp.Options{}, &pr)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, db.StatusDownloaded, statusOf(t, h, "f1", "v1"))
}

func TestEnqueueRemoteDurationProbe(t *testing.T) {
	h := newHarness(t)
	feed := h.insertFeed(t, "f1")

	item := queuedItem("v1", time.Now().UTC())
	item.Duration = 0
	item.DurationProbe = &ytdlp.ProbeHint{
		Candidates: []string{"https://cdn.example.com/a.mp3", "https://cdn.example.com/b.mp3"},
		Referer:    "https://www.patreon.com/",
	}
	h.fetcher.enumerated = []*ytdlp.Item{item}
	h.prober.urlDuration = 1234

	e := NewEnqueuer(h.feeds, h.downloads, h.fetcher, h.prober)
	var pr PhaseResult
	_, err := e.Enqueue(context.Background(), feed, feedConfig("f1"), db.EpochMin, ytdlp.Options{}, &pr)
	require.NoError(t, err)

	row, err := h.downloads.GetDownload(context.Background(), "f1", "v1")
	require.NoError(t, err)
	assert.EqualValues(t, 1234, row.Duration)
	assert.Equal(t, []string{"https://cdn.example.com/a.mp3"}, h.prober.urlCalls, "first candidate won")
}
