// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*FeedStore, *DownloadStore) {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "anypod.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, d.Close()) })
	return NewFeedStore(d), NewDownloadStore(d)
}

func seedFeed(t *testing.T, feeds *FeedStore, id string) {
	t.Helper()
	require.NoError(t, feeds.InsertFeed(context.Background(), &Feed{
		ID:                 id,
		IsEnabled:          true,
		SourceType:         SourceTypeChannel,
		SourceURL:          "https://example.com/" + id,
		LastSuccessfulSync: EpochMin,
	}))
}

func testDownload(feedID, id string, published time.Time) *Download {
	return &Download{
		FeedID:    feedID,
		ID:        id,
		SourceURL: "https://example.com/w/" + id,
		Title:     "Item " + id,
		Published: published,
		Ext:       "mp4",
		MimeType:  "video/mp4",
		Filesize:  100,
		Duration:  60,
		Status:    StatusQueued,
	}
}

func TestUpsertPreservesDownloadedDescriptors(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")

	d := testDownload("f1", "v1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, downloads.UpsertDownload(ctx, d))
	require.NoError(t, downloads.MarkAsDownloaded(ctx, "f1", "v1", "m4a", "audio/mp4", 999, 120))

	// A later enumeration reports different estimates; the real
	// descriptors must survive, the metadata refresh must land.
	d.Title = "Updated title"
	d.Filesize = 1
	d.Ext = "mp4"
	require.NoError(t, downloads.UpsertDownload(ctx, d))

	row, err := downloads.GetDownload(ctx, "f1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "Updated title", row.Title)
	assert.Equal(t, "m4a", row.Ext)
	assert.EqualValues(t, 999, row.Filesize)
	assert.Equal(t, StatusDownloaded, row.Status)
}

func TestDownloadedAtAndCounterTriggers(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")

	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v1", time.Now().UTC())))

	row, err := downloads.GetDownload(ctx, "f1", "v1")
	require.NoError(t, err)
	assert.Nil(t, row.DownloadedAt)

	require.NoError(t, downloads.MarkAsDownloaded(ctx, "f1", "v1", "mp4", "video/mp4", 100, 60))
	row, err = downloads.GetDownload(ctx, "f1", "v1")
	require.NoError(t, err)
	require.NotNil(t, row.DownloadedAt)

	feed, err := feeds.GetFeed(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, feed.TotalDownloads)

	// Leaving DOWNLOADED decrements.
	require.NoError(t, downloads.ArchiveDownload(ctx, "f1", "v1"))
	feed, err = feeds.GetFeed(ctx, "f1")
	require.NoError(t, err)
	assert.Zero(t, feed.TotalDownloads)
}

func TestCounterTriggerOnDelete(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")

	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v1", time.Now().UTC())))
	require.NoError(t, downloads.MarkAsDownloaded(ctx, "f1", "v1", "mp4", "video/mp4", 100, 60))
	require.NoError(t, downloads.DeleteDownload(ctx, "f1", "v1"))

	feed, err := feeds.GetFeed(ctx, "f1")
	require.NoError(t, err)
	assert.Zero(t, feed.TotalDownloads, "deleting a DOWNLOADED row must compensate the counter")
}

func TestBumpRetriesTransitions(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")
	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v1", time.Now().UTC())))

	retries, status, transitioned, err := downloads.BumpRetries(ctx, "f1", "v1", "timeout", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, retries)
	assert.Equal(t, StatusQueued, status)
	assert.False(t, transitioned)

	_, _, _, err = downloads.BumpRetries(ctx, "f1", "v1", "timeout", 3)
	require.NoError(t, err)
	retries, status, transitioned, err = downloads.BumpRetries(ctx, "f1", "v1", "timeout", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, retries)
	assert.Equal(t, StatusError, status)
	assert.True(t, transitioned)

	// Repeating on an ERROR row is not a fresh transition.
	_, status, transitioned, err = downloads.BumpRetries(ctx, "f1", "v1", "timeout", 3)
	require.NoError(t, err)
	assert.Equal(t, StatusError, status)
	assert.False(t, transitioned)
}

func TestBumpRetriesKeepsDownloadedStatus(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")
	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v1", time.Now().UTC())))
	require.NoError(t, downloads.MarkAsDownloaded(ctx, "f1", "v1", "mp4", "video/mp4", 100, 60))

	_, status, transitioned, err := downloads.BumpRetries(ctx, "f1", "v1", "thumbnail refetch failed", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusDownloaded, status)
	assert.False(t, transitioned)
}

func TestRequeueBulkRequiresFromStatus(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")

	_, err := downloads.RequeueDownloads(ctx, "f1", nil, nil)
	assert.Error(t, err)
}

func TestRequeueBulkFromError(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")

	for _, id := range []string{"v1", "v2"} {
		require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", id, time.Now().UTC())))
		_, _, _, err := downloads.BumpRetries(ctx, "f1", id, "broken", 1)
		require.NoError(t, err)
	}
	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v3", time.Now().UTC())))

	from := StatusError
	n, err := downloads.RequeueDownloads(ctx, "f1", nil, &from)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	row, err := downloads.GetDownload(ctx, "f1", "v1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, row.Status)
	assert.Zero(t, row.Retries)
	assert.Empty(t, row.LastError)
}

func TestRequeueExplicitIDsMustExist(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")
	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v1", time.Now().UTC())))

	_, err := downloads.RequeueDownloads(ctx, "f1", []string{"v1", "ghost"}, nil)
	assert.ErrorIs(t, err, ErrDownloadNotFound)

	// The failed batch must not have touched v1... requeue of just v1 works.
	n, err := downloads.RequeueDownloads(ctx, "f1", []string{"v1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRequeueExplicitIDsWithFilter(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")
	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v1", time.Now().UTC())))
	require.NoError(t, downloads.ArchiveDownload(ctx, "f1", "v1"))
	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v2", time.Now().UTC())))

	from := StatusArchived
	n, err := downloads.RequeueDownloads(ctx, "f1", []string{"v1", "v2"}, &from)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the ARCHIVED row matches the filter")
}

func TestMarkAsQueuedFromUpcomingOnly(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")

	up := testDownload("f1", "v1", time.Now().UTC())
	up.Status = StatusUpcoming
	require.NoError(t, downloads.UpsertDownload(ctx, up))
	require.NoError(t, downloads.MarkAsQueuedFromUpcoming(ctx, "f1", "v1"))

	// Second transition attempt fails: the row is no longer UPCOMING.
	assert.Error(t, downloads.MarkAsQueuedFromUpcoming(ctx, "f1", "v1"))
	assert.ErrorIs(t, downloads.MarkAsQueuedFromUpcoming(ctx, "f1", "ghost"), ErrDownloadNotFound)
}

func TestArchiveClearsThumbnailAndIsIdempotent(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")
	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v1", time.Now().UTC())))
	require.NoError(t, downloads.SetThumbnailExt(ctx, "f1", "v1", "jpg"))

	require.NoError(t, downloads.ArchiveDownload(ctx, "f1", "v1"))
	require.NoError(t, downloads.ArchiveDownload(ctx, "f1", "v1"))

	row, err := downloads.GetDownload(ctx, "f1", "v1")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, row.Status)
	assert.Empty(t, row.ThumbnailExt)

	assert.ErrorIs(t, downloads.ArchiveDownload(ctx, "f1", "ghost"), ErrDownloadNotFound)
}

func TestSkipRejectsArchived(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")
	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v1", time.Now().UTC())))
	require.NoError(t, downloads.ArchiveDownload(ctx, "f1", "v1"))

	assert.Error(t, downloads.SkipDownload(ctx, "f1", "v1"))
}

func TestPrunableQueries(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"v1", "v2", "v3", "v4"} {
		require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", id, base.AddDate(0, 0, i))))
	}
	// SKIPPED rows are outside both window and candidates.
	require.NoError(t, downloads.SkipDownload(ctx, "f1", "v2"))

	prunable, err := downloads.GetPrunableByKeepLast(ctx, "f1", 2)
	require.NoError(t, err)
	require.Len(t, prunable, 1)
	assert.Equal(t, "v1", prunable[0].ID)

	cutoff := base.AddDate(0, 0, 2)
	prunable, err = downloads.GetPrunableBySince(ctx, "f1", cutoff)
	require.NoError(t, err)
	require.Len(t, prunable, 1)
	assert.Equal(t, "v1", prunable[0].ID)
}

func TestGetArchivedSince(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"v1", "v2", "v3"} {
		require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", id, base.AddDate(0, 0, i))))
		require.NoError(t, downloads.ArchiveDownload(ctx, "f1", id))
	}

	all, err := downloads.GetArchivedSince(ctx, "f1", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "v3", all[0].ID, "newest first")

	cutoff := base.AddDate(0, 0, 1)
	some, err := downloads.GetArchivedSince(ctx, "f1", &cutoff)
	require.NoError(t, err)
	assert.Len(t, some, 2)
}

func TestStatusCounts(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")
	seedFeed(t, feeds, "f2")

	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v1", time.Now().UTC())))
	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v2", time.Now().UTC())))
	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f2", "w1", time.Now().UTC())))
	require.NoError(t, downloads.MarkAsDownloaded(ctx, "f2", "w1", "mp4", "video/mp4", 1, 1))

	counts, err := downloads.StatusCounts(ctx)
	require.NoError(t, err)

	got := make(map[string]int)
	for _, c := range counts {
		got[c.FeedID+"/"+c.Status.String()] = c.Count
	}
	assert.Equal(t, 2, got["f1/QUEUED"])
	assert.Equal(t, 1, got["f2/DOWNLOADED"])
}

func TestDownloadCascadeOnFeedDelete(t *testing.T) {
	feeds, downloads := openTestDB(t)
	ctx := context.Background()
	seedFeed(t, feeds, "f1")
	require.NoError(t, downloads.UpsertDownload(ctx, testDownload("f1", "v1", time.Now().UTC())))

	require.NoError(t, feeds.DeleteFeed(ctx, "f1"))
	_, err := downloads.GetDownload(ctx, "f1", "v1")
	assert.ErrorIs(t, err, ErrDownloadNotFound)
}
