// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateHostsFeedImageOnce(t *testing.T) {
	h := newHarness(t)
	feed := h.insertFeed(t, "f1")
	feed.RemoteImageURL = "https://example.com/cover.png"
	seedDownloaded(t, h, "f1", "v1")

	images := &fakeImages{}
	g := NewRSSGenerator(h.feeds, h.downloads, h.store, h.paths, nil, images)

	_, err := g.Generate(context.Background(), feed)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/cover.png"}, images.calls)
	assert.Equal(t, "jpg", feed.ImageExt)

	stored, err := h.feeds.GetFeed(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "jpg", stored.ImageExt)

	body, err := os.ReadFile(mustXMLPath(t, h, "f1"))
	require.NoError(t, err)
	assert.Contains(t, string(body), h.paths.FeedImageURL("f1", "jpg"))
	assert.NotContains(t, string(body), "https://example.com/cover.png")

	// A later run sees the recorded extension and does not re-fetch.
	_, err = g.Generate(context.Background(), stored)
	require.NoError(t, err)
	assert.Len(t, images.calls, 1)
}

func TestGenerateFeedImageFailureKeepsRemote(t *testing.T) {
	h := newHarness(t)
	feed := h.insertFeed(t, "f1")
	feed.RemoteImageURL = "https://example.com/cover.png"
	seedDownloaded(t, h, "f1", "v1")

	images := &fakeImages{err: errors.New("upstream 404")}
	g := NewRSSGenerator(h.feeds, h.downloads, h.store, h.paths, nil, images)

	_, err := g.Generate(context.Background(), feed)
	require.NoError(t, err, "image hosting is best effort")
	assert.Empty(t, feed.ImageExt)

	stored, err := h.feeds.GetFeed(context.Background(), "f1")
	require.NoError(t, err)
	assert.Empty(t, stored.ImageExt)

	body, err := os.ReadFile(mustXMLPath(t, h, "f1"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "https://example.com/cover.png")
}
