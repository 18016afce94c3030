// SPDX-License-Identifier: MIT

package rss

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T) string {
	t.Helper()
	b := NewBuilder(ChannelData{
		Title:       "My Show",
		FeedURL:     "http://localhost:8024/feeds/f1.xml",
		SourceURL:   "https://www.youtube.com/@creator/videos",
		Description: "A show about things",
		Language:    "",
		Categories:  []Category{{Main: "Technology"}, {Main: "News", Sub: "Tech News"}},
		PodcastType: "episodic",
		Explicit:    "false",
		ImageURL:    "http://localhost:8024/images/f1.jpg",
		Author:      "Creator",
		AuthorEmail: "creator@example.com",
		BuildTime:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}, nil)

	b.AddItem(ItemData{
		SourceURL:    "https://youtu.be/v2",
		Title:        "Episode Two",
		Description:  "Second episode",
		EnclosureURL: "http://localhost:8024/media/f1/v2.m4a",
		Filesize:     2048,
		MimeType:     "audio/mp4",
		Published:    time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
		Duration:     3723,
	})
	b.AddItem(ItemData{
		SourceURL:    "https://youtu.be/v1",
		Title:        "Episode One",
		EnclosureURL: "http://localhost:8024/media/f1/v1.m4a",
		Filesize:     1024,
		MimeType:     "audio/mp4",
		Published:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Duration:     60,
	})

	var buf bytes.Buffer
	require.NoError(t, b.Encode(&buf))
	return buf.String()
}

func TestDocumentShape(t *testing.T) {
	out := buildSample(t)

	assert.True(t, strings.HasPrefix(out, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>"))
	assert.Contains(t, out, `xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd"`)
	assert.Contains(t, out, "<title>My Show</title>")
	assert.Contains(t, out, `<atom:link href="http://localhost:8024/feeds/f1.xml" rel="self"`)
	assert.Contains(t, out, "<link>https://www.youtube.com/@creator/videos</link>")
	assert.Contains(t, out, "<language>en</language>")
	assert.Contains(t, out, "<generator>"+Generator+"</generator>")
	assert.Contains(t, out, "<ttl>60</ttl>")
	assert.Contains(t, out, `<itunes:category text="News">`)
	assert.Contains(t, out, `<itunes:category text="Tech News">`)
	assert.Contains(t, out, "<itunes:type>episodic</itunes:type>")
	assert.Contains(t, out, "<itunes:owner>")
	assert.Contains(t, out, "<itunes:email>creator@example.com</itunes:email>")
}

func TestItemShape(t *testing.T) {
	out := buildSample(t)

	assert.Contains(t, out, `<guid isPermaLink="true">https://youtu.be/v2</guid>`)
	assert.Contains(t, out, `<enclosure url="http://localhost:8024/media/f1/v2.m4a" length="2048" type="audio/mp4">`)
	assert.Contains(t, out, "<itunes:duration>01:02:03</itunes:duration>")
	assert.Contains(t, out, "<itunes:episodeType>full</itunes:episodeType>")
	// Description falls back to the title when empty.
	assert.Contains(t, out, "<description>Episode One</description>")
	// Items stay in insertion order (newest first).
	assert.Less(t, strings.Index(out, "Episode Two"), strings.Index(out, "Episode One"))
}

func TestInvalidItemImageSkippedWithWarning(t *testing.T) {
	var warned []string
	b := NewBuilder(ChannelData{
		Title: "X", FeedURL: "http://h/feeds/x.xml", SourceURL: "http://src",
		Description: "d", BuildTime: time.Now(),
	}, func(itemURL, imageURL string) {
		warned = append(warned, imageURL)
	})
	b.AddItem(ItemData{
		SourceURL: "http://src/1", Title: "t", EnclosureURL: "http://h/media/x/1.mp4",
		Filesize: 1, MimeType: "video/mp4", Published: time.Now(),
		ImageURL: "::not a url::",
	})

	var buf bytes.Buffer
	require.NoError(t, b.Encode(&buf))
	assert.NotContains(t, buf.String(), "not a url")
	assert.Equal(t, []string{"::not a url::"}, warned)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatDuration(0))
	assert.Equal(t, "00:01:00", FormatDuration(60))
	assert.Equal(t, "01:02:03", FormatDuration(3723))
	assert.Equal(t, "27:46:40", FormatDuration(100000))
}
