// SPDX-License-Identifier: MIT

package pipeline

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/fsstore"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/paths"
	"github.com/thurstonsan/anypod/internal/rss"
)

// RSSGenerator renders a feed's DOWNLOADED items into its RSS document
// on disk.
type RSSGenerator struct {
	feeds     *db.FeedStore
	downloads *db.DownloadStore
	store     *fsstore.Store
	paths     *paths.Manager
	cache     FeedCacheInvalidator
	images    ImageFetcher
	logger    zerolog.Logger
}

// NewRSSGenerator wires the RSS phase. cache and images may be nil;
// without images the channel falls back to the remote image URL.
func NewRSSGenerator(feeds *db.FeedStore, downloads *db.DownloadStore, store *fsstore.Store, pm *paths.Manager, cache FeedCacheInvalidator, images ImageFetcher) *RSSGenerator {
	return &RSSGenerator{
		feeds:     feeds,
		downloads: downloads,
		store:     store,
		paths:     pm,
		cache:     cache,
		images:    images,
		logger:    log.WithComponent("rssgen"),
	}
}

// Generate writes the feed XML atomically and invalidates the serving
// cache. Returns the number of items emitted.
func (g *RSSGenerator) Generate(ctx context.Context, feed *db.Feed) (int, error) {
	logger := log.WithContext(ctx, g.logger).With().Str("feed_id", feed.ID).Logger()

	g.maybeHostFeedImage(ctx, feed, logger)

	rows, err := g.downloads.GetDownloadsByStatus(ctx, feed.ID, db.StatusDownloaded, true, 0)
	if err != nil {
		return 0, err
	}

	builder := rss.NewBuilder(g.channelData(feed), func(itemURL, imageURL string) {
		logger.Warn().
			Str("event", "rss.bad_item_image").
			Str("item_url", itemURL).
			Str("image_url", imageURL).
			Msg("item image skipped")
	})

	for _, row := range rows {
		builder.AddItem(g.itemData(feed.ID, row))
	}

	var buf bytes.Buffer
	if err := builder.Encode(&buf); err != nil {
		return 0, err
	}

	xmlPath, err := g.paths.FeedXMLPath(feed.ID)
	if err != nil {
		return 0, err
	}
	if _, err := g.store.Write(ctx, xmlPath, &buf); err != nil {
		return 0, err
	}
	if err := g.feeds.MarkRSSGenerated(ctx, feed.ID, time.Now().UTC()); err != nil {
		return 0, err
	}
	if g.cache != nil {
		g.cache.Invalidate(ctx, feed.ID)
	}

	logger.Info().
		Str("event", "rss.generated").
		Int("items", builder.ItemCount()).
		Msg("feed document written")
	return builder.ItemCount(), nil
}

// maybeHostFeedImage downloads the remote channel image once and
// records its extension, so itunes:image can point at the hosted copy.
// Failures are logged and the channel keeps the remote URL.
func (g *RSSGenerator) maybeHostFeedImage(ctx context.Context, feed *db.Feed, logger zerolog.Logger) {
	if g.images == nil || feed.RemoteImageURL == "" || feed.ImageExt != "" {
		return
	}

	dest, err := g.paths.FeedImagePath(feed.ID, "jpg")
	if err != nil {
		return
	}
	ext, err := g.images.Fetch(ctx, feed.RemoteImageURL, strings.TrimSuffix(dest, ".jpg"))
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "rss.feed_image_failed").
			Str("image_url", feed.RemoteImageURL).
			Msg("feed image not hosted, keeping remote URL")
		return
	}
	if err := g.feeds.SetImageExt(ctx, feed.ID, ext); err != nil {
		logger.Warn().Err(err).Msg("feed image extension not recorded")
		return
	}
	feed.ImageExt = ext
	logger.Info().
		Str("event", "rss.feed_image_hosted").
		Str("ext", ext).
		Msg("feed image cached locally")
}

// Exists reports whether the feed's XML document is on disk; used by
// the coordinator's RSS-phase condition.
func (g *RSSGenerator) Exists(ctx context.Context, feedID string) (bool, error) {
	xmlPath, err := g.paths.FeedXMLPath(feedID)
	if err != nil {
		return false, err
	}
	return g.store.Exists(ctx, xmlPath)
}

func (g *RSSGenerator) channelData(feed *db.Feed) rss.ChannelData {
	title := feed.Title
	if title == "" {
		title = feed.ID
	}

	imageURL := feed.RemoteImageURL
	if feed.ImageExt != "" {
		imageURL = g.paths.FeedImageURL(feed.ID, feed.ImageExt)
	}

	var categories []rss.Category
	if feed.Category != "" {
		if parsed, err := rss.ParseCategoryString(feed.Category); err == nil {
			categories = parsed
		} else {
			g.logger.Warn().
				Str("feed_id", feed.ID).
				Str("categories", feed.Category).
				Err(err).
				Msg("stored categories unparsable, omitting")
		}
	}

	return rss.ChannelData{
		Title:       title,
		FeedURL:     g.paths.FeedURL(feed.ID),
		SourceURL:   feed.SourceURL,
		Description: feed.Description,
		Subtitle:    feed.Subtitle,
		Language:    feed.Language,
		Categories:  categories,
		PodcastType: string(feed.PodcastType),
		Explicit:    string(feed.Explicit),
		ImageURL:    imageURL,
		Author:      feed.Author,
		AuthorEmail: feed.AuthorEmail,
		BuildTime:   time.Now().UTC(),
	}
}

func (g *RSSGenerator) itemData(feedID string, row *db.Download) rss.ItemData {
	imageURL := ""
	if row.ThumbnailExt != "" {
		imageURL = g.paths.DownloadImageURL(feedID, row.ID, row.ThumbnailExt)
	}
	return rss.ItemData{
		SourceURL:    row.SourceURL,
		Title:        row.Title,
		Description:  row.Description,
		ImageURL:     imageURL,
		EnclosureURL: g.paths.MediaFileURL(feedID, row.ID, row.Ext),
		Filesize:     row.Filesize,
		MimeType:     row.MimeType,
		Published:    row.Published,
		Duration:     row.Duration,
	}
}
