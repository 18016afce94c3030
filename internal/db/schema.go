// SPDX-License-Identifier: MIT

package db

// Schema notes:
//   - Timestamps are RFC3339 TEXT in UTC (sorts chronologically).
//   - total_downloads and the downloads timestamps are trigger-maintained;
//     application code never writes them.
//   - updated_at refreshes on business-column updates only, so the trigger
//     body touching updated_at cannot re-fire it.

const schemaFeeds = `
CREATE TABLE IF NOT EXISTS feeds (
	id TEXT PRIMARY KEY CHECK(length(id) BETWEEN 1 AND 255),
	is_enabled INTEGER NOT NULL DEFAULT 1,
	source_type TEXT NOT NULL DEFAULT 'unknown' CHECK(source_type IN ('channel','playlist','single_video','unknown')),
	source_url TEXT NOT NULL,
	resolved_url TEXT,
	last_successful_sync TEXT NOT NULL,
	last_failed_sync TEXT,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	last_rss_generation TEXT,
	since TEXT,
	keep_last INTEGER CHECK(keep_last IS NULL OR keep_last >= 1),
	total_downloads INTEGER NOT NULL DEFAULT 0,
	title TEXT,
	subtitle TEXT,
	description TEXT,
	language TEXT,
	author TEXT,
	author_email TEXT,
	remote_image_url TEXT,
	image_ext TEXT,
	category TEXT,
	podcast_type TEXT CHECK(podcast_type IS NULL OR podcast_type IN ('episodic','serial')),
	explicit TEXT CHECK(explicit IS NULL OR explicit IN ('true','false','clean'))
);`

const schemaDownloads = `
CREATE TABLE IF NOT EXISTS downloads (
	feed_id TEXT NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	source_url TEXT NOT NULL,
	title TEXT NOT NULL,
	published TEXT NOT NULL,
	ext TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	filesize INTEGER NOT NULL,
	duration INTEGER NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('UPCOMING','QUEUED','DOWNLOADED','ERROR','SKIPPED','ARCHIVED')),
	discovered_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
	downloaded_at TEXT,
	remote_thumbnail_url TEXT,
	thumbnail_ext TEXT,
	description TEXT,
	quality_info TEXT,
	retries INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	download_logs TEXT,
	playlist_index INTEGER,
	transcript_ext TEXT,
	transcript_lang TEXT,
	transcript_source TEXT CHECK(transcript_source IS NULL OR transcript_source IN ('creator','auto')),
	PRIMARY KEY (feed_id, id)
);`

const schemaAppState = `
CREATE TABLE IF NOT EXISTS app_state (
	id TEXT PRIMARY KEY CHECK(id = 'global'),
	last_yt_dlp_update TEXT
);`

const schemaIndexes = `
CREATE INDEX IF NOT EXISTS idx_downloads_feed_status ON downloads(feed_id, status);
CREATE INDEX IF NOT EXISTS idx_downloads_feed_published ON downloads(feed_id, published);`

const schemaTriggers = `
CREATE TRIGGER IF NOT EXISTS downloads_touch_updated_at
AFTER UPDATE OF source_url, title, published, ext, mime_type, filesize, duration,
	status, remote_thumbnail_url, thumbnail_ext, description, quality_info,
	retries, last_error, download_logs, playlist_index,
	transcript_ext, transcript_lang, transcript_source
ON downloads
BEGIN
	UPDATE downloads SET updated_at = strftime('%Y-%m-%dT%H:%M:%SZ','now')
	WHERE feed_id = NEW.feed_id AND id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS downloads_set_downloaded_at_insert
AFTER INSERT ON downloads
WHEN NEW.status = 'DOWNLOADED' AND NEW.downloaded_at IS NULL
BEGIN
	UPDATE downloads SET downloaded_at = strftime('%Y-%m-%dT%H:%M:%SZ','now')
	WHERE feed_id = NEW.feed_id AND id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS downloads_set_downloaded_at_update
AFTER UPDATE OF status ON downloads
WHEN NEW.status = 'DOWNLOADED' AND OLD.status != 'DOWNLOADED' AND NEW.downloaded_at IS NULL
BEGIN
	UPDATE downloads SET downloaded_at = strftime('%Y-%m-%dT%H:%M:%SZ','now')
	WHERE feed_id = NEW.feed_id AND id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS feeds_count_insert
AFTER INSERT ON downloads
WHEN NEW.status = 'DOWNLOADED'
BEGIN
	UPDATE feeds SET total_downloads = total_downloads + 1 WHERE id = NEW.feed_id;
END;

CREATE TRIGGER IF NOT EXISTS feeds_count_delete
AFTER DELETE ON downloads
WHEN OLD.status = 'DOWNLOADED'
BEGIN
	UPDATE feeds SET total_downloads = total_downloads - 1 WHERE id = OLD.feed_id;
END;

CREATE TRIGGER IF NOT EXISTS feeds_count_enter
AFTER UPDATE OF status ON downloads
WHEN NEW.status = 'DOWNLOADED' AND OLD.status != 'DOWNLOADED'
BEGIN
	UPDATE feeds SET total_downloads = total_downloads + 1 WHERE id = NEW.feed_id;
END;

CREATE TRIGGER IF NOT EXISTS feeds_count_exit
AFTER UPDATE OF status ON downloads
WHEN OLD.status = 'DOWNLOADED' AND NEW.status != 'DOWNLOADED'
BEGIN
	UPDATE feeds SET total_downloads = total_downloads - 1 WHERE id = OLD.feed_id;
END;`
