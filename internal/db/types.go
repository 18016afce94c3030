// SPDX-License-Identifier: MIT

// Package db provides SQLite persistence for feeds, downloads, and
// application state. All mutations go through narrow store methods;
// no caller issues raw SQL.
package db

import (
	"time"
)

// Status represents the lifecycle state of a download.
type Status string

const (
	StatusUpcoming   Status = "UPCOMING"   // Live/scheduled item, not yet available
	StatusQueued     Status = "QUEUED"     // Ready for the downloader
	StatusDownloaded Status = "DOWNLOADED" // Media present on disk
	StatusError      Status = "ERROR"      // Retry budget exhausted
	StatusSkipped    Status = "SKIPPED"    // Operator excluded the item
	StatusArchived   Status = "ARCHIVED"   // Outside retention window, files removed
)

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusQueued, StatusDownloaded, StatusError, StatusSkipped, StatusArchived:
		return true
	}
	return false
}

// SourceType classifies what a feed URL resolved to.
type SourceType string

const (
	SourceTypeChannel     SourceType = "channel"
	SourceTypePlaylist    SourceType = "playlist"
	SourceTypeSingleVideo SourceType = "single_video"
	SourceTypeUnknown     SourceType = "unknown"
)

// String returns the string representation of SourceType.
func (s SourceType) String() string {
	return string(s)
}

// PodcastType is the iTunes channel type.
type PodcastType string

const (
	PodcastTypeEpisodic PodcastType = "episodic"
	PodcastTypeSerial   PodcastType = "serial"
)

// PodcastExplicit is the normalized itunes:explicit value.
type PodcastExplicit string

const (
	ExplicitTrue  PodcastExplicit = "true"
	ExplicitFalse PodcastExplicit = "false"
	ExplicitClean PodcastExplicit = "clean"
)

// TranscriptSource identifies where a transcript came from.
type TranscriptSource string

const (
	TranscriptSourceCreator TranscriptSource = "creator"
	TranscriptSourceAuto    TranscriptSource = "auto"
)

// Sentinel media descriptors for UPCOMING rows. Real values replace them
// once the item becomes a VOD and is downloaded.
const (
	UpcomingExt      = "live"
	UpcomingMimeType = "application/octet-stream"
	UpcomingFilesize = int64(1)
	UpcomingDuration = int64(1)
)

// EpochMin is the initial sync watermark for feeds without a since policy.
var EpochMin = time.Unix(0, 0).UTC()

// Feed is a subscribable source owning downloads, images, media files,
// and one generated RSS document.
type Feed struct {
	ID                  string
	IsEnabled           bool
	SourceType          SourceType
	SourceURL           string
	ResolvedURL         string
	LastSuccessfulSync  time.Time
	LastFailedSync      *time.Time
	ConsecutiveFailures int
	LastError           string
	LastRSSGeneration   *time.Time
	Since               *time.Time
	KeepLast            *int
	// TotalDownloads is trigger-maintained; never written by application code.
	TotalDownloads int

	// Podcast metadata
	Title          string
	Subtitle       string
	Description    string
	Language       string
	Author         string
	AuthorEmail    string
	RemoteImageURL string
	ImageExt       string
	Category       string // canonical "Main > Sub, Main" form
	PodcastType    PodcastType
	Explicit       PodcastExplicit
}

// Download is one media item belonging to exactly one feed.
// Composite key (FeedID, ID); ID is the source-assigned identifier.
type Download struct {
	FeedID    string
	ID        string
	SourceURL string
	Title     string
	Published time.Time // UTC, required

	Ext      string
	MimeType string
	Filesize int64
	Duration int64 // seconds

	Status Status

	DiscoveredAt time.Time
	UpdatedAt    time.Time
	DownloadedAt *time.Time

	RemoteThumbnailURL string
	ThumbnailExt       string

	Description string
	QualityInfo string

	Retries      int
	LastError    string
	DownloadLogs string

	// PlaylistIndex is the 1-based position inside a multi-attachment
	// post (Patreon). Zero means single-artifact.
	PlaylistIndex int

	TranscriptExt    string
	TranscriptLang   string
	TranscriptSource TranscriptSource
}

// IsUpcomingSentinel reports whether the media descriptors still hold
// the placeholder values of an UPCOMING insert.
func (d *Download) IsUpcomingSentinel() bool {
	return d.Ext == UpcomingExt && d.Filesize == UpcomingFilesize
}
