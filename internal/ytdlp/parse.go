// SPDX-License-Identifier: MIT

package ytdlp

import (
	"fmt"
	"time"
)

// ItemStatus is the lifecycle status a fetched item parses into.
type ItemStatus string

const (
	// ItemQueued marks a VOD ready for download.
	ItemQueued ItemStatus = "QUEUED"
	// ItemUpcoming marks a live or scheduled item not yet downloadable.
	ItemUpcoming ItemStatus = "UPCOMING"
)

// Sentinel media descriptors for upcoming items, replaced once the item
// becomes a VOD and downloads.
const (
	SentinelExt      = "live"
	SentinelMimeType = "application/octet-stream"
	SentinelFilesize = int64(1)
	SentinelDuration = int64(1)
)

// ProbeHint carries the remote URLs to try with ffprobe when the source
// omits duration metadata, in mandatory order, plus the referer the CDN
// expects.
type ProbeHint struct {
	Candidates []string
	Referer    string
}

// Item is one fetched media item in daemon terms.
type Item struct {
	ID           string
	SourceURL    string
	Title        string
	Description  string
	Published    time.Time // UTC
	Ext          string
	MimeType     string
	Filesize     int64
	Duration     int64
	Status       ItemStatus
	ThumbnailURL string
	QualityInfo  string

	// PlaylistIndex is the 1-based position inside a multi-attachment
	// post; zero for single-artifact items.
	PlaylistIndex int

	// DurationProbe is set when Duration is zero and the handler knows
	// how to probe it remotely.
	DurationProbe *ProbeHint
}

// mimeByExt maps media extensions to enclosure MIME types. Unknown
// extensions fall back to video/<ext>, which keeps enclosures typed even
// for exotic containers.
var mimeByExt = map[string]string{
	"m4a":  "audio/mp4",
	"mp3":  "audio/mpeg",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
	"wav":  "audio/wav",
	"mp4":  "video/mp4",
	"m4v":  "video/mp4",
	"mkv":  "video/x-matroska",
	"webm": "video/webm",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
}

// MimeForExt returns the enclosure MIME type for a media extension.
func MimeForExt(ext string) string {
	if m, ok := mimeByExt[ext]; ok {
		return m
	}
	return "video/" + ext
}

// parseItem converts a yt-dlp entry into an Item. handler-specific
// adjustments (Patreon probe hints) are applied by the caller.
func parseItem(e *entry) (*Item, error) {
	if e.ID == "" {
		return nil, &FieldError{Field: "id"}
	}

	published, err := parsePublished(e)
	if err != nil {
		return nil, err
	}

	item := &Item{
		ID:            e.ID,
		SourceURL:     e.sourceURL(),
		Title:         e.Title,
		Description:   e.Description,
		Published:     published,
		ThumbnailURL:  e.bestThumbnail(),
		PlaylistIndex: int(e.PlaylistIdx),
	}
	if item.SourceURL == "" {
		return nil, &FieldError{ID: e.ID, Field: "webpage_url"}
	}
	if item.Title == "" {
		item.Title = e.ID
	}

	if isUpcoming(e) {
		item.Status = ItemUpcoming
		item.Ext = SentinelExt
		item.MimeType = SentinelMimeType
		item.Filesize = SentinelFilesize
		item.Duration = SentinelDuration
		return item, nil
	}

	item.Status = ItemQueued
	item.Ext = mediaExt(e)
	item.MimeType = MimeForExt(item.Ext)
	item.Filesize = mediaFilesize(e)
	item.Duration = int64(e.Duration)
	item.QualityInfo = qualityInfo(e)
	return item, nil
}

// isUpcoming classifies live, scheduled, and not-yet-public items.
func isUpcoming(e *entry) bool {
	switch e.LiveStatus {
	case "is_live", "is_upcoming", "post_live":
		return true
	}
	return e.Availability == "premium_only"
}

// parsePublished resolves the publish timestamp: upload_date (YYYYMMDD),
// then timestamp, then release_timestamp. Items without any are rejected.
func parsePublished(e *entry) (time.Time, error) {
	if e.UploadDate != "" {
		t, err := time.ParseInLocation("20060102", e.UploadDate, time.UTC)
		if err != nil {
			return time.Time{}, &FieldError{ID: e.ID, Field: "upload_date", Err: err}
		}
		// Prefer the precise timestamp when it agrees on the day.
		if ts := pickTimestamp(e); ts != nil && ts.Format("20060102") == e.UploadDate {
			return *ts, nil
		}
		return t, nil
	}
	if ts := pickTimestamp(e); ts != nil {
		return *ts, nil
	}
	return time.Time{}, &FieldError{ID: e.ID, Field: "upload_date",
		Err: fmt.Errorf("no upload_date or timestamp")}
}

func pickTimestamp(e *entry) *time.Time {
	for _, ts := range []int64{int64(e.Timestamp), int64(e.ReleaseTS)} {
		if ts > 0 {
			t := time.Unix(ts, 0).UTC()
			return &t
		}
	}
	return nil
}

func mediaExt(e *entry) string {
	if len(e.RequestedDownloads) > 0 && e.RequestedDownloads[0].Ext != "" {
		return e.RequestedDownloads[0].Ext
	}
	if e.Ext != "" && e.Ext != "none" {
		return e.Ext
	}
	return "mp4"
}

func mediaFilesize(e *entry) int64 {
	if len(e.RequestedDownloads) > 0 && e.RequestedDownloads[0].Filesize > 0 {
		return int64(e.RequestedDownloads[0].Filesize)
	}
	if e.Filesize > 0 {
		return int64(e.Filesize)
	}
	if e.FilesizeApx > 0 {
		return int64(e.FilesizeApx)
	}
	// Real size lands after download; RSS needs a positive length.
	return 1
}

func qualityInfo(e *entry) string {
	if e.Resolution != "" {
		return e.Resolution
	}
	return e.FormatNote
}
