// SPDX-License-Identifier: MIT

package ytdlp

import (
	"encoding/json"
	"fmt"
)

// flexInt accepts integers and floats; yt-dlp emits duration as either
// depending on the extractor.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*f = 0
			return nil
		}
		_, scanErr := fmt.Sscanf(s, "%f", &n)
		if scanErr != nil {
			*f = 0
			return nil
		}
	}
	*f = flexInt(n)
	return nil
}

type thumbnail struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type format struct {
	FormatID    string `json:"format_id"`
	URL         string `json:"url"`
	ManifestURL string `json:"manifest_url"`
	Ext         string `json:"ext"`
}

type requestedDownload struct {
	URL      string  `json:"url"`
	Ext      string  `json:"ext"`
	Filesize flexInt `json:"filesize"`
}

// entry mirrors the subset of the yt-dlp JSON document the daemon reads.
// Playlist documents nest further entry values under Entries.
type entry struct {
	Type         string  `json:"_type"`
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	WebpageURL   string  `json:"webpage_url"`
	OriginalURL  string  `json:"original_url"`
	URL          string  `json:"url"`
	Ext          string  `json:"ext"`
	Duration     flexInt `json:"duration"`
	Filesize     flexInt `json:"filesize"`
	FilesizeApx  flexInt `json:"filesize_approx"`
	UploadDate   string  `json:"upload_date"` // YYYYMMDD
	Timestamp    flexInt `json:"timestamp"`   // unix seconds
	ReleaseTS    flexInt `json:"release_timestamp"`
	LiveStatus   string  `json:"live_status"`
	Availability string  `json:"availability"`
	Resolution   string  `json:"resolution"`
	FormatNote   string  `json:"format_note"`
	PlaylistIdx  flexInt `json:"playlist_index"`

	Thumbnail  string      `json:"thumbnail"`
	Thumbnails []thumbnail `json:"thumbnails"`

	Formats            []format            `json:"formats"`
	RequestedDownloads []requestedDownload `json:"requested_downloads"`

	Entries []entry `json:"entries"`

	Extractor string `json:"extractor"`
	Channel   string `json:"channel"`
	Uploader  string `json:"uploader"`
}

// isPlaylist reports whether the document is a playlist container.
func (e *entry) isPlaylist() bool {
	return e.Type == "playlist" || e.Type == "multi_video" || len(e.Entries) > 0
}

// allEntriesPlaylists reports whether every child is itself a playlist.
// On a flat-playlist fetch of a YouTube channel page the tabs come back
// as nested playlists; that shape identifies a channel.
func (e *entry) allEntriesPlaylists() bool {
	if len(e.Entries) == 0 {
		return false
	}
	for _, child := range e.Entries {
		if child.Type != "playlist" {
			return false
		}
	}
	return true
}

// bestThumbnail picks the largest listed thumbnail, falling back to the
// top-level field.
func (e *entry) bestThumbnail() string {
	best := ""
	bestArea := -1
	for _, t := range e.Thumbnails {
		if t.URL == "" {
			continue
		}
		area := t.Width * t.Height
		if area > bestArea {
			bestArea = area
			best = t.URL
		}
	}
	if best != "" {
		return best
	}
	return e.Thumbnail
}

// sourceURL returns the canonical item URL.
func (e *entry) sourceURL() string {
	if e.WebpageURL != "" {
		return e.WebpageURL
	}
	if e.OriginalURL != "" {
		return e.OriginalURL
	}
	return e.URL
}
