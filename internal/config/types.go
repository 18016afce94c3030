// SPDX-License-Identifier: MIT

// Package config loads and validates the declarative feed configuration
// (feeds.yaml) and the process-level settings from the environment.
package config

import (
	"sort"
	"time"

	"github.com/thurstonsan/anypod/internal/rss"
)

// DefaultMaxErrors is the per-feed retry budget when unset.
const DefaultMaxErrors = 3

// Metadata holds the podcast presentation fields of a feed.
type Metadata struct {
	Title       string
	Subtitle    string
	Description string
	Language    string
	Author      string
	AuthorEmail string
	ImageURL    string
	Categories  []rss.Category
	PodcastType string // "episodic", "serial", or ""
	Explicit    string // "true", "false", "clean", or ""
}

// Feed is one validated feed definition.
type Feed struct {
	ID        string
	URL       string
	Enabled   bool
	IsManual  bool
	Schedule  string // cron expression; empty for manual feeds
	YtArgs    []string
	KeepLast  *int
	Since     *time.Time
	MaxErrors int

	TranscriptLang           string
	TranscriptSourcePriority []string

	Metadata Metadata
}

// Config is the validated feeds.yaml document.
type Config struct {
	// Feeds keyed by feed id, also stored on each Feed.
	Feeds map[string]*Feed
}

// FeedIDs returns the feed ids in deterministic order.
func (c *Config) FeedIDs() []string {
	ids := make([]string, 0, len(c.Feeds))
	for id := range c.Feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
