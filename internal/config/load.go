// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/rss"
)

var feedIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// cronParser accepts standard 5-field expressions, optional seconds field,
// and @-descriptors like @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr is an acceptable cron expression.
func ValidateSchedule(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// ParseSchedule parses expr into a cron schedule for next-fire computation.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// rawFeed mirrors one feeds.yaml entry before validation. Pointers
// distinguish "absent" from zero values where the distinction matters.
type rawFeed struct {
	URL             string   `yaml:"url"`
	Enabled         *bool    `yaml:"enabled"`
	IsManual        bool     `yaml:"is_manual"`
	Schedule        string   `yaml:"schedule"`
	YtArgs          string   `yaml:"yt_args"`
	KeepLast        *int     `yaml:"keep_last"`
	Since           string   `yaml:"since"`
	MaxErrors       *int     `yaml:"max_errors"`
	TranscriptLang  string   `yaml:"transcript_lang"`
	TranscriptOrder []string `yaml:"transcript_source_priority"`
	Metadata        *rawMeta `yaml:"metadata"`
}

type rawMeta struct {
	Title       string `yaml:"title"`
	Subtitle    string `yaml:"subtitle"`
	Description string `yaml:"description"`
	Language    string `yaml:"language"`
	Author      string `yaml:"author"`
	AuthorEmail string `yaml:"author_email"`
	ImageURL    string `yaml:"image_url"`
	// Category accepts a string or a list (see rss.ParseCategories).
	Category    any    `yaml:"category"`
	PodcastType string `yaml:"podcast_type"`
	Explicit    string `yaml:"explicit"`
}

type rawConfig struct {
	Feeds map[string]rawFeed `yaml:"feeds"`
}

// Load reads and validates the feeds.yaml document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return Parse(path, data)
}

// Parse validates a feeds.yaml document already in memory. path is used
// only for error reporting.
func Parse(path string, data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw rawConfig
	if err := dec.Decode(&raw); err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("parse yaml: %w", err)}
	}

	cfg := &Config{Feeds: make(map[string]*Feed, len(raw.Feeds))}
	for id, rf := range raw.Feeds {
		feed, err := validateFeed(id, rf)
		if err != nil {
			return nil, &LoadError{Path: path, FeedID: id, Err: err}
		}
		cfg.Feeds[id] = feed
	}
	return cfg, nil
}

func validateFeed(id string, rf rawFeed) (*Feed, error) {
	if !feedIDPattern.MatchString(id) {
		return nil, fmt.Errorf("invalid feed id: must match %s", feedIDPattern.String())
	}
	if rf.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	feed := &Feed{
		ID:        id,
		URL:       rf.URL,
		Enabled:   true,
		IsManual:  rf.IsManual,
		Schedule:  rf.Schedule,
		MaxErrors: DefaultMaxErrors,
	}
	if rf.Enabled != nil {
		feed.Enabled = *rf.Enabled
	}

	if rf.IsManual {
		if rf.Schedule != "" {
			return nil, fmt.Errorf("schedule must be empty for manual feeds")
		}
	} else {
		if rf.Schedule == "" {
			return nil, fmt.Errorf("schedule is required")
		}
		if err := ValidateSchedule(rf.Schedule); err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", rf.Schedule, err)
		}
	}

	if rf.YtArgs != "" {
		args, err := SplitArgs(rf.YtArgs)
		if err != nil {
			return nil, fmt.Errorf("invalid yt_args: %w", err)
		}
		feed.YtArgs = args
	}

	if rf.KeepLast != nil {
		if *rf.KeepLast < 1 {
			return nil, fmt.Errorf("keep_last must be >= 1, got %d", *rf.KeepLast)
		}
		feed.KeepLast = rf.KeepLast
	}

	if rf.Since != "" {
		since, err := parseSince(rf.Since)
		if err != nil {
			return nil, fmt.Errorf("invalid since %q: %w", rf.Since, err)
		}
		feed.Since = &since
	}

	if rf.MaxErrors != nil {
		if *rf.MaxErrors < 1 {
			return nil, fmt.Errorf("max_errors must be >= 1, got %d", *rf.MaxErrors)
		}
		feed.MaxErrors = *rf.MaxErrors
	}

	if rf.TranscriptLang != "" {
		tag, err := language.Parse(rf.TranscriptLang)
		if err != nil {
			return nil, fmt.Errorf("invalid transcript_lang %q: %w", rf.TranscriptLang, err)
		}
		feed.TranscriptLang = tag.String()
	}
	for _, src := range rf.TranscriptOrder {
		switch db.TranscriptSource(src) {
		case db.TranscriptSourceCreator, db.TranscriptSourceAuto:
			feed.TranscriptSourcePriority = append(feed.TranscriptSourcePriority, src)
		default:
			return nil, fmt.Errorf("invalid transcript source %q (want creator or auto)", src)
		}
	}

	if rf.Metadata != nil {
		meta, err := validateMetadata(rf.Metadata)
		if err != nil {
			return nil, err
		}
		feed.Metadata = meta
	}

	return feed, nil
}

func validateMetadata(rm *rawMeta) (Metadata, error) {
	meta := Metadata{
		Title:       rm.Title,
		Subtitle:    rm.Subtitle,
		Description: rm.Description,
		Language:    rm.Language,
		Author:      rm.Author,
		AuthorEmail: rm.AuthorEmail,
		ImageURL:    rm.ImageURL,
	}

	if rm.AuthorEmail != "" {
		if _, err := mail.ParseAddress(rm.AuthorEmail); err != nil {
			return meta, fmt.Errorf("invalid author_email %q: %w", rm.AuthorEmail, err)
		}
	}

	if rm.ImageURL != "" {
		u, err := url.Parse(rm.ImageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return meta, fmt.Errorf("invalid image_url %q: must be an absolute http(s) URL", rm.ImageURL)
		}
	}

	if rm.Category != nil {
		cats, err := rss.ParseCategories(rm.Category)
		if err != nil {
			return meta, fmt.Errorf("invalid category: %w", err)
		}
		meta.Categories = cats
	}

	switch pt := strings.ToLower(strings.TrimSpace(rm.PodcastType)); pt {
	case "", string(db.PodcastTypeEpisodic), string(db.PodcastTypeSerial):
		meta.PodcastType = pt
	default:
		return meta, fmt.Errorf("invalid podcast_type %q (want episodic or serial)", rm.PodcastType)
	}

	explicit, err := normalizeExplicit(rm.Explicit)
	if err != nil {
		return meta, err
	}
	meta.Explicit = explicit

	return meta, nil
}

// normalizeExplicit maps the accepted YAML spellings onto the canonical
// "true" / "false" / "clean" values.
func normalizeExplicit(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return "", nil
	case "true", "yes":
		return "true", nil
	case "false", "no":
		return "false", nil
	case "clean":
		return "clean", nil
	default:
		return "", fmt.Errorf("invalid explicit value %q (want true, false, yes, no, or clean)", v)
	}
}

// parseSince accepts a date or an RFC 3339 timestamp. Bare dates are
// interpreted as midnight UTC.
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
