// SPDX-License-Identifier: MIT

package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// UpdatePeriod is the minimum interval between fetcher self-updates.
const UpdatePeriod = 24 * time.Hour

// SourceType classifies what a feed URL resolved to, in fetcher terms.
type SourceType string

const (
	SourceChannel     SourceType = "channel"
	SourcePlaylist    SourceType = "playlist"
	SourceSingleVideo SourceType = "single_video"
)

// Discovery is the result of resolving a source URL.
type Discovery struct {
	SourceType  SourceType
	ResolvedURL string
}

// Options carries per-feed fetch options.
type Options struct {
	// YtArgs are extra yt-dlp arguments from the feed config, already
	// tokenized shell-style.
	YtArgs []string
	// CookiesPath is passed as --cookies when set.
	CookiesPath string
}

// UpdateState persists the self-update watermark.
type UpdateState interface {
	GetLastYtdlpUpdate(ctx context.Context) (*time.Time, error)
	SetLastYtdlpUpdate(ctx context.Context, at time.Time) error
}

// Client is the fetcher adapter over the yt-dlp binary.
type Client struct {
	runner *runner
}

// New locates yt-dlp on PATH and verifies it runs.
func New(ctx context.Context) (*Client, error) {
	bin, err := exec.LookPath("yt-dlp")
	if err != nil {
		return nil, fmt.Errorf("yt-dlp binary not found: %w", err)
	}
	c := NewWithBinary(bin)
	version, err := c.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp not runnable: %w", err)
	}
	c.runner.logger.Info().Str("ytdlp_version", version).Str("path", bin).Msg("fetcher ready")
	return c, nil
}

// NewWithBinary builds a Client over an explicit binary path (tests and
// custom installs).
func NewWithBinary(bin string) *Client {
	return &Client{runner: newRunner(bin)}
}

// Version returns the yt-dlp version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, _, err := c.runner.run(ctx, "", []string{"--version"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// MaybeSelfUpdate runs yt-dlp --update-to stable@latest at most once per
// UpdatePeriod, gated through the persisted watermark. Failures are
// logged by the caller; a skipped update returns (false, nil).
func (c *Client) MaybeSelfUpdate(ctx context.Context, state UpdateState, now time.Time) (bool, error) {
	last, err := state.GetLastYtdlpUpdate(ctx)
	if err != nil {
		return false, err
	}
	if last != nil && now.Sub(*last) < UpdatePeriod {
		return false, nil
	}
	out, _, err := c.runner.run(ctx, "", []string{"--update-to", "stable@latest"})
	if err != nil {
		return false, fmt.Errorf("self update: %w", err)
	}
	c.runner.logger.Info().Str("output", strings.TrimSpace(string(out))).Msg("yt-dlp self update")
	if err := state.SetLastYtdlpUpdate(ctx, now); err != nil {
		return true, err
	}
	return true, nil
}

// Discover resolves what a source URL points at. A flat-playlist fetch is
// cheap and returns enough shape to classify: a non-playlist document is
// a single video; a playlist whose entries are all playlists is a channel
// page (its tabs), which gets rewritten to the uploads tab.
func (c *Client) Discover(ctx context.Context, sourceURL string, opts Options) (*Discovery, error) {
	args := c.commonArgs(opts)
	args = append(args, "--flat-playlist", "-J", sourceURL)

	out, _, err := c.runner.run(ctx, sourceURL, args)
	if err != nil {
		return nil, err
	}

	var doc entry
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, &DataError{URL: sourceURL, Err: err}
	}

	resolved := doc.sourceURL()
	if resolved == "" {
		resolved = sourceURL
	}

	if !doc.isPlaylist() {
		return &Discovery{SourceType: SourceSingleVideo, ResolvedURL: resolved}, nil
	}
	if doc.allEntriesPlaylists() {
		if rewritten := handlerFor(resolved).rewriteChannelURL(resolved); rewritten != "" {
			resolved = rewritten
		}
		return &Discovery{SourceType: SourceChannel, ResolvedURL: resolved}, nil
	}
	return &Discovery{SourceType: SourcePlaylist, ResolvedURL: resolved}, nil
}

// Enumerate fetches full metadata for the items of a resolved source,
// filtered server-side by the day floor of since. limit > 0 caps the
// playlist walk for keep_last feeds.
func (c *Client) Enumerate(ctx context.Context, resolvedURL string, since time.Time, limit int, opts Options) ([]*Item, error) {
	args := c.commonArgs(opts)
	args = append(args, "-J")
	if !since.IsZero() && since.Unix() > 0 {
		args = append(args, "--dateafter", since.UTC().Format("20060102"))
	}
	if limit > 0 {
		args = append(args, "--playlist-end", fmt.Sprintf("%d", limit))
	}
	args = append(args, resolvedURL)

	out, _, err := c.runner.run(ctx, resolvedURL, args)
	if err != nil {
		return nil, err
	}
	return c.parseDocument(out, resolvedURL)
}

// FetchMetadata fetches metadata for one item URL without downloading.
// Multi-attachment posts return one Item per artifact.
func (c *Client) FetchMetadata(ctx context.Context, itemURL string, opts Options) ([]*Item, error) {
	args := c.commonArgs(opts)
	args = append(args, "-J", itemURL)

	out, _, err := c.runner.run(ctx, itemURL, args)
	if err != nil {
		return nil, err
	}
	return c.parseDocument(out, itemURL)
}

func (c *Client) parseDocument(out []byte, url string) ([]*Item, error) {
	var doc entry
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, &DataError{URL: url, Err: err}
	}

	h := handlerFor(url)
	entries := []entry{doc}
	if doc.isPlaylist() {
		entries = doc.Entries
	}

	items := make([]*Item, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.isPlaylist() {
			// Nested playlists (channel tabs) carry no items here.
			continue
		}
		item, err := parseItem(e)
		if err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				c.runner.logger.Warn().Str("url", url).Str("entry_id", e.ID).
					Str("field", fe.Field).Msg("skipping entry with unusable metadata")
				continue
			}
			return nil, err
		}
		h.decorate(item, e)
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, &DataError{URL: url, Err: ErrNoEntries}
	}
	return items, nil
}

// DownloadMedia downloads one item into tmpDir and returns the produced
// file path plus the captured output tail for the attempt ledger.
func (c *Client) DownloadMedia(ctx context.Context, item *Item, tmpDir string, opts Options) (string, string, error) {
	outputTemplate := filepath.Join(tmpDir, item.ID+".%(ext)s")

	args := c.commonArgs(opts)
	if item.PlaylistIndex > 0 {
		// Multi-attachment post: select the matching artifact by index.
		args = append(args, "--playlist-items", fmt.Sprintf("%d", item.PlaylistIndex))
	} else {
		args = append(args, "--no-playlist")
	}
	args = append(args,
		"--output", outputTemplate,
		"--print", "after_move:filepath",
		"--no-simulate",
		item.SourceURL,
	)

	out, errTail, err := c.runner.run(ctx, item.SourceURL, args)
	if err != nil {
		return "", errTail, err
	}

	path := lastNonEmptyLine(string(out))
	if path == "" {
		return "", errTail, &DataError{URL: item.SourceURL, Err: fmt.Errorf("no output file path printed")}
	}
	return path, errTail, nil
}

// TranscriptPreference selects which transcripts to fetch.
type TranscriptPreference struct {
	Lang           string   // BCP-47 code
	SourcePriority []string // "creator", "auto" in preference order
}

// DownloadTranscript fetches subtitles for an item without media. Returns
// the transcript file path and the winning source ("creator" or "auto"),
// or ErrNoEntries when the item has none.
func (c *Client) DownloadTranscript(ctx context.Context, item *Item, tmpDir string, pref TranscriptPreference, opts Options) (string, string, error) {
	priorities := pref.SourcePriority
	if len(priorities) == 0 {
		priorities = []string{"creator", "auto"}
	}

	for _, source := range priorities {
		args := c.commonArgs(opts)
		args = append(args,
			"--no-playlist",
			"--skip-download",
			"--sub-langs", pref.Lang,
			"--convert-subs", "srt",
			"--output", filepath.Join(tmpDir, item.ID),
			"--print", "after_move:filepath",
		)
		switch source {
		case "auto":
			args = append(args, "--write-auto-subs")
		default:
			args = append(args, "--write-subs")
		}
		args = append(args, item.SourceURL)

		if _, _, err := c.runner.run(ctx, item.SourceURL, args); err != nil {
			continue
		}
		path := filepath.Join(tmpDir, item.ID+"."+pref.Lang+".srt")
		if matches, _ := filepath.Glob(filepath.Join(tmpDir, item.ID+".*.srt")); len(matches) > 0 {
			path = matches[0]
		}
		return path, source, nil
	}
	return "", "", &DataError{URL: item.SourceURL, Err: ErrNoEntries}
}

// commonArgs returns the invariant argument prefix for every fetch.
func (c *Client) commonArgs(opts Options) []string {
	args := []string{"-q", "--no-warnings"}
	if opts.CookiesPath != "" {
		args = append(args, "--cookies", opts.CookiesPath)
	}
	args = append(args, opts.YtArgs...)
	return args
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
