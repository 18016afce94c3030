// SPDX-License-Identifier: MIT

// Package manual ingests operator-submitted URLs into manual feeds: a
// single video URL becomes a QUEUED download, then a pipeline run is
// triggered out of band.
package manual

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thurstonsan/anypod/internal/config"
	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/log"
	"github.com/thurstonsan/anypod/internal/pipeline"
	"github.com/thurstonsan/anypod/internal/schedule"
	"github.com/thurstonsan/anypod/internal/ytdlp"
)

// ErrUnsupportedURL marks a submission the fetcher produced no items
// for: not a video page, or a site yt-dlp cannot handle.
var ErrUnsupportedURL = errors.New("url yields no downloadable items")

// ErrUnavailable marks a scheduled or live item that has not started
// yet; the operator should resubmit after it ends.
var ErrUnavailable = errors.New("item is upcoming and not yet downloadable")

// SubmissionError wraps a rejected or failed manual submission.
type SubmissionError struct {
	FeedID string
	URL    string
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("manual submission for feed %q url %q: %v", e.FeedID, e.URL, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Result reports what a submission did.
type Result struct {
	DownloadID string
	Status     db.Status
	New        bool
	Message    string
}

// MetadataFetcher is the single-URL slice of the yt-dlp client the
// service needs.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, itemURL string, opts ytdlp.Options) ([]*ytdlp.Item, error)
}

// Trigger fires an out-of-band pipeline run; satisfied by
// *schedule.ManualRunner.
type Trigger interface {
	Trigger(feedID string, cfg *config.Feed) error
}

// Service handles manual URL submissions.
type Service struct {
	downloads   *db.DownloadStore
	fetcher     MetadataFetcher
	runner      Trigger
	cookiesPath string
	logger      zerolog.Logger
}

// New wires the submission service. runner may be nil (no run
// triggered after insert, used by tests and the debug CLI).
func New(downloads *db.DownloadStore, fetcher MetadataFetcher, runner Trigger, cookiesPath string) *Service {
	return &Service{
		downloads:   downloads,
		fetcher:     fetcher,
		runner:      runner,
		cookiesPath: cookiesPath,
		logger:      log.WithComponent("manual"),
	}
}

// Submit ingests one URL into feedID. The URL is normalized, resolved
// to a single item via the fetcher, then inserted as QUEUED or requeued
// if a non-DOWNLOADED row already exists. On any state change a
// pipeline run is triggered.
func (s *Service) Submit(ctx context.Context, feedID string, cfg *config.Feed, rawURL string) (*Result, error) {
	url := NormalizeURL(rawURL)

	opts := ytdlp.Options{YtArgs: cfg.YtArgs, CookiesPath: s.cookiesPath}
	items, err := s.fetcher.FetchMetadata(ctx, url, opts)
	if err != nil {
		return nil, &SubmissionError{FeedID: feedID, URL: url, Err: err}
	}
	if len(items) == 0 {
		return nil, &SubmissionError{FeedID: feedID, URL: url, Err: ErrUnsupportedURL}
	}
	item := items[0]
	if item.Status == ytdlp.ItemUpcoming {
		return nil, &SubmissionError{FeedID: feedID, URL: url, Err: ErrUnavailable}
	}

	res, err := s.apply(ctx, feedID, item)
	if err != nil {
		return nil, &SubmissionError{FeedID: feedID, URL: url, Err: err}
	}

	if res.changed && s.runner != nil {
		if err := s.runner.Trigger(feedID, cfg); err != nil && !errors.Is(err, schedule.ErrAlreadyRunning) {
			s.logger.Warn().
				Str("event", "manual.trigger_failed").
				Str("feed_id", feedID).
				Err(err).
				Msg("submission stored but run not triggered")
		}
	}

	s.logger.Info().
		Str("event", "manual.submitted").
		Str("feed_id", feedID).
		Str("download_id", res.DownloadID).
		Str("status", res.Status.String()).
		Bool("new", res.New).
		Msg("manual submission handled")
	return &res.Result, nil
}

type applied struct {
	Result
	changed bool
}

func (s *Service) apply(ctx context.Context, feedID string, item *ytdlp.Item) (*applied, error) {
	existing, err := s.downloads.GetDownload(ctx, feedID, item.ID)
	switch {
	case errors.Is(err, db.ErrDownloadNotFound):
		if err := s.downloads.UpsertDownload(ctx, pipeline.ItemToDownload(feedID, item)); err != nil {
			return nil, err
		}
		return &applied{
			Result: Result{
				DownloadID: item.ID,
				Status:     db.StatusQueued,
				New:        true,
				Message:    "queued for download",
			},
			changed: true,
		}, nil
	case err != nil:
		return nil, err
	case existing.Status == db.StatusDownloaded:
		return &applied{
			Result: Result{
				DownloadID: item.ID,
				Status:     db.StatusDownloaded,
				Message:    "already downloaded",
			},
		}, nil
	default:
		if _, err := s.downloads.RequeueDownloads(ctx, feedID, []string{item.ID}, nil); err != nil {
			return nil, err
		}
		return &applied{
			Result: Result{
				DownloadID: item.ID,
				Status:     db.StatusQueued,
				Message:    "requeued for download",
			},
			changed: true,
		}, nil
	}
}

// NormalizeURL prepends https:// when the submission has no scheme.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		return "https://" + trimmed
	}
	return trimmed
}
