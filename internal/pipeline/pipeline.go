// SPDX-License-Identifier: MIT

// Package pipeline runs the per-feed processing phases: enqueue new
// items, download queued media, prune per retention policy, regenerate
// the RSS document. The FeedCoordinator sequences them and records a
// result per phase.
package pipeline

import (
	"context"
	"time"

	"github.com/thurstonsan/anypod/internal/joblog"
	"github.com/thurstonsan/anypod/internal/ytdlp"
)

// maxPhaseErrors bounds the per-phase error list; further failures are
// only counted.
const maxPhaseErrors = 32

// Phase names used in logs, metrics, and trace spans.
const (
	PhaseEnqueue  = "enqueue"
	PhaseDownload = "download"
	PhasePrune    = "prune"
	PhaseRSS      = "rss"
)

// PhaseResult records one phase execution.
type PhaseResult struct {
	Success bool
	// Count is the phase's unit count: items newly queued, downloads
	// completed, rows archived, or RSS items emitted.
	Count int
	// Errors holds per-item failures, capped at maxPhaseErrors.
	Errors []error
	// ErrorOverflow counts failures dropped past the cap.
	ErrorOverflow int
	Duration      time.Duration

	// fatal is the phase-aborting error, if any; per-item failures go
	// into Errors instead.
	fatal error
}

func (r *PhaseResult) addError(err error) {
	if len(r.Errors) >= maxPhaseErrors {
		r.ErrorOverflow++
		return
	}
	r.Errors = append(r.Errors, err)
}

// ErrorCount returns the total failures including overflow.
func (r *PhaseResult) ErrorCount() int {
	return len(r.Errors) + r.ErrorOverflow
}

// ProcessingResult rolls up one coordinator run.
type ProcessingResult struct {
	FeedID         string
	OverallSuccess bool

	Enqueue  PhaseResult
	Download PhaseResult
	Prune    PhaseResult
	RSS      PhaseResult

	TotalDuration time.Duration
	// FatalError is set when the enqueue phase aborted the run.
	FatalError error
	// FeedSyncUpdated reports whether the sync watermark advanced.
	FeedSyncUpdated bool
}

// Fetcher is the slice of the yt-dlp client the pipeline drives.
// Satisfied by *ytdlp.Client; faked in tests.
type Fetcher interface {
	Discover(ctx context.Context, sourceURL string, opts ytdlp.Options) (*ytdlp.Discovery, error)
	Enumerate(ctx context.Context, resolvedURL string, since time.Time, limit int, opts ytdlp.Options) ([]*ytdlp.Item, error)
	FetchMetadata(ctx context.Context, itemURL string, opts ytdlp.Options) ([]*ytdlp.Item, error)
	DownloadMedia(ctx context.Context, item *ytdlp.Item, tmpDir string, opts ytdlp.Options) (string, string, error)
	DownloadTranscript(ctx context.Context, item *ytdlp.Item, tmpDir string, pref ytdlp.TranscriptPreference, opts ytdlp.Options) (string, string, error)
}

// Prober resolves media durations; satisfied by *ffmpeg.Runner.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (int64, error)
	ProbeDurationURL(ctx context.Context, url, referer string) (int64, error)
}

// ImageFetcher places a remote image on disk as JPG; satisfied by
// *imagedl.Downloader.
type ImageFetcher interface {
	Fetch(ctx context.Context, remoteURL, destNoExt string) (string, error)
}

// AttemptRecorder archives fetcher attempts; satisfied by
// *joblog.Archive. May be nil (archive disabled).
type AttemptRecorder interface {
	Record(att joblog.Attempt) error
}

// FeedCacheInvalidator drops cached feed XML after regeneration;
// satisfied by feedcache.Cache. May be nil.
type FeedCacheInvalidator interface {
	Invalidate(ctx context.Context, feedID string)
}
