// SPDX-License-Identifier: MIT

// Package metrics registers the daemon's Prometheus instruments. Labels
// stay low-cardinality: feed ids and enum values only, never download
// ids or URLs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRunsTotal counts coordinator runs per feed and outcome
	// (success / partial / failure).
	PipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anypod_pipeline_runs_total",
		Help: "Total number of feed pipeline runs, by feed and result.",
	}, []string{"feed", "result"})

	// PhaseDuration observes wall time per pipeline phase.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anypod_phase_duration_seconds",
		Help:    "Duration of pipeline phases.",
		Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"phase"})

	// DownloadsTotal counts per-item download attempts by outcome.
	DownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anypod_downloads_total",
		Help: "Total number of media download attempts, by feed and result.",
	}, []string{"feed", "result"})

	// FileRequestsDeniedTotal counts public file requests refused by the
	// secure file server.
	FileRequestsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anypod_file_requests_denied_total",
		Help: "Total number of denied media/image file requests, by reason.",
	}, []string{"reason"})

	// FeedCacheHitsTotal / FeedCacheMissesTotal track the XML cache.
	FeedCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypod_feed_cache_hits_total",
		Help: "Total number of feed XML cache hits.",
	})
	FeedCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anypod_feed_cache_misses_total",
		Help: "Total number of feed XML cache misses.",
	})

	// SchedulerInflight tracks currently running feed pipelines.
	SchedulerInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anypod_scheduler_inflight",
		Help: "Number of feed pipeline runs currently executing.",
	})

	// YtdlpUpdateTimestamp records the last successful self-update.
	YtdlpUpdateTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anypod_ytdlp_update_timestamp",
		Help: "Unix timestamp of the last successful yt-dlp self-update.",
	})
)

// ObservePhase records one phase execution.
func ObservePhase(phase string, d time.Duration) {
	PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordRun increments the pipeline run counter.
func RecordRun(feedID, result string) {
	PipelineRunsTotal.WithLabelValues(feedID, result).Inc()
}

// RecordDownload increments the download attempt counter.
func RecordDownload(feedID, result string) {
	DownloadsTotal.WithLabelValues(feedID, result).Inc()
}

// RecordFileDenied increments the denied file request counter.
func RecordFileDenied(reason string) {
	FileRequestsDeniedTotal.WithLabelValues(reason).Inc()
}
