// SPDX-License-Identifier: MIT

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thurstonsan/anypod/internal/db"
	"github.com/thurstonsan/anypod/internal/log"
)

var queueDepthDesc = prometheus.NewDesc(
	"anypod_queue_depth",
	"Current number of downloads per feed and status.",
	[]string{"feed", "status"},
	nil,
)

// StatusCounter supplies the per-feed, per-status row counts; satisfied
// by db.DownloadStore.
type StatusCounter interface {
	StatusCounts(ctx context.Context) ([]db.StatusCount, error)
}

// QueueDepthCollector gathers download queue depth live at scrape time
// instead of tracking it incrementally.
type QueueDepthCollector struct {
	counter StatusCounter
	timeout time.Duration
}

// NewQueueDepthCollector wraps a StatusCounter for registration.
func NewQueueDepthCollector(counter StatusCounter) *QueueDepthCollector {
	return &QueueDepthCollector{counter: counter, timeout: 5 * time.Second}
}

func (c *QueueDepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueDepthDesc
}

func (c *QueueDepthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counts, err := c.counter.StatusCounts(ctx)
	if err != nil {
		logger := log.WithComponent("metrics")
		logger.Warn().Err(err).Msg("queue depth collection failed")
		return
	}
	for _, sc := range counts {
		ch <- prometheus.MustNewConstMetric(
			queueDepthDesc,
			prometheus.GaugeValue,
			float64(sc.Count),
			sc.FeedID,
			sc.Status.String(),
		)
	}
}
