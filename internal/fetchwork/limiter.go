// SPDX-License-Identifier: MIT

// Package fetchwork rate-limits outbound HTTP fetches per remote host so
// thumbnail bursts after a large enqueue do not hammer image CDNs.
package fetchwork

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var limiterWaits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "anypod",
		Name:      "outbound_limiter_waits_total",
		Help:      "Outbound fetches that had to wait on the per-host limiter",
	},
	[]string{"host"},
)

// Config holds per-host limiter parameters.
type Config struct {
	PerHostRate  rate.Limit // requests per second per host
	PerHostBurst int

	// Idle per-host limiters are dropped after this interval.
	CleanupInterval time.Duration
}

// DefaultConfig returns conservative defaults for image CDNs.
func DefaultConfig() Config {
	return Config{
		PerHostRate:     4,
		PerHostBurst:    8,
		CleanupInterval: 10 * time.Minute,
	}
}

type hostLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out per-host token buckets.
type Limiter struct {
	cfg   Config
	mu    sync.Mutex
	hosts map[string]*hostLimiter
	stop  chan struct{}
	done  chan struct{}
}

// New starts a Limiter with a background janitor for idle hosts.
func New(cfg Config) *Limiter {
	if cfg.PerHostRate <= 0 {
		cfg.PerHostRate = DefaultConfig().PerHostRate
	}
	if cfg.PerHostBurst <= 0 {
		cfg.PerHostBurst = DefaultConfig().PerHostBurst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	l := &Limiter{
		cfg:   cfg,
		hosts: make(map[string]*hostLimiter),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Wait blocks until the host's bucket has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	hl := l.forHost(host)
	if !hl.Allow() {
		limiterWaits.WithLabelValues(host).Inc()
	} else {
		return nil
	}
	return hl.Wait(ctx)
}

// Allow reports whether a request for host may proceed immediately.
func (l *Limiter) Allow(host string) bool {
	return l.forHost(host).Allow()
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	hl, ok := l.hosts[host]
	if !ok {
		hl = &hostLimiter{limiter: rate.NewLimiter(l.cfg.PerHostRate, l.cfg.PerHostBurst)}
		l.hosts[host] = hl
	}
	hl.lastSeen = time.Now()
	return hl.limiter
}

func (l *Limiter) janitor() {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-l.cfg.CleanupInterval)
			l.mu.Lock()
			for host, hl := range l.hosts {
				if hl.lastSeen.Before(cutoff) {
					delete(l.hosts, host)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Close stops the janitor goroutine.
func (l *Limiter) Close() {
	close(l.stop)
	<-l.done
}
