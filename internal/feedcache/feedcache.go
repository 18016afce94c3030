// SPDX-License-Identifier: MIT

// Package feedcache caches generated feed XML for the public handler so
// repeated fetches between regenerations skip the disk read. Entries are
// invalidated whenever the RSS generator rewrites a feed.
package feedcache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL bounds staleness if an invalidation is ever missed; the
// pipeline invalidates explicitly on regeneration.
const DefaultTTL = 5 * time.Minute

// Entry is one cached feed document.
type Entry struct {
	Body []byte
	// ETag is the weak validator served with the document.
	ETag string
}

// Cache stores rendered feed XML keyed by feed id.
type Cache interface {
	Get(ctx context.Context, feedID string) (Entry, bool)
	Set(ctx context.Context, feedID string, entry Entry)
	Invalidate(ctx context.Context, feedID string)
	Close() error
}

type memoryEntry struct {
	entry   Entry
	expires time.Time
}

// Memory is the default in-process backend with a periodic janitor for
// expired entries.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewMemory starts a memory cache with the given TTL (DefaultTTL if
// non-positive).
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) janitor() {
	defer close(m.done)
	ticker := time.NewTicker(m.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for id, e := range m.entries {
				if now.After(e.expires) {
					delete(m.entries, id)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Memory) Get(_ context.Context, feedID string) (Entry, bool) {
	m.mu.RLock()
	e, ok := m.entries[feedID]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return Entry{}, false
	}
	return e.entry, true
}

func (m *Memory) Set(_ context.Context, feedID string, entry Entry) {
	m.mu.Lock()
	m.entries[feedID] = memoryEntry{entry: entry, expires: time.Now().Add(m.ttl)}
	m.mu.Unlock()
}

func (m *Memory) Invalidate(_ context.Context, feedID string) {
	m.mu.Lock()
	delete(m.entries, feedID)
	m.mu.Unlock()
}

func (m *Memory) Close() error {
	close(m.stop)
	<-m.done
	return nil
}
