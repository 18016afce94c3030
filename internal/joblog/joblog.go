// SPDX-License-Identifier: MIT

// Package joblog archives per-attempt fetcher output in a badger store
// so failed downloads can be inspected from the admin API long after
// the download row's last-error column was overwritten. Entries expire
// via badger TTL; the archive is best-effort and never blocks the
// pipeline.
package joblog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DefaultTTL keeps two weeks of attempts.
const DefaultTTL = 336 * time.Hour

// ErrNotFound reports that no attempts exist for the requested item.
var ErrNotFound = errors.New("joblog: no attempts recorded")

// Attempt is one recorded fetcher invocation.
type Attempt struct {
	FeedID     string    `json:"feed_id"`
	DownloadID string    `json:"download_id"`
	Timestamp  time.Time `json:"timestamp"`
	ExitCode   int       `json:"exit_code"`
	StderrTail string    `json:"stderr_tail"`
}

// Archive is a badger-backed attempt log.
type Archive struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens (or creates) the archive at dir. ttl <= 0 selects
// DefaultTTL.
func Open(dir string, ttl time.Duration) (*Archive, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open joblog: %w", err)
	}
	return &Archive{db: db, ttl: ttl}, nil
}

func (a *Archive) Close() error { return a.db.Close() }

// key layout: log:<feed>:<download>:<unix-nanos>. The timestamp suffix
// keeps attempts for one item in insertion order under a shared prefix.
func attemptKey(feedID, downloadID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("log:%s:%s:%019d", feedID, downloadID, ts.UnixNano()))
}

func attemptPrefix(feedID, downloadID string) []byte {
	return []byte(fmt.Sprintf("log:%s:%s:", feedID, downloadID))
}

// Record stores one attempt with the archive TTL.
func (a *Archive) Record(att Attempt) error {
	if att.Timestamp.IsZero() {
		att.Timestamp = time.Now().UTC()
	}
	buf, err := json.Marshal(att)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	err = a.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(attemptKey(att.FeedID, att.DownloadID, att.Timestamp), buf).
			WithTTL(a.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Attempts returns all recorded attempts for one download, oldest first.
func (a *Archive) Attempts(feedID, downloadID string) ([]Attempt, error) {
	var out []Attempt
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         attemptPrefix(feedID, downloadID),
			PrefetchValues: true,
			PrefetchSize:   16,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var att Attempt
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &att)
			}); err != nil {
				return err
			}
			out = append(out, att)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read attempts: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// FeedAttempts returns recent attempts across a whole feed, newest
// first, capped at limit (0 means no cap).
func (a *Archive) FeedAttempts(feedID string, limit int) ([]Attempt, error) {
	var out []Attempt
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         []byte("log:" + feedID + ":"),
			PrefetchValues: true,
			PrefetchSize:   16,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var att Attempt
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &att)
			}); err != nil {
				return err
			}
			out = append(out, att)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read feed attempts: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ParseKey splits an archive key back into its parts; used by admin
// diagnostics.
func ParseKey(key string) (feedID, downloadID string, ts time.Time, err error) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 || parts[0] != "log" {
		return "", "", time.Time{}, fmt.Errorf("malformed joblog key %q", key)
	}
	nanos, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("malformed joblog key %q: %w", key, err)
	}
	return parts[1], parts[2], time.Unix(0, nanos).UTC(), nil
}
