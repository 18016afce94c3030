// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// FeedStore provides persistence for feed records.
type FeedStore struct {
	db *sql.DB
}

// NewFeedStore returns a store over the shared handle.
func NewFeedStore(d *DB) *FeedStore {
	return &FeedStore{db: d.sql}
}

const feedColumns = `id, is_enabled, source_type, source_url, resolved_url,
	last_successful_sync, last_failed_sync, consecutive_failures, last_error,
	last_rss_generation, since, keep_last, total_downloads,
	title, subtitle, description, language, author, author_email,
	remote_image_url, image_ext, category, podcast_type, explicit`

// InsertFeed creates a new feed row. LastSuccessfulSync must be
// initialized by the caller (since policy or epoch-min).
func (s *FeedStore) InsertFeed(ctx context.Context, f *Feed) error {
	query := `
	INSERT INTO feeds (id, is_enabled, source_type, source_url, resolved_url,
		last_successful_sync, since, keep_last,
		title, subtitle, description, language, author, author_email,
		remote_image_url, image_ext, category, podcast_type, explicit)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		f.ID, f.IsEnabled, f.SourceType.String(), f.SourceURL, nullStr(f.ResolvedURL),
		timeFmt(f.LastSuccessfulSync), nullTime(f.Since), nullInt(f.KeepLast),
		nullStr(f.Title), nullStr(f.Subtitle), nullStr(f.Description), nullStr(f.Language),
		nullStr(f.Author), nullStr(f.AuthorEmail), nullStr(f.RemoteImageURL), nullStr(f.ImageExt),
		nullStr(f.Category), nullStr(string(f.PodcastType)), nullStr(string(f.Explicit)),
	)
	return opErr("insert feed", f.ID, "", err)
}

// GetFeed retrieves a single feed by id.
func (s *FeedStore) GetFeed(ctx context.Context, id string) (*Feed, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, opErr("get feed", id, "", ErrFeedNotFound)
	}
	if err != nil {
		return nil, opErr("get feed", id, "", err)
	}
	return f, nil
}

// GetFeeds retrieves all feeds ordered by id.
func (s *FeedStore) GetFeeds(ctx context.Context) ([]*Feed, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY id`)
	if err != nil {
		return nil, opErr("get feeds", "", "", err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []*Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, opErr("get feeds", "", "", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, opErr("get feeds", "", "", rows.Err())
}

// UpdateFeedConfig rewrites the config-driven columns of an existing feed.
// Runtime ledger columns (sync watermarks, failure counters, total_downloads)
// are untouched.
func (s *FeedStore) UpdateFeedConfig(ctx context.Context, f *Feed) error {
	query := `
	UPDATE feeds SET
		is_enabled = ?, source_url = ?, since = ?, keep_last = ?,
		title = ?, subtitle = ?, description = ?, language = ?,
		author = ?, author_email = ?, remote_image_url = ?,
		category = ?, podcast_type = ?, explicit = ?
	WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		f.IsEnabled, f.SourceURL, nullTime(f.Since), nullInt(f.KeepLast),
		nullStr(f.Title), nullStr(f.Subtitle), nullStr(f.Description), nullStr(f.Language),
		nullStr(f.Author), nullStr(f.AuthorEmail), nullStr(f.RemoteImageURL),
		nullStr(f.Category), nullStr(string(f.PodcastType)), nullStr(string(f.Explicit)),
		f.ID,
	)
	if err != nil {
		return opErr("update feed config", f.ID, "", err)
	}
	return s.requireRow(res, "update feed config", f.ID)
}

// SetEnabled flips the scheduler eligibility of a feed.
func (s *FeedStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE feeds SET is_enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return opErr("set enabled", id, "", err)
	}
	return s.requireRow(res, "set enabled", id)
}

// UpdateDiscovery records what the source URL resolved to. Called after the
// first successful discovery and whenever the resolved URL changes.
func (s *FeedStore) UpdateDiscovery(ctx context.Context, id string, st SourceType, resolvedURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET source_type = ?, resolved_url = ? WHERE id = ?`,
		st.String(), nullStr(resolvedURL), id)
	if err != nil {
		return opErr("update discovery", id, "", err)
	}
	return s.requireRow(res, "update discovery", id)
}

// MarkSyncSuccess advances the sync watermark (monotonically; RFC3339 text
// compares chronologically) and clears the failure ledger.
func (s *FeedStore) MarkSyncSuccess(ctx context.Context, id string, watermark time.Time) error {
	query := `
	UPDATE feeds SET
		last_successful_sync = MAX(last_successful_sync, ?),
		consecutive_failures = 0,
		last_error = NULL
	WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, timeFmt(watermark), id)
	if err != nil {
		return opErr("mark sync success", id, "", err)
	}
	return s.requireRow(res, "mark sync success", id)
}

// MarkSyncFailure records a failed pipeline run.
func (s *FeedStore) MarkSyncFailure(ctx context.Context, id string, at time.Time, cause string) error {
	query := `
	UPDATE feeds SET
		last_failed_sync = ?,
		consecutive_failures = consecutive_failures + 1,
		last_error = ?
	WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, timeFmt(at), cause, id)
	if err != nil {
		return opErr("mark sync failure", id, "", err)
	}
	return s.requireRow(res, "mark sync failure", id)
}

// MarkRSSGenerated records a successful RSS emit.
func (s *FeedStore) MarkRSSGenerated(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE feeds SET last_rss_generation = ? WHERE id = ?`, timeFmt(at), id)
	if err != nil {
		return opErr("mark rss generated", id, "", err)
	}
	return s.requireRow(res, "mark rss generated", id)
}

// SetImageExt records the hosted feed image extension.
func (s *FeedStore) SetImageExt(ctx context.Context, id, ext string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE feeds SET image_ext = ? WHERE id = ?`, nullStr(ext), id)
	if err != nil {
		return opErr("set image ext", id, "", err)
	}
	return s.requireRow(res, "set image ext", id)
}

// DeleteFeed removes the feed row; downloads cascade.
func (s *FeedStore) DeleteFeed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return opErr("delete feed", id, "", err)
	}
	return s.requireRow(res, "delete feed", id)
}

func (s *FeedStore) requireRow(res sql.Result, op, feedID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return opErr(op, feedID, "", err)
	}
	if n == 0 {
		return opErr(op, feedID, "", ErrFeedNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*Feed, error) {
	var (
		f                                            Feed
		resolvedURL, lastErr                         sql.NullString
		lastSync                                     string
		lastFailed, lastRSS, since                   sql.NullString
		keepLast                                     sql.NullInt64
		title, subtitle, desc, lang, author, email   sql.NullString
		remoteImage, imageExt, category, ptype, expl sql.NullString
	)
	err := row.Scan(
		&f.ID, &f.IsEnabled, &f.SourceType, &f.SourceURL, &resolvedURL,
		&lastSync, &lastFailed, &f.ConsecutiveFailures, &lastErr,
		&lastRSS, &since, &keepLast, &f.TotalDownloads,
		&title, &subtitle, &desc, &lang, &author, &email,
		&remoteImage, &imageExt, &category, &ptype, &expl,
	)
	if err != nil {
		return nil, err
	}

	f.ResolvedURL = resolvedURL.String
	f.LastError = lastErr.String
	if f.LastSuccessfulSync, err = timeParse(lastSync); err != nil {
		return nil, err
	}
	if t, ok := parseNullTime(lastFailed); ok {
		f.LastFailedSync = t
	}
	if t, ok := parseNullTime(lastRSS); ok {
		f.LastRSSGeneration = t
	}
	if t, ok := parseNullTime(since); ok {
		f.Since = t
	}
	if keepLast.Valid {
		k := int(keepLast.Int64)
		f.KeepLast = &k
	}
	f.Title = title.String
	f.Subtitle = subtitle.String
	f.Description = desc.String
	f.Language = lang.String
	f.Author = author.String
	f.AuthorEmail = email.String
	f.RemoteImageURL = remoteImage.String
	f.ImageExt = imageExt.String
	f.Category = category.String
	f.PodcastType = PodcastType(ptype.String)
	f.Explicit = PodcastExplicit(expl.String)
	return &f, nil
}

func parseNullTime(s sql.NullString) (*time.Time, bool) {
	if !s.Valid {
		return nil, false
	}
	t, err := timeParse(s.String)
	if err != nil {
		return nil, false
	}
	return &t, true
}
