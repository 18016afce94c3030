// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DownloadStore provides persistence for download records and enforces the
// status/retry transition rules.
type DownloadStore struct {
	db *sql.DB
}

// NewDownloadStore returns a store over the shared handle.
func NewDownloadStore(d *DB) *DownloadStore {
	return &DownloadStore{db: d.sql}
}

const downloadColumns = `feed_id, id, source_url, title, published,
	ext, mime_type, filesize, duration, status,
	discovered_at, updated_at, downloaded_at,
	remote_thumbnail_url, thumbnail_ext, description, quality_info,
	retries, last_error, download_logs, playlist_index,
	transcript_ext, transcript_lang, transcript_source`

// UpsertDownload inserts a new row or refreshes upstream metadata of an
// existing one. Status never changes through this path; media descriptors
// (ext, mime, filesize, duration) are only refreshed while the row is still
// UPCOMING or QUEUED so downloaded values are never clobbered.
func (s *DownloadStore) UpsertDownload(ctx context.Context, d *Download) error {
	query := `
	INSERT INTO downloads (feed_id, id, source_url, title, published,
		ext, mime_type, filesize, duration, status,
		remote_thumbnail_url, description, quality_info, playlist_index)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(feed_id, id) DO UPDATE SET
		source_url = excluded.source_url,
		title = excluded.title,
		published = excluded.published,
		remote_thumbnail_url = excluded.remote_thumbnail_url,
		description = excluded.description,
		quality_info = excluded.quality_info,
		playlist_index = excluded.playlist_index,
		ext = CASE WHEN downloads.status IN ('UPCOMING','QUEUED') THEN excluded.ext ELSE downloads.ext END,
		mime_type = CASE WHEN downloads.status IN ('UPCOMING','QUEUED') THEN excluded.mime_type ELSE downloads.mime_type END,
		filesize = CASE WHEN downloads.status IN ('UPCOMING','QUEUED') THEN excluded.filesize ELSE downloads.filesize END,
		duration = CASE WHEN downloads.status IN ('UPCOMING','QUEUED') THEN excluded.duration ELSE downloads.duration END
	`
	var playlistIndex any
	if d.PlaylistIndex > 0 {
		playlistIndex = d.PlaylistIndex
	}
	_, err := s.db.ExecContext(ctx, query,
		d.FeedID, d.ID, d.SourceURL, d.Title, timeFmt(d.Published),
		d.Ext, d.MimeType, d.Filesize, d.Duration, d.Status.String(),
		nullStr(d.RemoteThumbnailURL), nullStr(d.Description), nullStr(d.QualityInfo), playlistIndex,
	)
	return opErr("upsert download", d.FeedID, d.ID, err)
}

// GetDownload retrieves one download by composite key.
func (s *DownloadStore) GetDownload(ctx context.Context, feedID, id string) (*Download, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE feed_id = ? AND id = ?`, feedID, id)
	d, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, opErr("get download", feedID, id, ErrDownloadNotFound)
	}
	if err != nil {
		return nil, opErr("get download", feedID, id, err)
	}
	return d, nil
}

// GetDownloadsByStatus lists downloads of a feed in one status.
// newestFirst=false yields oldest published first (downloader order);
// true yields published DESC (RSS order). limit<=0 means unbounded.
func (s *DownloadStore) GetDownloadsByStatus(ctx context.Context, feedID string, status Status, newestFirst bool, limit int) ([]*Download, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM downloads WHERE feed_id = ? AND status = ? ORDER BY published %s, id %s LIMIT ?`,
		downloadColumns, order, order)
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, feedID, status.String(), limit)
	if err != nil {
		return nil, opErr("get downloads by status", feedID, "", err)
	}
	defer func() { _ = rows.Close() }()
	return collectDownloads(rows, "get downloads by status", feedID)
}

// CountByStatus counts rows of a feed in one status.
func (s *DownloadStore) CountByStatus(ctx context.Context, feedID string, status Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM downloads WHERE feed_id = ? AND status = ?`,
		feedID, status.String()).Scan(&n)
	return n, opErr("count by status", feedID, "", err)
}

// StatusCount is one (feed, status) bucket size.
type StatusCount struct {
	FeedID string
	Status Status
	Count  int
}

// StatusCounts returns bucket sizes across all feeds, for metrics export.
func (s *DownloadStore) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feed_id, status, COUNT(*) FROM downloads GROUP BY feed_id, status`)
	if err != nil {
		return nil, opErr("status counts", "", "", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.FeedID, &c.Status, &c.Count); err != nil {
			return nil, opErr("status counts", "", "", err)
		}
		out = append(out, c)
	}
	return out, opErr("status counts", "", "", rows.Err())
}

// MarkAsQueuedFromUpcoming transitions UPCOMING → QUEUED. Any other current
// status is rejected so re-checks cannot regress later states.
func (s *DownloadStore) MarkAsQueuedFromUpcoming(ctx context.Context, feedID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE downloads SET status = 'QUEUED' WHERE feed_id = ? AND id = ? AND status = 'UPCOMING'`,
		feedID, id)
	if err != nil {
		return opErr("mark queued from upcoming", feedID, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return opErr("mark queued from upcoming", feedID, id, err)
	}
	if n == 0 {
		if _, err := s.GetDownload(ctx, feedID, id); err != nil {
			return err
		}
		return opErr("mark queued from upcoming", feedID, id, errors.New("status is not UPCOMING"))
	}
	return nil
}

// MarkAsDownloaded finalizes a successful download: real media descriptors,
// retry ledger cleared. Triggers set downloaded_at and bump the feed counter.
func (s *DownloadStore) MarkAsDownloaded(ctx context.Context, feedID, id, ext, mimeType string, filesize, duration int64) error {
	query := `
	UPDATE downloads SET
		status = 'DOWNLOADED',
		ext = ?, mime_type = ?, filesize = ?, duration = ?,
		retries = 0, last_error = NULL
	WHERE feed_id = ? AND id = ?
	`
	res, err := s.db.ExecContext(ctx, query, ext, mimeType, filesize, duration, feedID, id)
	if err != nil {
		return opErr("mark downloaded", feedID, id, err)
	}
	return requireDownloadRow(res, "mark downloaded", feedID, id)
}

// BumpRetries increments the retry counter inside one transaction and
// applies the ERROR transition rule: ERROR iff the new count reaches the
// budget and the row is not DOWNLOADED. A DOWNLOADED row keeps its status;
// only its ledger is updated.
func (s *DownloadStore) BumpRetries(ctx context.Context, feedID, id, cause string, maxErrors int) (retries int, status Status, transitioned bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", false, opErr("bump retries", feedID, id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur Status
	err = tx.QueryRowContext(ctx,
		`SELECT retries, status FROM downloads WHERE feed_id = ? AND id = ?`,
		feedID, id).Scan(&retries, &cur)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, opErr("bump retries", feedID, id, ErrDownloadNotFound)
	}
	if err != nil {
		return 0, "", false, opErr("bump retries", feedID, id, err)
	}

	retries++
	status = cur
	if retries >= maxErrors && cur != StatusDownloaded {
		status = StatusError
	}
	transitioned = status == StatusError && cur != StatusError

	_, err = tx.ExecContext(ctx,
		`UPDATE downloads SET retries = ?, last_error = ?, status = ? WHERE feed_id = ? AND id = ?`,
		retries, cause, status.String(), feedID, id)
	if err != nil {
		return 0, "", false, opErr("bump retries", feedID, id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, "", false, opErr("bump retries", feedID, id, err)
	}
	return retries, status, transitioned, nil
}

// RequeueDownloads resets rows to QUEUED with a clean retry ledger.
//
// ids == nil requires fromStatus and bulk-requeues every matching row
// (no-op when none match). With explicit ids, fromStatus narrows the update
// to rows currently in that status; without fromStatus every listed id must
// exist or ErrDownloadNotFound is returned.
func (s *DownloadStore) RequeueDownloads(ctx context.Context, feedID string, ids []string, fromStatus *Status) (int, error) {
	if ids == nil {
		if fromStatus == nil {
			return 0, opErr("requeue", feedID, "", errors.New("bulk requeue requires a from-status filter"))
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE downloads SET status = 'QUEUED', retries = 0, last_error = NULL
			 WHERE feed_id = ? AND status = ?`,
			feedID, fromStatus.String())
		if err != nil {
			return 0, opErr("requeue", feedID, "", err)
		}
		n, err := res.RowsAffected()
		return int(n), opErr("requeue", feedID, "", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, opErr("requeue", feedID, "", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, feedID)
	for _, id := range ids {
		args = append(args, id)
	}

	if fromStatus == nil {
		// Every listed id must exist.
		var present int
		query := `SELECT COUNT(*) FROM downloads WHERE feed_id = ? AND id IN (` + placeholders + `)`
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&present); err != nil {
			return 0, opErr("requeue", feedID, "", err)
		}
		if present != len(ids) {
			return 0, opErr("requeue", feedID, "", ErrDownloadNotFound)
		}
	}

	query := `UPDATE downloads SET status = 'QUEUED', retries = 0, last_error = NULL
		WHERE feed_id = ? AND id IN (` + placeholders + `)`
	if fromStatus != nil {
		query += ` AND status = ?`
		args = append(args, fromStatus.String())
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, opErr("requeue", feedID, "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, opErr("requeue", feedID, "", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, opErr("requeue", feedID, "", err)
	}
	return int(n), nil
}

// SkipDownload marks a row SKIPPED, preserving the retry ledger.
// ARCHIVED rows are not skippable.
func (s *DownloadStore) SkipDownload(ctx context.Context, feedID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE downloads SET status = 'SKIPPED' WHERE feed_id = ? AND id = ? AND status != 'ARCHIVED'`,
		feedID, id)
	if err != nil {
		return opErr("skip download", feedID, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return opErr("skip download", feedID, id, err)
	}
	if n == 0 {
		if _, err := s.GetDownload(ctx, feedID, id); err != nil {
			return err
		}
		return opErr("skip download", feedID, id, errors.New("row is ARCHIVED"))
	}
	return nil
}

// ArchiveDownload marks a row ARCHIVED and clears the hosted thumbnail
// marker. Archiving an already-ARCHIVED row is a no-op.
func (s *DownloadStore) ArchiveDownload(ctx context.Context, feedID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE downloads SET status = 'ARCHIVED', thumbnail_ext = NULL
		 WHERE feed_id = ? AND id = ? AND status != 'ARCHIVED'`,
		feedID, id)
	if err != nil {
		return opErr("archive download", feedID, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return opErr("archive download", feedID, id, err)
	}
	if n == 0 {
		// Distinguish idempotent archive from a missing row.
		if _, err := s.GetDownload(ctx, feedID, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDownload removes the row entirely (manual feeds only at the API
// layer). The counter trigger compensates when a DOWNLOADED row vanishes.
func (s *DownloadStore) DeleteDownload(ctx context.Context, feedID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM downloads WHERE feed_id = ? AND id = ?`, feedID, id)
	if err != nil {
		return opErr("delete download", feedID, id, err)
	}
	return requireDownloadRow(res, "delete download", feedID, id)
}

// GetPrunableByKeepLast returns rows beyond the keep_last newest by publish
// date, excluding ARCHIVED and SKIPPED from both window and candidates.
func (s *DownloadStore) GetPrunableByKeepLast(ctx context.Context, feedID string, keepLast int) ([]*Download, error) {
	query := `SELECT ` + downloadColumns + ` FROM downloads
		WHERE feed_id = ? AND status NOT IN ('ARCHIVED','SKIPPED')
		ORDER BY published DESC, id DESC
		LIMIT -1 OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, feedID, keepLast)
	if err != nil {
		return nil, opErr("prunable by keep_last", feedID, "", err)
	}
	defer func() { _ = rows.Close() }()
	return collectDownloads(rows, "prunable by keep_last", feedID)
}

// GetPrunableBySince returns rows published before the cutoff, excluding
// ARCHIVED and SKIPPED.
func (s *DownloadStore) GetPrunableBySince(ctx context.Context, feedID string, since time.Time) ([]*Download, error) {
	query := `SELECT ` + downloadColumns + ` FROM downloads
		WHERE feed_id = ? AND status NOT IN ('ARCHIVED','SKIPPED') AND published < ?
		ORDER BY published ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, feedID, timeFmt(since))
	if err != nil {
		return nil, opErr("prunable by since", feedID, "", err)
	}
	defer func() { _ = rows.Close() }()
	return collectDownloads(rows, "prunable by since", feedID)
}

// GetArchivedSince returns ARCHIVED rows published at or after the cutoff,
// newest first. Used by retention restoration.
func (s *DownloadStore) GetArchivedSince(ctx context.Context, feedID string, cutoff *time.Time) ([]*Download, error) {
	query := `SELECT ` + downloadColumns + ` FROM downloads
		WHERE feed_id = ? AND status = 'ARCHIVED'`
	args := []any{feedID}
	if cutoff != nil {
		query += ` AND published >= ?`
		args = append(args, timeFmt(*cutoff))
	}
	query += ` ORDER BY published DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, opErr("archived since", feedID, "", err)
	}
	defer func() { _ = rows.Close() }()
	return collectDownloads(rows, "archived since", feedID)
}

// SetThumbnailExt records the hosted thumbnail extension.
func (s *DownloadStore) SetThumbnailExt(ctx context.Context, feedID, id, ext string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE downloads SET thumbnail_ext = ? WHERE feed_id = ? AND id = ?`,
		nullStr(ext), feedID, id)
	if err != nil {
		return opErr("set thumbnail ext", feedID, id, err)
	}
	return requireDownloadRow(res, "set thumbnail ext", feedID, id)
}

// SetDownloadLogs stores the captured fetcher output tail of the latest attempt.
func (s *DownloadStore) SetDownloadLogs(ctx context.Context, feedID, id, logs string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE downloads SET download_logs = ? WHERE feed_id = ? AND id = ?`,
		nullStr(logs), feedID, id)
	if err != nil {
		return opErr("set download logs", feedID, id, err)
	}
	return requireDownloadRow(res, "set download logs", feedID, id)
}

// SetTranscript records transcript descriptors after a successful fetch.
func (s *DownloadStore) SetTranscript(ctx context.Context, feedID, id, ext, lang string, source TranscriptSource) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE downloads SET transcript_ext = ?, transcript_lang = ?, transcript_source = ? WHERE feed_id = ? AND id = ?`,
		nullStr(ext), nullStr(lang), nullStr(string(source)), feedID, id)
	if err != nil {
		return opErr("set transcript", feedID, id, err)
	}
	return requireDownloadRow(res, "set transcript", feedID, id)
}

func requireDownloadRow(res sql.Result, op, feedID, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return opErr(op, feedID, id, err)
	}
	if n == 0 {
		return opErr(op, feedID, id, ErrDownloadNotFound)
	}
	return nil
}

func collectDownloads(rows *sql.Rows, op, feedID string) ([]*Download, error) {
	var out []*Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, opErr(op, feedID, "", err)
		}
		out = append(out, d)
	}
	return out, opErr(op, feedID, "", rows.Err())
}

func scanDownload(row rowScanner) (*Download, error) {
	var (
		d                               Download
		published, discovered, updated  string
		downloaded                      sql.NullString
		remoteThumb, thumbExt           sql.NullString
		desc, quality, lastErr, logs    sql.NullString
		playlistIndex                   sql.NullInt64
		transcriptExt, transcriptLang   sql.NullString
		transcriptSource                sql.NullString
	)
	err := row.Scan(
		&d.FeedID, &d.ID, &d.SourceURL, &d.Title, &published,
		&d.Ext, &d.MimeType, &d.Filesize, &d.Duration, &d.Status,
		&discovered, &updated, &downloaded,
		&remoteThumb, &thumbExt, &desc, &quality,
		&d.Retries, &lastErr, &logs, &playlistIndex,
		&transcriptExt, &transcriptLang, &transcriptSource,
	)
	if err != nil {
		return nil, err
	}

	if d.Published, err = timeParse(published); err != nil {
		return nil, err
	}
	if d.DiscoveredAt, err = timeParse(discovered); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = timeParse(updated); err != nil {
		return nil, err
	}
	if t, ok := parseNullTime(downloaded); ok {
		d.DownloadedAt = t
	}
	d.RemoteThumbnailURL = remoteThumb.String
	d.ThumbnailExt = thumbExt.String
	d.Description = desc.String
	d.QualityInfo = quality.String
	d.LastError = lastErr.String
	d.DownloadLogs = logs.String
	if playlistIndex.Valid {
		d.PlaylistIndex = int(playlistIndex.Int64)
	}
	d.TranscriptExt = transcriptExt.String
	d.TranscriptLang = transcriptLang.String
	d.TranscriptSource = TranscriptSource(transcriptSource.String)
	return &d, nil
}
