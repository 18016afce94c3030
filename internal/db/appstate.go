// SPDX-License-Identifier: MIT

package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AppStateStore persists process-global state in the single "global" row.
// Currently that is only the yt-dlp self-update watermark.
type AppStateStore struct {
	db *sql.DB
}

// NewAppStateStore returns a store over the shared handle.
func NewAppStateStore(d *DB) *AppStateStore {
	return &AppStateStore{db: d.sql}
}

// GetLastYtdlpUpdate returns the last successful fetcher self-update time,
// or nil when no update has ever run.
func (s *AppStateStore) GetLastYtdlpUpdate(ctx context.Context) (*time.Time, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_yt_dlp_update FROM app_state WHERE id = 'global'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, opErr("get last ytdlp update", "", "", err)
	}
	t, ok := parseNullTime(v)
	if !ok {
		return nil, nil
	}
	return t, nil
}

// SetLastYtdlpUpdate records a successful fetcher self-update.
func (s *AppStateStore) SetLastYtdlpUpdate(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_state (id, last_yt_dlp_update) VALUES ('global', ?)
		ON CONFLICT(id) DO UPDATE SET last_yt_dlp_update = excluded.last_yt_dlp_update`,
		timeFmt(at))
	return opErr("set last ytdlp update", "", "", err)
}
