// SPDX-License-Identifier: MIT

package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// Config defines SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int // keep small; SQLite permits one writer
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  60 * time.Second,
		MaxOpenConns: 4,
	}
}

// DB owns the process-exclusive SQLite handle.
type DB struct {
	sql *sql.DB
}

// Open initializes the SQLite connection pool with mandatory PRAGMAs and
// runs migrations. WAL allows concurrent readers; the busy timeout covers
// writer contention between pipeline goroutines.
func Open(dbPath string, cfg Config) (*DB, error) {
	// PRAGMAs go into the DSN so they apply to every connection in the pool.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: migrate failed: %w", err)
	}

	return d, nil
}

// Close runs a final optimize pass and closes the pool.
func (d *DB) Close() error {
	_, _ = d.sql.Exec(`PRAGMA optimize`)
	return d.sql.Close()
}

func (d *DB) migrate() error {
	for _, stmt := range []string{schemaFeeds, schemaDownloads, schemaAppState, schemaIndexes, schemaTriggers} {
		if _, err := d.sql.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// timeFmt renders a timestamp the way every column stores it: RFC3339, UTC,
// second precision. Lexicographic order matches chronological order.
func timeFmt(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func timeParse(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeFmt(*t)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}
