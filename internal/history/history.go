// Package history persists a per-run record of each site's outcome into a
// lightweight, append-only SQLite store, using the same driver as the
// output sink (github.com/mattn/go-sqlite3).
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath is the run-history database's default location.
const DefaultPath = "./output/cwsf_meta.db"

// Status enumerates a run's outcome for one site.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
)

// Run is one recorded outcome for a site at a point in time.
type Run struct {
	ID           int64
	SiteName     string
	Timestamp    time.Time
	RecordsCount int
	Status       Status
	ErrorCount   int
	LastError    string
}

// Store wraps the run_history table.
type Store struct {
	db *sql.DB
}

// Open creates the database file and table if needed and returns a Store.
// An empty path falls back to DefaultPath.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open run history store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping run history store: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS run_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_name TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		records_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		error_count INTEGER NOT NULL,
		last_error TEXT
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create run_history table: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordRun appends one run outcome. History is append-only: nothing is
// ever updated or deleted here.
func (s *Store) RecordRun(run Run) error {
	_, err := s.db.Exec(
		`INSERT INTO run_history (site_name, timestamp, records_count, status, error_count, last_error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.SiteName, run.Timestamp.UTC().Format(time.RFC3339), run.RecordsCount, string(run.Status), run.ErrorCount, nullableString(run.LastError),
	)
	if err != nil {
		return fmt.Errorf("record run for %s: %w", run.SiteName, err)
	}
	return nil
}

// LastRuns returns the most recent run for every distinct site, ordered by
// site name.
func (s *Store) LastRuns() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT h1.id, h1.site_name, h1.timestamp, h1.records_count, h1.status, h1.error_count, h1.last_error
		FROM run_history h1
		JOIN (
			SELECT site_name, MAX(timestamp) AS max_ts
			FROM run_history
			GROUP BY site_name
		) h2 ON h1.site_name = h2.site_name AND h1.timestamp = h2.max_ts
		ORDER BY h1.site_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query last runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// SiteHistory returns up to limit most-recent runs for one site, newest
// first.
func (s *Store) SiteHistory(siteName string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(
		`SELECT id, site_name, timestamp, records_count, status, error_count, last_error
		 FROM run_history WHERE site_name = ? ORDER BY timestamp DESC LIMIT ?`,
		siteName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query site history for %s: %w", siteName, err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var (
			run       Run
			status    string
			ts        string
			lastError sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.SiteName, &ts, &run.RecordsCount, &status, &run.ErrorCount, &lastError); err != nil {
			return nil, fmt.Errorf("scan run_history row: %w", err)
		}
		run.Status = Status(status)
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			run.Timestamp = parsed
		}
		if lastError.Valid {
			run.LastError = lastError.String
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
