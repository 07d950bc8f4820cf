package sink

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cwsf/cwsf/internal/config"
)

const sqliteBatchSize = 500

var sqliteBaseColumns = map[string]bool{"id": true, "site_name": true, "source_url": true, "scrape_timestamp": true}

// SQLiteSink is the primary tabular sink: one table per site, with schema
// evolution as new fields appear and batched, transactional writes.
type SQLiteSink struct {
	db       *sql.DB
	site     string
	table    string
	mode     config.OutputMode
	columns  map[string]bool
	modeDone bool
}

// NewSQLiteSink opens (or creates) the database file for cfg and prepares
// its table, per destination's file-vs-directory rule: destination is
// treated as a file if it ends in ".db", else as a directory receiving
// "<site_name>.db". Schema evolution happens here, at open: each field in
// selectors.fields missing from the current table gets a text column.
func NewSQLiteSink(cfg *config.Config) (Sink, error) {
	table, err := sanitizedTableName(cfg.SiteName)
	if err != nil {
		return nil, err
	}

	path, err := resolveSQLitePath(cfg.Output.Destination, cfg.SiteName)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sink directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite sink: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite sink: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteSink{db: db, site: cfg.SiteName, table: table, mode: cfg.Output.Mode, columns: map[string]bool{}}
	if err := s.ensureTable(cfg.Selectors.Fields); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func resolveSQLitePath(destination, siteName string) (string, error) {
	if destination == "" {
		return "", fmt.Errorf("output destination is required for the sqlite sink")
	}
	if strings.HasSuffix(destination, ".db") {
		return destination, nil
	}
	return filepath.Join(destination, siteName+".db"), nil
}

// ensureTable creates the base table if needed, then adds a text column for
// each declared field missing from the current schema. Rows written by an
// earlier schema keep their prior columns and values.
func (s *SQLiteSink) ensureTable(fields map[string]config.FieldConfig) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_name TEXT NOT NULL,
		source_url TEXT,
		scrape_timestamp TEXT NOT NULL
	)`, quoteIdentifier(s.table))
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}

	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdentifier(s.table)))
	if err != nil {
		return fmt.Errorf("inspect table %s: %w", s.table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan table_info for %s: %w", s.table, err)
		}
		if !sqliteBaseColumns[name] {
			s.columns[name] = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for field := range fields {
		if sqliteBaseColumns[field] || s.columns[field] {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", quoteIdentifier(s.table), quoteIdentifier(field))
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("add column %s to %s: %w", field, s.table, err)
		}
		s.columns[field] = true
	}
	return nil
}

// Write inserts every record in a single transaction. Record keys that are
// not table columns are ignored; columns with no value in a record are
// inserted as null. mode=overwrite first deletes this site's existing rows
// in the same transaction.
func (s *SQLiteSink) Write(records []map[string]interface{}) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin sqlite sink transaction: %w", err)
	}
	defer tx.Rollback()

	if s.mode == config.OutputModeOverwrite && !s.modeDone {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE site_name = ?", quoteIdentifier(s.table)), s.site); err != nil {
			return fmt.Errorf("clear existing rows for overwrite: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i := 0; i < len(records); i += sqliteBatchSize {
		end := i + sqliteBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.insertBatch(tx, records[i:end], now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite sink transaction: %w", err)
	}
	s.modeDone = true
	return nil
}

func (s *SQLiteSink) insertBatch(tx *sql.Tx, batch []map[string]interface{}, timestamp string) error {
	for _, record := range batch {
		cols := []string{"site_name", "source_url", "scrape_timestamp"}
		vals := []interface{}{s.site, record["source_url"], timestamp}
		for field := range s.columns {
			cols = append(cols, field)
			vals = append(vals, stringify(record[field]))
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = quoteIdentifier(c)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdentifier(s.table), strings.Join(quoted, ", "), placeholders)
		if _, err := tx.Exec(query, vals...); err != nil {
			return fmt.Errorf("insert row into %s: %w", s.table, err)
		}
	}
	return nil
}

// stringify renders a field value as the text the schema-evolution columns
// store; absent values become nil, scalar values their string form.
func stringify(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
