package sink

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cwsf/cwsf/internal/config"
)

// sqlFamilySink is the shared shape behind the MySQL and PostgreSQL sinks:
// both need the same evolve-at-open-from-declared-fields and batched-insert
// behavior as the primary SQLite sink, differing only in driver name,
// placeholder style, identifier quoting, and autoincrement column syntax.
type sqlFamilySink struct {
	db          *sql.DB
	site        string
	table       string
	mode        config.OutputMode
	columns     map[string]bool
	modeDone    bool
	placeholder func(i int) string
	quote       func(ident string) string
}

func newSQLFamilySink(driver, dsn, siteName string, fields map[string]config.FieldConfig, mode config.OutputMode, idColumnDDL string, placeholder func(int) string, quote func(string) string) (*sqlFamilySink, error) {
	table, err := sanitizedTableName(siteName)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("output destination (connection string) is required for the %s sink", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s sink: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s sink: %w", driver, err)
	}

	s := &sqlFamilySink{db: db, site: siteName, table: table, mode: mode, columns: map[string]bool{}, placeholder: placeholder, quote: quote}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id %s,
		site_name TEXT NOT NULL,
		source_url TEXT,
		scrape_timestamp TEXT NOT NULL
	)`, quote(table), idColumnDDL)
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	if err := s.ensureColumns(fields); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// ensureColumns adds a text column for each declared field missing from the
// current table. Both MySQL and PostgreSQL expose the live column set
// through information_schema, so the discovery query is shared.
func (s *sqlFamilySink) ensureColumns(fields map[string]config.FieldConfig) error {
	rows, err := s.db.Query(
		"SELECT column_name FROM information_schema.columns WHERE table_name = "+s.placeholder(1), s.table)
	if err != nil {
		return fmt.Errorf("inspect table %s: %w", s.table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scan columns for %s: %w", s.table, err)
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
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", s.quote(s.table), s.quote(field))
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("add column %s to %s: %w", field, s.table, err)
		}
		s.columns[field] = true
	}
	return nil
}

// write inserts every record in one transaction. Record keys that are not
// table columns are ignored; columns with no value in a record are inserted
// as null.
func (s *sqlFamilySink) write(records []map[string]interface{}) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", s.table, err)
	}
	defer tx.Rollback()

	if s.mode == config.OutputModeOverwrite && !s.modeDone {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE site_name = %s", s.quote(s.table), s.placeholder(1)), s.site); err != nil {
			return fmt.Errorf("clear existing rows for overwrite: %w", err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, rec := range records {
		cols := []string{"site_name", "source_url", "scrape_timestamp"}
		vals := []interface{}{s.site, rec["source_url"], now}
		for field := range s.columns {
			cols = append(cols, field)
			vals = append(vals, stringify(rec[field]))
		}
		quoted := make([]string, len(cols))
		placeholders := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = s.quote(c)
			placeholders[i] = s.placeholder(i + 1)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.quote(s.table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
		if _, err := tx.Exec(query, vals...); err != nil {
			return fmt.Errorf("insert row into %s: %w", s.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s transaction: %w", s.table, err)
	}
	s.modeDone = true
	return nil
}

func (s *sqlFamilySink) Close() error {
	return s.db.Close()
}

func questionPlaceholder(int) string { return "?" }

// backtickQuote quotes a MySQL identifier, which rejects double-quoted
// identifiers unless the session runs in ANSI_QUOTES mode.
func backtickQuote(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
}

func dollarPlaceholder(i int) string { return fmt.Sprintf("$%d", i) }
