package sink

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cwsf/cwsf/internal/config"
)

func newSQLiteTestConfig(t *testing.T, mode config.OutputMode, fieldNames ...string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	fields := make(map[string]config.FieldConfig, len(fieldNames))
	for _, name := range fieldNames {
		fields[name] = config.FieldConfig{Expression: "." + name, Kind: config.SelectorKindCSS}
	}
	return &config.Config{
		SiteName:  "example_site",
		Selectors: config.SelectorsConfig{Fields: fields},
		Output: config.OutputConfig{
			Format:      "sqlite",
			Destination: filepath.Join(dir, "out.db"),
			Mode:        mode,
		},
	}
}

func TestSQLiteSinkCreatesTableAndInsertsRows(t *testing.T) {
	cfg := newSQLiteTestConfig(t, config.OutputModeAppend, "title")
	s, err := NewSQLiteSink(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	defer s.Close()

	records := []map[string]interface{}{
		{"title": "first", "source_url": "https://example.com/1"},
		{"title": "second", "source_url": "https://example.com/2"},
	}
	if err := s.Write(records); err != nil {
		t.Fatalf("Write: %v", err)
	}

	db, err := sql.Open("sqlite3", cfg.Output.Destination)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "example_site"`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
}

func TestSQLiteSinkEvolvesSchemaAtOpenWhenFieldsGrow(t *testing.T) {
	cfg := newSQLiteTestConfig(t, config.OutputModeAppend, "title")
	s, err := NewSQLiteSink(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	if err := s.Write([]map[string]interface{}{{"title": "first"}}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen with an extra declared field: the new column appears, prior
	// rows keep their values with the new column NULL.
	cfg.Selectors.Fields["price"] = config.FieldConfig{Expression: ".price", Kind: config.SelectorKindCSS}
	s, err = NewSQLiteSink(cfg)
	if err != nil {
		t.Fatalf("reopen NewSQLiteSink: %v", err)
	}
	defer s.Close()
	if err := s.Write([]map[string]interface{}{{"title": "second", "price": "9.99"}}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	db, err := sql.Open("sqlite3", cfg.Output.Destination)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer db.Close()

	var price sql.NullString
	if err := db.QueryRow(`SELECT price FROM "example_site" WHERE title = 'second'`).Scan(&price); err != nil {
		t.Fatalf("query evolved column: %v", err)
	}
	if !price.Valid || price.String != "9.99" {
		t.Fatalf("expected price '9.99', got %+v", price)
	}

	var firstPrice sql.NullString
	if err := db.QueryRow(`SELECT price FROM "example_site" WHERE title = 'first'`).Scan(&firstPrice); err != nil {
		t.Fatalf("query first row: %v", err)
	}
	if firstPrice.Valid {
		t.Fatalf("expected first row's price to be NULL, got %q", firstPrice.String)
	}
}

func TestSQLiteSinkIgnoresUndeclaredRecordKeys(t *testing.T) {
	cfg := newSQLiteTestConfig(t, config.OutputModeAppend, "title")
	s, err := NewSQLiteSink(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	defer s.Close()

	if err := s.Write([]map[string]interface{}{{"title": "kept", "surprise": "dropped"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	db, err := sql.Open("sqlite3", cfg.Output.Destination)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('example_site') WHERE name = 'surprise'`).Scan(&count); err != nil {
		t.Fatalf("inspect columns: %v", err)
	}
	if count != 0 {
		t.Fatal("expected undeclared record key not to become a column")
	}
	var title string
	if err := db.QueryRow(`SELECT title FROM "example_site"`).Scan(&title); err != nil {
		t.Fatalf("query row: %v", err)
	}
	if title != "kept" {
		t.Fatalf("expected declared field written, got %q", title)
	}
}

func TestSQLiteSinkOverwriteModeDeletesExistingSiteRowsOnce(t *testing.T) {
	cfg := newSQLiteTestConfig(t, config.OutputModeOverwrite, "title")
	seed, err := NewSQLiteSink(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteSink (seed): %v", err)
	}
	if err := seed.Write([]map[string]interface{}{{"title": "stale"}}); err != nil {
		t.Fatalf("seed write: %v", err)
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("close seed sink: %v", err)
	}

	s, err := NewSQLiteSink(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	defer s.Close()

	if err := s.Write([]map[string]interface{}{{"title": "fresh-a"}}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.Write([]map[string]interface{}{{"title": "fresh-b"}}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	db, err := sql.Open("sqlite3", cfg.Output.Destination)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "example_site"`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected overwrite mode to delete stale rows only once, leaving 2 rows, got %d", count)
	}

	var staleCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "example_site" WHERE title = 'stale'`).Scan(&staleCount); err != nil {
		t.Fatalf("count stale rows: %v", err)
	}
	if staleCount != 0 {
		t.Fatalf("expected stale row to be deleted, found %d", staleCount)
	}
}

func TestSanitizedTableNameReplacesNonIdentifierCharacters(t *testing.T) {
	name, err := sanitizedTableName("My Site #1!")
	if err != nil {
		t.Fatalf("sanitizedTableName: %v", err)
	}
	if name != "my_site__1_" {
		t.Fatalf("expected sanitized, case-folded name 'my_site__1_', got %q", name)
	}
}

func TestSanitizedTableNameRejectsAllNonAlphanumeric(t *testing.T) {
	if _, err := sanitizedTableName("####"); err == nil {
		t.Fatal("expected error for a site name with no alphanumeric characters")
	}
}

func TestResolveSQLitePathTreatsDbSuffixAsLiteralFile(t *testing.T) {
	path, err := resolveSQLitePath("/tmp/custom.db", "example_site")
	if err != nil {
		t.Fatalf("resolveSQLitePath: %v", err)
	}
	if path != "/tmp/custom.db" {
		t.Fatalf("expected literal file path, got %q", path)
	}
}

func TestResolveSQLitePathTreatsOtherDestinationsAsDirectory(t *testing.T) {
	path, err := resolveSQLitePath("/tmp/output", "example_site")
	if err != nil {
		t.Fatalf("resolveSQLitePath: %v", err)
	}
	if path != filepath.Join("/tmp/output", "example_site.db") {
		t.Fatalf("expected directory-relative path, got %q", path)
	}
}

func TestResolveSQLitePathRequiresDestination(t *testing.T) {
	if _, err := resolveSQLitePath("", "example_site"); err == nil {
		t.Fatal("expected error for empty destination")
	}
}
