// Package sink writes scraped records to a destination. The primary sink
// is the SQLite tabular store; the registry also carries CSV, JSON, XML,
// YAML, Excel, MySQL, PostgreSQL, and MongoDB sinks behind the same
// minimal Sink contract, rounded out with a webhook stub.
package sink

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/cwsf/cwsf/internal/config"
)

var identCaser = cases.Lower(language.Und)

// Sink persists one batch of records for a site, then can be closed.
type Sink interface {
	Write(records []map[string]interface{}) error
	Close() error
}

// Constructor builds a Sink from a site's output configuration.
type Constructor func(cfg *config.Config) (Sink, error)

// ErrUnsupportedFormat is returned by Registry.New for an unregistered
// format name.
type ErrUnsupportedFormat struct {
	Format string
}

func (e *ErrUnsupportedFormat) Error() string {
	return fmt.Sprintf("unsupported output format: %q", e.Format)
}

// Registry maps an output format name to the constructor that builds its
// Sink, as an open, registerable map rather than a fixed switch.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a Registry pre-populated with every sink format this
// framework ships.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("sqlite", NewSQLiteSink)
	r.Register("csv", NewCSVSink)
	r.Register("json", NewJSONSink)
	r.Register("xml", NewXMLSink)
	r.Register("yaml", NewYAMLSink)
	r.Register("excel", NewExcelSink)
	r.Register("mysql", NewMySQLSink)
	r.Register("postgresql", NewPostgreSQLSink)
	r.Register("mongodb", NewMongoDBSink)
	r.Register("webhook", NewWebhookSink)
	return r
}

// Register adds or replaces the constructor for a format name.
func (r *Registry) Register(format string, ctor Constructor) {
	r.constructors[format] = ctor
}

// New builds the Sink for cfg.Output.Format, or ErrUnsupportedFormat if no
// constructor is registered for it.
func (r *Registry) New(cfg *config.Config) (Sink, error) {
	format := cfg.Output.Format
	ctor, ok := r.constructors[format]
	if !ok {
		return nil, &ErrUnsupportedFormat{Format: format}
	}
	return ctor(cfg)
}

// sanitizedTableName replaces every character outside [A-Za-z0-9_] with
// "_" and case-folds the result, so a site_name differing only in case
// from another cannot produce two distinct identifiers across sink
// backends with different case-sensitivity rules; SQL reserved words are
// not checked for. A name that ends up with no alphanumeric
// character is rejected, per the tabular sink's table-naming rule.
var nonIdentChar = regexp.MustCompile(`[^A-Za-z0-9_]`)
var hasAlnum = regexp.MustCompile(`[A-Za-z0-9]`)

func sanitizedTableName(siteName string) (string, error) {
	name := nonIdentChar.ReplaceAllString(siteName, "_")
	if !hasAlnum.MatchString(name) {
		return "", fmt.Errorf("site_name %q yields no usable table name", siteName)
	}
	return identCaser.String(name), nil
}

// quoteIdentifier quotes a SQL identifier with double quotes.
func quoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
