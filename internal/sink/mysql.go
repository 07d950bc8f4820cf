package sink

import (
	_ "github.com/go-sql-driver/mysql"

	"github.com/cwsf/cwsf/internal/config"
)

// MySQLSink writes records into a MySQL table (BIGINT AUTO_INCREMENT
// PRIMARY KEY id column, backtick-quoted identifiers), sharing its
// schema-evolution and batched-insert behavior with the PostgreSQL sink
// via sqlFamilySink.
type MySQLSink struct {
	*sqlFamilySink
}

// NewMySQLSink treats cfg.Output.Destination as a MySQL DSN
// (e.g. "user:pass@tcp(host:3306)/dbname").
func NewMySQLSink(cfg *config.Config) (Sink, error) {
	base, err := newSQLFamilySink("mysql", cfg.Output.Destination, cfg.SiteName, cfg.Selectors.Fields, cfg.Output.Mode, "BIGINT AUTO_INCREMENT PRIMARY KEY", questionPlaceholder, backtickQuote)
	if err != nil {
		return nil, err
	}
	return &MySQLSink{sqlFamilySink: base}, nil
}

func (s *MySQLSink) Write(records []map[string]interface{}) error {
	return s.write(records)
}
