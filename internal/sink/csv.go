package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"

	"github.com/cwsf/cwsf/internal/config"
)

// CSVSink writes one row per record to a CSV file, with a header row
// derived from the union of field names seen in the first non-empty
// batch.
type CSVSink struct {
	file         *os.File
	writer       *csv.Writer
	columns      []string
	headerNeeded bool
}

// NewCSVSink opens (or creates/truncates) the destination CSV file. The
// header row is only written once: on overwrite it always writes fresh
// (the file was just truncated), on append only if the file was empty or
// didn't exist yet, so appending to an existing CSV never duplicates the
// header in the middle of the file.
func NewCSVSink(cfg *config.Config) (Sink, error) {
	path, err := resolveFilePath(cfg.Output.Destination, cfg.SiteName, "csv")
	if err != nil {
		return nil, err
	}
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("create csv sink directory: %w", err)
	}

	headerNeeded := true
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if cfg.Output.Mode == config.OutputModeAppend {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			headerNeeded = false
		}
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv sink: %w", err)
	}
	return &CSVSink{file: f, writer: csv.NewWriter(f), headerNeeded: headerNeeded}, nil
}

func (s *CSVSink) Write(records []map[string]interface{}) error {
	if len(records) == 0 {
		return nil
	}
	if s.columns == nil {
		s.columns = unionFieldNames(records)
		if s.headerNeeded {
			if err := s.writer.Write(s.columns); err != nil {
				return fmt.Errorf("write csv header: %w", err)
			}
			s.headerNeeded = false
		}
	}
	for _, rec := range records {
		row := make([]string, len(s.columns))
		for i, col := range s.columns {
			row[i] = fmt.Sprintf("%v", valueOrEmpty(rec[col]))
		}
		if err := s.writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	s.writer.Flush()
	return s.writer.Error()
}

func (s *CSVSink) Close() error {
	s.writer.Flush()
	return s.file.Close()
}

func unionFieldNames(records []map[string]interface{}) []string {
	seen := map[string]bool{}
	for _, rec := range records {
		for k := range rec {
			seen[k] = true
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func valueOrEmpty(v interface{}) interface{} {
	if v == nil {
		return ""
	}
	return v
}
