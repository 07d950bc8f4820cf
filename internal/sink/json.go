package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cwsf/cwsf/internal/config"
)

// JSONSink writes one JSON object per line (JSONL), since records arrive
// batch-by-batch across a run rather than as one final array.
type JSONSink struct {
	file   *os.File
	writer *bufio.Writer
}

// NewJSONSink opens (or creates/truncates) the destination JSONL file.
func NewJSONSink(cfg *config.Config) (Sink, error) {
	path, err := resolveFilePath(cfg.Output.Destination, cfg.SiteName, "jsonl")
	if err != nil {
		return nil, err
	}
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("create json sink directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if cfg.Output.Mode == config.OutputModeAppend {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open json sink: %w", err)
	}
	return &JSONSink{file: f, writer: bufio.NewWriter(f)}, nil
}

func (s *JSONSink) Write(records []map[string]interface{}) error {
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal json record: %w", err)
		}
		if _, err := s.writer.Write(line); err != nil {
			return fmt.Errorf("write json record: %w", err)
		}
		if err := s.writer.WriteByte('\n'); err != nil {
			return err
		}
	}
	return s.writer.Flush()
}

func (s *JSONSink) Close() error {
	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
