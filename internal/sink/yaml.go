package sink

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwsf/cwsf/internal/config"
)

// YAMLSink accumulates records across the run and marshals the whole
// document on Close. Append mode loads and merges the existing file's
// records first.
type YAMLSink struct {
	path    string
	mode    config.OutputMode
	records []map[string]interface{}
}

// NewYAMLSink resolves the destination path; records accumulate in memory
// until Close.
func NewYAMLSink(cfg *config.Config) (Sink, error) {
	path, err := resolveFilePath(cfg.Output.Destination, cfg.SiteName, "yaml")
	if err != nil {
		return nil, err
	}
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("create yaml sink directory: %w", err)
	}
	return &YAMLSink{path: path, mode: cfg.Output.Mode}, nil
}

func (s *YAMLSink) Write(records []map[string]interface{}) error {
	s.records = append(s.records, records...)
	return nil
}

func (s *YAMLSink) Close() error {
	if s.mode == config.OutputModeAppend {
		if existing, err := loadExistingYAML(s.path); err == nil {
			s.records = append(existing, s.records...)
		}
	}
	data, err := yaml.Marshal(s.records)
	if err != nil {
		return fmt.Errorf("marshal yaml sink records: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

func loadExistingYAML(path string) ([]map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var existing []map[string]interface{}
	if err := yaml.Unmarshal(raw, &existing); err != nil {
		return nil, err
	}
	return existing, nil
}
