package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwsf/cwsf/internal/config"
)

func TestJSONSinkWritesOneObjectPerLine(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		SiteName: "example_site",
		Output: config.OutputConfig{
			Format:      "json",
			Destination: dir,
			Mode:        config.OutputModeOverwrite,
		},
	}
	s, err := NewJSONSink(cfg)
	if err != nil {
		t.Fatalf("NewJSONSink: %v", err)
	}
	records := []map[string]interface{}{
		{"title": "first"},
		{"title": "second"},
	}
	if err := s.Write(records); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "example_site.jsonl"))
	if err != nil {
		t.Fatalf("read jsonl: %v", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var lines int
	for scanner.Scan() {
		var rec map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal line %q: %v", scanner.Text(), err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", lines)
	}
}
