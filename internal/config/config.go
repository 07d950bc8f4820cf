package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cwsf/cwsf/internal/cwerr"
	"gopkg.in/yaml.v3"
)

// LoadDocument reads, defaults, overrides, and decodes one site document.
// It reports a parse error (KindConfigParse) distinct from a validation
// error for a missing, unreadable, empty, or malformed file. It returns
// both the typed Config and the raw defaulted/overridden map, since the
// validator needs the raw map to detect unknown keys under rate_limit and
// retry.
func LoadDocument(path string, overrides map[string]interface{}) (*Config, map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, cwerr.Wrap(cwerr.KindConfigParse, "", fmt.Sprintf("read config %s", path), err)
	}
	if len(data) == 0 {
		return nil, nil, cwerr.New(cwerr.KindConfigParse, "", fmt.Sprintf("config %s is empty", path))
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, cwerr.Wrap(cwerr.KindConfigParse, "", fmt.Sprintf("parse config %s", path), err)
	}
	if raw == nil {
		return nil, nil, cwerr.New(cwerr.KindConfigParse, "", fmt.Sprintf("config %s decodes to nothing", path))
	}

	merged := ApplyDefaults(raw)
	merged = ApplyOverrides(merged, overrides)

	cfg, err := decode(merged)
	if err != nil {
		return nil, nil, cwerr.Wrap(cwerr.KindConfigParse, "", fmt.Sprintf("decode config %s", path), err)
	}

	return cfg, merged, nil
}

// Discover lists every *.yaml/*.yml document directly inside dir (the scan
// is non-recursive), in sorted order, matching the same filename rules the
// watcher applies: dotfiles and names ending in "~" or ".tmp" are skipped.
// A symbolic link to a file is followed; an entry whose target is a
// directory (even one ending in .yaml/.yml) is skipped.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan config directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// decode re-marshals a defaulted/overridden raw map through YAML into the
// typed Config struct, so the generic map-merge logic in ApplyDefaults and
// ApplyOverrides stays independent of the struct shape.
func decode(raw map[string]interface{}) (*Config, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
