package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "site.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadDocumentMissingFile(t *testing.T) {
	_, _, err := LoadDocument(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err == nil {
		t.Fatal("expected a parse error for a missing file")
	}
}

func TestLoadDocumentEmptyFile(t *testing.T) {
	path := writeTempConfig(t, "")
	_, _, err := LoadDocument(path, nil)
	if err == nil {
		t.Fatal("expected a parse error for an empty file")
	}
}

func TestLoadDocumentMalformed(t *testing.T) {
	path := writeTempConfig(t, "site_name: [unterminated")
	_, _, err := LoadDocument(path, nil)
	if err == nil {
		t.Fatal("expected a parse error for malformed yaml")
	}
}

func TestDiscoverIgnoresDotfilesTildeTmpAndNonYAML(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yml", ".hidden.yaml", "c.yaml~", "d.yaml.tmp", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	paths, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 discoverable configs, got %d: %v", len(paths), paths)
	}
}

func TestDiscoverSkipsDirectoriesWithYAMLSuffix(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "weird.yaml"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	paths, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("expected directories to be skipped, got %v", paths)
	}
}

func TestLoadDocumentAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
site_name: books
base_url: http://h/books
selectors:
  container: "article.book"
  fields:
    title:
      expression: "h2::text"
      kind: css
`)
	cfg, _, err := LoadDocument(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Version != "1.0" {
		t.Errorf("expected default version 1.0, got %q", cfg.Version)
	}
	if cfg.Method != "GET" {
		t.Errorf("expected default method GET, got %q", cfg.Method)
	}
	if cfg.Pagination.Type != PaginationNone {
		t.Errorf("expected default pagination type none, got %q", cfg.Pagination.Type)
	}
	if cfg.RateLimit.DelaySeconds != 1.0 || cfg.RateLimit.MaxConcurrent != 1 {
		t.Errorf("expected default rate limit 1.0/1, got %+v", cfg.RateLimit)
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.BackoffFactor != 2.0 {
		t.Errorf("expected default retry 3/2.0, got %+v", cfg.Retry)
	}
	if cfg.Priority != 10 {
		t.Errorf("expected default priority 10, got %d", cfg.Priority)
	}
}

func TestLoadDocumentPartialSubtreeMergesOneLevel(t *testing.T) {
	path := writeTempConfig(t, `
site_name: books
base_url: http://h/books
selectors:
  fields:
    title:
      expression: "h2::text"
      kind: css
rate_limit:
  delay_seconds: 5
`)
	cfg, _, err := LoadDocument(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.DelaySeconds != 5 {
		t.Errorf("expected provided delay_seconds to survive, got %v", cfg.RateLimit.DelaySeconds)
	}
	if cfg.RateLimit.MaxConcurrent != 1 {
		t.Errorf("expected missing max_concurrent to adopt default, got %v", cfg.RateLimit.MaxConcurrent)
	}
}

func TestApplyDefaultsIdempotent(t *testing.T) {
	raw := map[string]interface{}{
		"site_name": "books",
		"rate_limit": map[string]interface{}{
			"delay_seconds": 5.0,
		},
	}
	once := ApplyDefaults(raw)
	twice := ApplyDefaults(once)

	onceRL := once["rate_limit"].(map[string]interface{})
	twiceRL := twice["rate_limit"].(map[string]interface{})
	if onceRL["delay_seconds"] != twiceRL["delay_seconds"] || onceRL["max_concurrent"] != twiceRL["max_concurrent"] {
		t.Fatalf("ApplyDefaults is not idempotent: %+v vs %+v", onceRL, twiceRL)
	}
}

func TestApplyOverridesIgnoresNil(t *testing.T) {
	raw := map[string]interface{}{"site_name": "books", "priority": 10}
	overridden := ApplyOverrides(raw, map[string]interface{}{"priority": nil, "site_name": "books2"})
	if overridden["priority"] != 10 {
		t.Errorf("expected nil override to be ignored, got %v", overridden["priority"])
	}
	if overridden["site_name"] != "books2" {
		t.Errorf("expected non-nil override to apply, got %v", overridden["site_name"])
	}
}

func baseValidConfig() *Config {
	return &Config{
		SiteName: "books",
		Version:  "1.0",
		BaseURL:  "http://h/books",
		Method:   "GET",
		Renderer: "plain",
		Selectors: SelectorsConfig{
			Container: "article.book",
			Fields: map[string]FieldConfig{
				"title": {Expression: "h2::text", Kind: SelectorKindCSS},
			},
		},
		Pagination: PaginationConfig{Type: PaginationNone, Start: 1, MaxPages: 1},
		Output:     OutputConfig{Format: "sqlite", Destination: "./output", Mode: OutputModeAppend},
		RateLimit:  RateLimitConfig{DelaySeconds: 1, MaxConcurrent: 1},
		Retry:      RetryConfig{MaxRetries: 3, BackoffFactor: 2},
		Priority:   10,
		Gotify:     GotifyConfig{Priority: 5},
	}
}

func TestValidateValidConfig(t *testing.T) {
	cfg := baseValidConfig()
	result := Validate(cfg, map[string]interface{}{})
	if !result.IsValid {
		t.Fatalf("expected valid config, got errors: %+v", result.Errors)
	}
}

func TestValidateMissingSiteName(t *testing.T) {
	cfg := baseValidConfig()
	cfg.SiteName = ""
	result := Validate(cfg, map[string]interface{}{})
	if result.IsValid {
		t.Fatal("expected invalid config for missing site_name")
	}
}

func TestValidateEmptySelectorFields(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Selectors.Fields = nil
	result := Validate(cfg, map[string]interface{}{})
	if result.IsValid {
		t.Fatal("expected invalid config for empty selectors.fields")
	}
}

func TestValidateURLPatternRequiresPlaceholder(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Pagination.Type = PaginationURLPattern
	cfg.Pagination.Param = "p"
	result := Validate(cfg, map[string]interface{}{})
	if result.IsValid {
		t.Fatal("expected invalid config when base_url lacks the {p} placeholder")
	}

	cfg.BaseURL = "http://h/list?p={p}"
	result = Validate(cfg, map[string]interface{}{})
	if !result.IsValid {
		t.Fatalf("expected valid config once placeholder present, got: %+v", result.Errors)
	}
}

func TestValidateNextLinkRequiresSelector(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Pagination.Type = PaginationNextLink
	result := Validate(cfg, map[string]interface{}{})
	if result.IsValid {
		t.Fatal("expected invalid config for next_link pagination without a selector")
	}
}

func TestValidateScrollRequiresHeadlessRenderer(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Pagination.Type = PaginationScroll
	result := Validate(cfg, map[string]interface{}{})
	if result.IsValid {
		t.Fatal("expected invalid config for scroll pagination with plain renderer")
	}

	cfg.Renderer = "headless"
	result = Validate(cfg, map[string]interface{}{})
	if !result.IsValid {
		t.Fatalf("expected valid config once renderer is headless, got: %+v", result.Errors)
	}
}

func TestValidateAuthRequiresNameOrSelector(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Auth = &AuthConfig{LoginURL: "http://h/login"}
	result := Validate(cfg, map[string]interface{}{})
	if result.IsValid {
		t.Fatal("expected invalid config for auth without a token name or selector")
	}

	cfg.Auth.TokenName = "session"
	result = Validate(cfg, map[string]interface{}{})
	if !result.IsValid {
		t.Fatalf("expected valid config once token_name is set, got: %+v", result.Errors)
	}
}

func TestValidateUnknownKeysUnderRateLimitAreWarnings(t *testing.T) {
	cfg := baseValidConfig()
	raw := map[string]interface{}{
		"rate_limit": map[string]interface{}{
			"delay_seconds":  1.0,
			"max_concurrent": 1,
			"jitter_seconds": 0.5,
		},
	}
	result := Validate(cfg, raw)
	if !result.IsValid {
		t.Fatalf("unknown rate_limit keys must warn, not fail validation: %+v", result.Errors)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Field != "rate_limit.jitter_seconds" {
		t.Errorf("expected one warning for rate_limit.jitter_seconds, got %+v", result.Warnings)
	}
}
