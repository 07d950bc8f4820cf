package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cwsf/cwsf/internal/config"
	"github.com/cwsf/cwsf/internal/fetch"
	"github.com/cwsf/cwsf/internal/ratelimit"
	"github.com/cwsf/cwsf/internal/sink"
)

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	plain, err := fetch.NewPlainFetcher(nil)
	if err != nil {
		t.Fatalf("NewPlainFetcher: %v", err)
	}
	return New(plain, nil, ratelimit.NewRegistry(nil), sink.NewRegistry(), nil)
}

func TestRunSinglePageScrapeWithTransforms(t *testing.T) {
	body := `<html><body>
		<article class="book"><h2>  Dune  </h2><span class="price">$9.99</span></article>
		<article class="book"><h2>  Neuromancer  </h2><span class="price">$12.50</span></article>
	</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := &config.Config{
		SiteName: "books",
		Version:  "1.0",
		BaseURL:  srv.URL + "/books",
		Method:   http.MethodGet,
		Selectors: config.SelectorsConfig{
			Container: "article.book",
			Fields: map[string]config.FieldConfig{
				"title": {Expression: "h2::text", Kind: config.SelectorKindCSS, Transform: &config.Transform{Type: "strip"}},
				"price": {Expression: "span.price::text", Kind: config.SelectorKindCSS, Transform: &config.Transform{Type: "regex", Pattern: `([0-9.]+)`}},
			},
		},
		RateLimit: config.RateLimitConfig{DelaySeconds: 0, MaxConcurrent: 1},
		Retry:     config.RetryConfig{MaxRetries: 0, BackoffFactor: 2},
		Output:    config.OutputConfig{Format: "json", Destination: dir, Mode: config.OutputModeOverwrite},
	}

	p := newTestPipeline(t)
	result := p.Run(context.Background(), cfg)

	if len(result.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", result.Errors)
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(result.Records), result.Records)
	}
	if result.Records[0]["title"] != "Dune" || result.Records[0]["price"] != "9.99" {
		t.Fatalf("unexpected first record: %+v", result.Records[0])
	}
	if result.Records[1]["title"] != "Neuromancer" || result.Records[1]["price"] != "12.50" {
		t.Fatalf("unexpected second record: %+v", result.Records[1])
	}

	data, err := os.ReadFile(filepath.Join(dir, "books.jsonl"))
	if err != nil {
		t.Fatalf("read sink output: %v", err)
	}
	if !strings.Contains(string(data), "Dune") {
		t.Fatalf("expected sink output to contain a scraped record, got %q", data)
	}
}

func TestRunRetryExhaustionRecordsFailureContext(t *testing.T) {
	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := &config.Config{
		SiteName: "flaky",
		Version:  "1.0",
		BaseURL:  srv.URL + "/list",
		Method:   http.MethodGet,
		Selectors: config.SelectorsConfig{
			Fields: map[string]config.FieldConfig{
				"title": {Expression: "h2::text", Kind: config.SelectorKindCSS},
			},
		},
		RateLimit: config.RateLimitConfig{DelaySeconds: 0, MaxConcurrent: 1},
		Retry:     config.RetryConfig{MaxRetries: 2, BackoffFactor: 0.05},
		Output:    config.OutputConfig{Format: "json", Destination: t.TempDir(), Mode: config.OutputModeAppend},
	}

	p := newTestPipeline(t)
	result := p.Run(context.Background(), cfg)

	if fetches != 3 {
		t.Fatalf("expected exactly 3 fetches (1 + 2 retries), got %d", fetches)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one error after exhaustion, got %v", result.Errors)
	}
	if len(result.FailureContexts) != 1 {
		t.Fatalf("expected one failure context, got %d", len(result.FailureContexts))
	}
	fc := result.FailureContexts[0]
	if fc.HTTPStatus != http.StatusServiceUnavailable {
		t.Fatalf("expected http_status 503 on the failure context, got %d", fc.HTTPStatus)
	}
	if fc.RetriesAttempted != 2 {
		t.Fatalf("expected retries_attempted 2, got %d", fc.RetriesAttempted)
	}
}

func TestRunURLPatternPaginationStopsOnZeroRecords(t *testing.T) {
	var fetchedPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetchedPaths = append(fetchedPaths, r.URL.RawQuery)
		page := r.URL.Query().Get("p")
		if page == "3" {
			w.Write([]byte(`<html><body></body></html>`))
			return
		}
		w.Write([]byte(`<html><body><article class="item"><h2>item</h2></article></body></html>`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := &config.Config{
		SiteName: "listing",
		Version:  "1.0",
		BaseURL:  srv.URL + "/list?p={p}",
		Method:   http.MethodGet,
		Selectors: config.SelectorsConfig{
			Container: "article.item",
			Fields: map[string]config.FieldConfig{
				"title": {Expression: "h2::text", Kind: config.SelectorKindCSS},
			},
		},
		Pagination: config.PaginationConfig{Type: config.PaginationURLPattern, Param: "p", Start: 1, MaxPages: 3},
		RateLimit:  config.RateLimitConfig{DelaySeconds: 0, MaxConcurrent: 1},
		Retry:      config.RetryConfig{MaxRetries: 0, BackoffFactor: 2},
		Output:     config.OutputConfig{Format: "json", Destination: dir, Mode: config.OutputModeOverwrite},
	}

	p := newTestPipeline(t)
	result := p.Run(context.Background(), cfg)

	if len(fetchedPaths) != 3 {
		t.Fatalf("expected 3 fetches (pages 1-3), got %d: %v", len(fetchedPaths), fetchedPaths)
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 records from pages 1-2, got %d", len(result.Records))
	}
}
