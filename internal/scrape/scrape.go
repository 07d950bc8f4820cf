// Package scrape binds the fetcher, rate limiter, paginator, extractor,
// and output sink into the single-site pipeline the orchestrator drives
// per job: fetch -> parse -> transform -> emit.
package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/cwsf/cwsf/internal/config"
	"github.com/cwsf/cwsf/internal/cwerr"
	"github.com/cwsf/cwsf/internal/extract"
	"github.com/cwsf/cwsf/internal/fetch"
	"github.com/cwsf/cwsf/internal/obslog"
	"github.com/cwsf/cwsf/internal/paginate"
	"github.com/cwsf/cwsf/internal/ratelimit"
	"github.com/cwsf/cwsf/internal/sink"
)

const defaultFetchTimeout = 30 * time.Second

// FailureContext carries the structured detail the notifier and run history
// attach to a site failure.
type FailureContext struct {
	SiteName         string
	URL              string
	HTTPStatus       int
	ErrorType        string
	ErrorMessage     string
	RetriesAttempted int
	Timestamp        time.Time
}

// Result is one site's outcome: the records produced, any per-page errors,
// and zero or more failure contexts for the notifier/history to consume.
type Result struct {
	SiteName        string
	Records         []map[string]interface{}
	Errors          []error
	FailureContexts []FailureContext
	PagesFetched    int
	Duration        time.Duration
}

// Pipeline wires the shared fetchers, rate limiter, and sink registry a
// Run call needs. One Pipeline is reused across every job.
type Pipeline struct {
	plain    *fetch.PlainFetcher
	rendered *fetch.RenderedFetcher
	limiter  *ratelimit.Registry
	sinks    *sink.Registry
	logger   obslog.Logger
}

// New builds a Pipeline from its shared collaborators. rendered may be nil
// if the process never needs headless rendering.
func New(plain *fetch.PlainFetcher, rendered *fetch.RenderedFetcher, limiter *ratelimit.Registry, sinks *sink.Registry, logger obslog.Logger) *Pipeline {
	if logger == nil {
		logger = obslog.New()
	}
	return &Pipeline{plain: plain, rendered: rendered, limiter: limiter, sinks: sinks, logger: logger}
}

// Run executes the full pipeline for one site config: optional login,
// fetch/paginate/extract loop (or scroll sequence for scroll pagination),
// and a single sink write of the accumulated records.
func (p *Pipeline) Run(ctx context.Context, cfg *config.Config) *Result {
	start := time.Now()
	result := &Result{SiteName: cfg.SiteName}

	headers := cloneHeaders(cfg.Headers)
	if cfg.Auth != nil && cfg.Renderer != "headless" {
		token, err := p.plain.Login(ctx, cfg)
		if err != nil {
			result.append(p.toFailure(cfg, cfg.Auth.LoginURL, err))
		} else if token != "" && cfg.Auth.TokenHeader != "" {
			headers[cfg.Auth.TokenHeader] = token
		}
	}
	effective := *cfg
	effective.Headers = headers

	var records []map[string]interface{}
	var err error
	if cfg.Pagination.Type == config.PaginationScroll {
		records, err = p.runScroll(ctx, &effective, result)
	} else {
		records, err = p.runPaged(ctx, &effective, result)
	}
	if err != nil {
		result.append(p.toFailure(cfg, cfg.BaseURL, err))
	}
	result.Records = records

	if len(records) > 0 {
		if werr := p.writeRecords(cfg, records); werr != nil {
			result.Errors = append(result.Errors, cwerr.Wrap(cwerr.KindSink, cfg.SiteName, "write output", werr))
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Result) append(fc FailureContext) {
	r.Errors = append(r.Errors, cwerr.New(cwerr.Kind(fc.ErrorType), fc.SiteName, fc.ErrorMessage))
	r.FailureContexts = append(r.FailureContexts, fc)
}

func (p *Pipeline) toFailure(cfg *config.Config, url string, err error) FailureContext {
	fc := FailureContext{SiteName: cfg.SiteName, URL: url, ErrorMessage: err.Error(), Timestamp: time.Now().UTC()}
	if kind, ok := cwerr.KindOf(err); ok {
		fc.ErrorType = string(kind)
	} else {
		fc.ErrorType = string(cwerr.KindCritical)
	}
	return fc
}

// runPaged drives the fetch/parse/paginate loop for the none, url_pattern,
// and next_link strategies, which all fetch one URL at a time.
func (p *Pipeline) runPaged(ctx context.Context, cfg *config.Config, result *Result) ([]map[string]interface{}, error) {
	fetcher := p.fetcherFor(cfg)
	paginator := paginate.New(cfg)
	currentURL := paginate.InitialURL(cfg)

	var all []map[string]interface{}
	page := 0

	for currentURL != "" {
		fetchURL := currentURL
		fres, retries, err := p.limiter.Execute(ctx, cfg.SiteName, fetchURL, cfg.Retry.MaxRetries, cfg.Retry.BackoffFactor, cfg.RateLimit.DelaySeconds, maxConcurrentOrDefault(cfg.RateLimit.MaxConcurrent),
			func(ctx context.Context) (ratelimit.Result, error) {
				reqCtx, cancel := context.WithTimeout(ctx, defaultFetchTimeout)
				defer cancel()
				return fetcher.Fetch(reqCtx, cfg, fetchURL)
			})
		if err != nil {
			fc := p.toFailure(cfg, fetchURL, err)
			fc.RetriesAttempted = retries
			result.append(fc)
			return all, nil
		}
		page++
		result.PagesFetched = page

		fetchResult, ok := fres.(*fetch.Result)
		if !ok || fetchResult == nil {
			break
		}
		if fetchResult.Status >= 400 {
			kind := cwerr.KindHTTPTerminal
			if ratelimit.IsRetryableStatus(fetchResult.Status) {
				kind = cwerr.KindHTTPRetryable
			}
			fc := p.toFailure(cfg, fetchURL, cwerr.New(kind, cfg.SiteName, httpErrorMessage(fetchResult.Status)))
			fc.HTTPStatus = fetchResult.Status
			fc.RetriesAttempted = retries
			result.append(fc)
			break
		}

		records, perr := extract.Records(cfg.SiteName, cfg.Selectors, fetchResult.Body)
		if perr != nil {
			result.append(p.toFailure(cfg, fetchURL, perr))
			break
		}
		stamp(records, cfg.SiteName, fetchURL)
		all = append(all, records...)

		doc, derr := goquery.NewDocumentFromReader(strings.NewReader(string(fetchResult.Body)))
		if derr != nil {
			break
		}
		next, more := paginator.NextURL(fetchURL, doc, page, len(records))
		if !more {
			break
		}
		currentURL = next
	}

	return all, nil
}

// runScroll drives the scroll paginator, which renders the whole scroll
// sequence in one tab via fetch.RenderedFetcher. Each scroll re-renders the
// same page with every previously loaded container still in the DOM, so
// only the final snapshot is extracted; it holds the full container list
// in document order.
func (p *Pipeline) runScroll(ctx context.Context, cfg *config.Config, result *Result) ([]map[string]interface{}, error) {
	if p.rendered == nil {
		return nil, cwerr.New(cwerr.KindTransport, cfg.SiteName, "scroll pagination requires a headless renderer, none configured")
	}
	maxPages := cfg.Pagination.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	scrollWait := time.Duration(cfg.Pagination.ScrollWaitSeconds) * time.Second

	snapshots, err := p.rendered.FetchScrollSequence(ctx, cfg, cfg.BaseURL, cfg.Selectors.Container, maxPages, scrollWait)
	if err != nil {
		return nil, err
	}
	result.PagesFetched = len(snapshots)
	if len(snapshots) == 0 {
		return nil, nil
	}

	final := snapshots[len(snapshots)-1]
	records, perr := extract.Records(cfg.SiteName, cfg.Selectors, final.Body)
	if perr != nil {
		result.append(p.toFailure(cfg, final.URL, perr))
		return nil, nil
	}
	stamp(records, cfg.SiteName, final.URL)
	return records, nil
}

func (p *Pipeline) writeRecords(cfg *config.Config, records []map[string]interface{}) error {
	s, err := p.sinks.New(cfg)
	if err != nil {
		return err
	}
	if err := s.Write(records); err != nil {
		s.Close()
		return err
	}
	return s.Close()
}

func (p *Pipeline) fetcherFor(cfg *config.Config) fetch.Fetcher {
	if cfg.Renderer == "headless" && p.rendered != nil {
		return p.rendered
	}
	return p.plain
}

func stamp(records []map[string]interface{}, site, url string) {
	now := time.Now().UTC()
	for _, rec := range records {
		rec["site_name"] = site
		rec["source_url"] = url
		rec["scrape_timestamp"] = now.Format(time.RFC3339)
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func maxConcurrentOrDefault(m int) int {
	if m <= 0 {
		return 1
	}
	return m
}

func httpErrorMessage(status int) string {
	return fmt.Sprintf("http status %d", status)
}
