// Package fetch implements the two fetch transports behind one Result
// contract: a plain net/http transport (cookie jar, tuned Transport,
// redirect following) and a chromedp-driven headless transport.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/cwsf/cwsf/internal/config"
	"github.com/cwsf/cwsf/internal/cwerr"
	"github.com/cwsf/cwsf/internal/obslog"
)

// Result is one completed fetch, satisfying ratelimit.Result so the retry
// engine can inspect StatusCode without depending on this package.
type Result struct {
	URL     string
	Status  int
	Body    []byte
	Headers http.Header
	Elapsed time.Duration
}

// StatusCode implements ratelimit.Result.
func (r *Result) StatusCode() int { return r.Status }

// Fetcher retrieves one page for a site, honoring its renderer setting.
type Fetcher interface {
	Fetch(ctx context.Context, cfg *config.Config, targetURL string) (*Result, error)
}

// PlainFetcher issues ordinary HTTP requests with a shared cookie jar and
// connection pool.
type PlainFetcher struct {
	client *http.Client
	logger obslog.Logger
}

// NewPlainFetcher builds a PlainFetcher with a public-suffix-aware cookie
// jar and a tuned transport.
func NewPlainFetcher(logger obslog.Logger) (*PlainFetcher, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = obslog.New()
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &PlainFetcher{
		client: &http.Client{Jar: jar, Transport: transport},
		logger: logger,
	}, nil
}

// Fetch performs one plain HTTP request for cfg against targetURL.
func (f *PlainFetcher) Fetch(ctx context.Context, cfg *config.Config, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, cfg.Method, targetURL, nil)
	if err != nil {
		return nil, cwerr.Wrap(cwerr.KindTransport, cfg.SiteName, "build request", err).WithURL(targetURL)
	}
	req.Header.Set("User-Agent", "CWSF/1.0")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range cfg.Cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, cwerr.Wrap(cwerr.KindTransport, cfg.SiteName, "fetch failed", err).WithURL(targetURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cwerr.Wrap(cwerr.KindTransport, cfg.SiteName, "read response body", err).WithURL(targetURL)
	}
	elapsed := time.Since(start)

	result := &Result{URL: targetURL, Status: resp.StatusCode, Body: body, Headers: resp.Header, Elapsed: elapsed}
	logPossibleSessionExpiration(f.logger, cfg.SiteName, targetURL, resp.StatusCode)
	return result, nil
}

// logPossibleSessionExpiration annotates 401/403 responses, which on an
// authenticated site usually mean the session expired.
func logPossibleSessionExpiration(logger obslog.Logger, site, targetURL string, status int) {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		logger.WithFields(map[string]interface{}{
			"site": site, "url": targetURL, "status": status,
		}).Warn("possible session expiration")
	}
}

// Login performs the single pre-scrape authentication step described by
// cfg.Auth and returns the extracted token value: the TokenHeader response
// header when one is set, otherwise the cookie named TokenName. Login does
// not attach the token to later requests; the scrape pipeline sends it as
// the TokenHeader request header when TokenHeader is set.
func (f *PlainFetcher) Login(ctx context.Context, cfg *config.Config) (string, error) {
	auth := cfg.Auth
	if auth == nil {
		return "", nil
	}
	method := auth.Method
	if method == "" {
		method = "POST"
	}

	req, err := http.NewRequestWithContext(ctx, method, auth.LoginURL, nil)
	if err != nil {
		return "", cwerr.Wrap(cwerr.KindTransport, cfg.SiteName, "build login request", err).WithURL(auth.LoginURL)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", cwerr.Wrap(cwerr.KindTransport, cfg.SiteName, "login request failed", err).WithURL(auth.LoginURL)
	}
	defer resp.Body.Close()

	if auth.TokenHeader != "" {
		return resp.Header.Get(auth.TokenHeader), nil
	}
	for _, c := range resp.Cookies() {
		if c.Name == auth.TokenName {
			return c.Value, nil
		}
	}
	return "", fmt.Errorf("login to %s did not yield a token for %q", auth.LoginURL, auth.TokenName)
}
