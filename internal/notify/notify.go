// Package notify sends push notifications to a Gotify server on scraping
// failures and on run summaries that contain at least one failure.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cwsf/cwsf/internal/config"
	"github.com/cwsf/cwsf/internal/obslog"
)

const sendTimeout = 10 * time.Second

const defaultPriority = 5

// Failure describes one failed scraping job.
type Failure struct {
	SiteName         string
	URL              string
	ErrorMessage     string
	HTTPStatus       int
	RetriesAttempted int
}

// Summary describes the outcome of a full run.
type Summary struct {
	TotalSites     int
	SitesSucceeded int
	SitesFailed    int
	TotalRecords   int
	TotalErrors    int
	Duration       time.Duration
	FailedSites    map[string]string // site_name -> error description
}

// Notifier sends messages to a Gotify server. It is enabled only when both
// ServerURL and AppToken are configured; disabled notifiers silently no-op.
type Notifier struct {
	serverURL string
	appToken  string
	priority  int
	enabled   bool
	client    *http.Client
	logger    obslog.Logger
}

// New builds a Notifier from a site's Gotify configuration.
func New(cfg config.GotifyConfig, logger obslog.Logger) *Notifier {
	if logger == nil {
		logger = obslog.New()
	}
	priority := cfg.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	return &Notifier{
		serverURL: strings.TrimSuffix(cfg.ServerURL, "/"),
		appToken:  cfg.AppToken,
		priority:  priority,
		enabled:   cfg.ServerURL != "" && cfg.AppToken != "",
		client:    &http.Client{Timeout: sendTimeout},
		logger:    logger.WithField("component", "notify"),
	}
}

type gotifyPayload struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority int    `json:"priority"`
}

// SendError notifies a single scraping failure. Any transport or server
// error is logged as a warning and swallowed; a failed notification must
// never fail the scrape itself.
func (n *Notifier) SendError(ctx context.Context, f Failure) {
	if !n.enabled {
		return
	}
	title := fmt.Sprintf("CWSF Scrape Error: %s", f.SiteName)
	var b strings.Builder
	fmt.Fprintf(&b, "Site: %s\n", f.SiteName)
	fmt.Fprintf(&b, "URL: %s\n", f.URL)
	fmt.Fprintf(&b, "Error: %s\n", f.ErrorMessage)
	if f.HTTPStatus != 0 {
		fmt.Fprintf(&b, "Status: %d\n", f.HTTPStatus)
	}
	if f.RetriesAttempted > 0 {
		fmt.Fprintf(&b, "Retries: %d\n", f.RetriesAttempted)
	}
	n.send(ctx, title, b.String(), n.priority)
}

// SendSummary notifies a run's outcome, but only when at least one site
// failed.
func (n *Notifier) SendSummary(ctx context.Context, s Summary) {
	if !n.enabled || s.SitesFailed == 0 {
		return
	}
	title := "CWSF Run Summary (Failures Detected)"
	var b strings.Builder
	fmt.Fprintf(&b, "Sites Attempted: %d\n", s.TotalSites)
	fmt.Fprintf(&b, "Sites Succeeded: %d\n", s.SitesSucceeded)
	fmt.Fprintf(&b, "Sites Failed: %d\n", s.SitesFailed)
	fmt.Fprintf(&b, "Total Records: %d\n", s.TotalRecords)
	fmt.Fprintf(&b, "Duration: %.1fs\n\n", s.Duration.Seconds())
	b.WriteString("Failed Sites:\n")
	for site, errMsg := range s.FailedSites {
		fmt.Fprintf(&b, "- %s: %s\n", site, errMsg)
	}
	n.send(ctx, title, b.String(), n.priority)
}

func (n *Notifier) send(ctx context.Context, title, message string, priority int) {
	body, err := json.Marshal(gotifyPayload{Title: title, Message: message, Priority: priority})
	if err != nil {
		n.logger.Warnf("marshal gotify payload: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	url := n.serverURL + "/message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warnf("build gotify request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gotify-Key", n.appToken)

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warnf("could not reach gotify server: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warnf("gotify server returned error: %d", resp.StatusCode)
	}
}
