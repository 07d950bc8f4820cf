package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/cwsf/cwsf/internal/config"
	"github.com/cwsf/cwsf/internal/cwerr"
	"github.com/cwsf/cwsf/internal/obslog"
)

// RenderedFetcher drives a headless Chrome instance through chromedp,
// running the config's ordered pre-extraction actions and honoring
// on_timeout at each wait point.
type RenderedFetcher struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	logger      obslog.Logger
}

// NewRenderedFetcher starts a headless Chrome allocator shared across
// fetches. Close releases the underlying browser process.
func NewRenderedFetcher(logger obslog.Logger) *RenderedFetcher {
	if logger == nil {
		logger = obslog.New()
	}
	opts := append([]chromedp.ExecAllocatorOption{},
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Headless,
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &RenderedFetcher{allocCtx: allocCtx, allocCancel: cancel, logger: logger}
}

// Close releases the shared browser allocator.
func (f *RenderedFetcher) Close() {
	f.allocCancel()
}

// captureDocumentStatus listens for the tab's main-document response and
// returns a getter for its status, falling back to 200 when no response
// object was captured (e.g. a wait timeout tolerated with
// on_timeout=proceed). The caller must run network.Enable() on the tab
// before navigating.
func captureDocumentStatus(tabCtx context.Context) func() int {
	var mu sync.Mutex
	status := 0
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		mu.Lock()
		if status == 0 {
			status = int(resp.Response.Status)
		}
		mu.Unlock()
	})
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		if status == 0 {
			return http.StatusOK
		}
		return status
	}
}

// Fetch navigates to targetURL, waits per renderer_options, runs the
// configured pre-extraction actions in order, and returns the rendered
// document's HTML.
func (f *RenderedFetcher) Fetch(ctx context.Context, cfg *config.Config, targetURL string) (*Result, error) {
	opts := cfg.RendererOptions
	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	onTimeout := opts.OnTimeout
	if onTimeout == "" {
		onTimeout = "fail"
	}

	tabCtx, tabCancel := chromedp.NewContext(f.allocCtx)
	defer tabCancel()
	documentStatus := captureDocumentStatus(tabCtx)

	start := time.Now()

	navCtx, navCancel := context.WithTimeout(tabCtx, timeout)
	defer navCancel()
	if err := chromedp.Run(navCtx, network.Enable(), chromedp.Navigate(targetURL)); err != nil {
		if onTimeout == "fail" {
			return nil, cwerr.Wrap(cwerr.KindTransport, cfg.SiteName, "navigation timeout", err).WithURL(targetURL)
		}
		f.logger.WithFields(map[string]interface{}{"site": cfg.SiteName, "url": targetURL}).Warnf("navigation timeout, proceeding anyway: %v", err)
	}

	if opts.WaitSelector != "" {
		waitCtx, waitCancel := context.WithTimeout(tabCtx, timeout)
		err := chromedp.Run(waitCtx, chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery))
		waitCancel()
		if err != nil {
			if onTimeout == "fail" {
				return nil, cwerr.Wrap(cwerr.KindTransport, cfg.SiteName, fmt.Sprintf("wait for selector %q timeout", opts.WaitSelector), err).WithURL(targetURL)
			}
			f.logger.WithFields(map[string]interface{}{"site": cfg.SiteName, "url": targetURL}).Warnf("wait for selector %q timeout, proceeding anyway: %v", opts.WaitSelector, err)
		}
	}

	for _, action := range opts.Actions {
		if err := f.runAction(tabCtx, action, timeout); err != nil {
			if onTimeout == "fail" {
				return nil, cwerr.Wrap(cwerr.KindTransport, cfg.SiteName, fmt.Sprintf("action %q failed", action.Type), err).WithURL(targetURL)
			}
			f.logger.WithFields(map[string]interface{}{"site": cfg.SiteName, "url": targetURL}).Warnf("action %q failed, proceeding anyway: %v", action.Type, err)
		}
	}

	var html string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, cwerr.Wrap(cwerr.KindTransport, cfg.SiteName, "extract rendered HTML", err).WithURL(targetURL)
	}

	status := documentStatus()
	logPossibleSessionExpiration(f.logger, cfg.SiteName, targetURL, status)
	return &Result{
		URL:     targetURL,
		Status:  status,
		Body:    []byte(html),
		Headers: http.Header{},
		Elapsed: time.Since(start),
	}, nil
}

func (f *RenderedFetcher) runAction(ctx context.Context, action config.ActionConfig, timeout time.Duration) error {
	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch action.Type {
	case "click":
		return chromedp.Run(actionCtx, chromedp.Click(action.Selector, chromedp.ByQuery))
	case "wait":
		seconds := action.Seconds
		if seconds <= 0 {
			seconds = 1
		}
		return chromedp.Run(actionCtx, chromedp.Sleep(time.Duration(seconds)*time.Second))
	case "fill":
		return chromedp.Run(actionCtx, chromedp.SetValue(action.Selector, action.Value, chromedp.ByQuery))
	case "press":
		return chromedp.Run(actionCtx, chromedp.KeyEvent(action.Value))
	case "hover":
		return chromedp.Run(actionCtx, chromedp.ScrollIntoView(action.Selector, chromedp.ByQuery))
	default:
		return fmt.Errorf("unrecognized action type %q", action.Type)
	}
}

// FetchScrollSequence drives one tab through the whole infinite-scroll
// pagination loop and returns one HTML snapshot per scroll iteration,
// since a scroll paginator does not fetch new URLs: it re-renders the same
// page. It navigates once, runs the configured actions once, then repeats
// scroll-wait-count up to maxPages times, stopping as soon as a scroll
// fails to grow the container count, the same zero-new-records rule
// every paginator applies.
func (f *RenderedFetcher) FetchScrollSequence(ctx context.Context, cfg *config.Config, targetURL string, containerSelector string, maxPages int, scrollWait time.Duration) ([]*Result, error) {
	opts := cfg.RendererOptions
	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if scrollWait <= 0 {
		scrollWait = 2 * time.Second
	}

	tabCtx, tabCancel := chromedp.NewContext(f.allocCtx)
	defer tabCancel()
	documentStatus := captureDocumentStatus(tabCtx)

	navCtx, navCancel := context.WithTimeout(tabCtx, timeout)
	err := chromedp.Run(navCtx, network.Enable(), chromedp.Navigate(targetURL))
	navCancel()
	if err != nil && opts.OnTimeout == "fail" {
		return nil, cwerr.Wrap(cwerr.KindTransport, cfg.SiteName, "navigation timeout", err).WithURL(targetURL)
	}

	for _, action := range opts.Actions {
		_ = f.runAction(tabCtx, action, timeout)
	}

	var results []*Result
	lastCount := 0
	for page := 0; page < maxPages; page++ {
		var html string
		var count int
		tasks := []chromedp.Action{
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(scrollWait),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		}
		if containerSelector != "" {
			tasks = append(tasks, chromedp.Evaluate(
				fmt.Sprintf(`document.querySelectorAll(%q).length`, containerSelector), &count))
		}
		if err := chromedp.Run(tabCtx, tasks...); err != nil {
			return results, cwerr.Wrap(cwerr.KindTransport, cfg.SiteName, "scroll iteration failed", err).WithURL(targetURL)
		}

		results = append(results, &Result{URL: targetURL, Status: documentStatus(), Body: []byte(html), Headers: http.Header{}})

		if containerSelector != "" && count <= lastCount {
			break
		}
		lastCount = count
	}
	return results, nil
}
