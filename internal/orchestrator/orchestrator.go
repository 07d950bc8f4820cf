// Package orchestrator binds the watcher, the priority queue, the scrape
// pipeline, the notifier, and the run-history store into one-shot,
// continuous, and single-site runs: a scan-then-drain loop for one-shot
// mode, a watcher-driven loop with a periodic summary for continuous
// mode, with each job's faults isolated from the rest of the run.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cwsf/cwsf/internal/config"
	"github.com/cwsf/cwsf/internal/history"
	"github.com/cwsf/cwsf/internal/monitoring"
	"github.com/cwsf/cwsf/internal/notify"
	"github.com/cwsf/cwsf/internal/obslog"
	"github.com/cwsf/cwsf/internal/queue"
	"github.com/cwsf/cwsf/internal/scrape"
	"github.com/cwsf/cwsf/internal/watcher"
)

const (
	defaultMaxConcurrency = 5
	summaryInterval       = 60 * time.Second
)

// Summary aggregates one orchestration cycle's outcomes.
type Summary struct {
	TotalSites     int
	SitesSucceeded int
	SitesFailed    int
	TotalRecords   int
	TotalErrors    int
	Duration       time.Duration
	FailedSites    map[string]string
}

// Orchestrator drives jobs from a config directory through the scrape
// pipeline, isolating per-job faults and persisting outcomes.
type Orchestrator struct {
	configDir      string
	overrides      map[string]interface{}
	maxConcurrency int

	queue    *queue.Queue
	pipeline *scrape.Pipeline
	history  *history.Store
	notifier *notify.Notifier
	metrics  *monitoring.Metrics
	logger   obslog.Logger

	watcher *watcher.Watcher

	mu         sync.Mutex
	accum      Summary
	active     int
	failedMsg  map[string]string
	pathToSite map[string]string
}

// New builds an Orchestrator. historyStore and defaultNotifier may be
// shared across an entire process lifetime; per-site Gotify settings
// override defaultNotifier when present.
func New(configDir string, overrides map[string]interface{}, maxConcurrency int, pipeline *scrape.Pipeline, historyStore *history.Store, logger obslog.Logger) *Orchestrator {
	if logger == nil {
		logger = obslog.New()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &Orchestrator{
		configDir:      configDir,
		overrides:      overrides,
		maxConcurrency: maxConcurrency,
		queue:          queue.New(),
		pipeline:       pipeline,
		history:        historyStore,
		logger:         logger.WithField("component", "orchestrator"),
		failedMsg:      map[string]string{},
		pathToSite:     map[string]string{},
	}
}

// RunOnce scans the config directory, upserts every accepted document as a
// job, drains the queue, and returns the run's summary. Exit code
// semantics (non-zero iff sites_failed > 0) are the caller's
// responsibility.
func (o *Orchestrator) RunOnce(ctx context.Context) (Summary, error) {
	return o.runScanAndDrain(ctx, "")
}

// RunSite is RunOnce filtered to a single site_name; it fails fast if the
// named site is not among the discovered documents.
func (o *Orchestrator) RunSite(ctx context.Context, siteName string) (Summary, error) {
	return o.runScanAndDrain(ctx, siteName)
}

func (o *Orchestrator) runScanAndDrain(ctx context.Context, onlySite string) (Summary, error) {
	start := time.Now()
	paths, err := config.Discover(o.configDir)
	if err != nil {
		return Summary{}, fmt.Errorf("scan config directory: %w", err)
	}

	matched := false
	var available []string
	for _, path := range paths {
		cfg, raw, err := config.LoadDocument(path, o.overrides)
		if err != nil {
			o.logger.Warnf("skip %s: %v", path, err)
			continue
		}
		result := config.Validate(cfg, raw)
		if !result.IsValid {
			o.logger.Warnf("skip invalid config %s", path)
			continue
		}
		available = append(available, cfg.SiteName)
		if onlySite != "" && cfg.SiteName != onlySite {
			continue
		}
		matched = true
		o.queue.Enqueue(&queue.Job{JobID: cfg.SiteName, Config: cfg, Priority: priorityOrDefault(cfg.Priority), CreatedAt: time.Now()})
	}
	if onlySite != "" && !matched {
		return Summary{}, fmt.Errorf("site %q not found among discovered configs: %v", onlySite, available)
	}

	o.drain(ctx)

	o.mu.Lock()
	summary := o.accum
	o.accum = Summary{}
	o.failedMsg = map[string]string{}
	o.mu.Unlock()
	summary.Duration = time.Since(start)

	if o.notifier != nil {
		o.notifier.SendSummary(ctx, toNotifySummary(summary))
	}
	return summary, nil
}

// drain dequeues and executes jobs with up to maxConcurrency in flight,
// returning once the queue is empty (no more PENDING jobs and none still
// RUNNING).
func (o *Orchestrator) drain(ctx context.Context) {
	sem := make(chan struct{}, o.maxConcurrency)
	var wg sync.WaitGroup

	for {
		job := o.queue.Dequeue()
		if job == nil {
			break
		}
		if o.metrics != nil {
			o.metrics.SetJobsQueued(o.queue.Size())
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(j *queue.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			o.execute(ctx, j)
		}(job)
	}
	wg.Wait()
}

// execute runs one job's pipeline under a catch-all, records the outcome
// in history, and folds it into the run accumulator. A panic inside the
// pipeline is converted into a terminal failure rather than crashing the
// whole orchestrator, per the per-job fault isolation requirement.
func (o *Orchestrator) execute(ctx context.Context, job *queue.Job) {
	if o.metrics != nil {
		o.mu.Lock()
		o.active++
		o.metrics.SetJobsActive(o.active)
		o.mu.Unlock()
		defer func() {
			o.mu.Lock()
			o.active--
			o.metrics.SetJobsActive(o.active)
			o.mu.Unlock()
		}()
	}

	var result *scrape.Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				result = &scrape.Result{
					SiteName: job.Config.SiteName,
					Errors:   []error{fmt.Errorf("panic during scrape: %v", r)},
					FailureContexts: []scrape.FailureContext{{
						SiteName: job.Config.SiteName, URL: job.Config.BaseURL,
						ErrorType: "critical", ErrorMessage: fmt.Sprintf("%v", r), Timestamp: time.Now().UTC(),
					}},
				}
			}
		}()
		result = o.pipeline.Run(ctx, job.Config)
	}()

	success := len(result.Errors) == 0
	o.queue.Complete(job.JobID, success)

	status := history.StatusSuccess
	var lastErr string
	if len(result.Errors) > 0 {
		if len(result.Records) > 0 {
			status = history.StatusPartial
		} else {
			status = history.StatusFailed
		}
		lastErr = result.Errors[len(result.Errors)-1].Error()
	}

	if o.metrics != nil {
		o.metrics.RecordJob(job.Config.SiteName, string(status), result.Duration)
		for i := 0; i < result.PagesFetched; i++ {
			o.metrics.RecordPageScraped(job.Config.SiteName)
		}
		if success {
			o.metrics.RecordSinkWrite(job.Config.SiteName, job.Config.Output.Format, len(result.Records), nil)
		} else {
			o.metrics.RecordSinkWrite(job.Config.SiteName, job.Config.Output.Format, 0, result.Errors[len(result.Errors)-1])
		}
	}

	if o.history != nil {
		_ = o.history.RecordRun(history.Run{
			SiteName:     job.Config.SiteName,
			Timestamp:    time.Now().UTC(),
			RecordsCount: len(result.Records),
			Status:       status,
			ErrorCount:   len(result.Errors),
			LastError:    lastErr,
		})
	}

	siteNotifier := o.notifier
	if job.Config.Gotify.ServerURL != "" && job.Config.Gotify.AppToken != "" {
		siteNotifier = notify.New(job.Config.Gotify, o.logger)
	}
	if siteNotifier != nil {
		for _, fc := range result.FailureContexts {
			siteNotifier.SendError(ctx, notify.Failure{
				SiteName: fc.SiteName, URL: fc.URL, ErrorMessage: fc.ErrorMessage,
				HTTPStatus: fc.HTTPStatus, RetriesAttempted: fc.RetriesAttempted,
			})
		}
	}

	o.mu.Lock()
	o.accum.TotalSites++
	o.accum.TotalRecords += len(result.Records)
	o.accum.TotalErrors += len(result.Errors)
	if success {
		o.accum.SitesSucceeded++
	} else {
		o.accum.SitesFailed++
		if o.accum.FailedSites == nil {
			o.accum.FailedSites = map[string]string{}
		}
		o.accum.FailedSites[job.Config.SiteName] = lastErr
	}
	o.mu.Unlock()
}

func toNotifySummary(s Summary) notify.Summary {
	return notify.Summary{
		TotalSites: s.TotalSites, SitesSucceeded: s.SitesSucceeded, SitesFailed: s.SitesFailed,
		TotalRecords: s.TotalRecords, TotalErrors: s.TotalErrors, Duration: s.Duration, FailedSites: s.FailedSites,
	}
}

func priorityOrDefault(p int) int {
	if p <= 0 {
		return 10
	}
	return p
}

// SetNotifier installs the process-wide default notifier used when a site
// carries no Gotify block of its own.
func (o *Orchestrator) SetNotifier(n *notify.Notifier) {
	o.notifier = n
}

// SetMetrics installs the Prometheus collectors jobs report into; nil
// (the default) disables metrics reporting entirely.
func (o *Orchestrator) SetMetrics(m *monitoring.Metrics) {
	o.metrics = m
}

// ListJobs exposes the queue's current PENDING+RUNNING jobs.
func (o *Orchestrator) ListJobs() []*queue.Job {
	return o.queue.ListJobs()
}

// RunContinuous performs the startup scan, then starts a directory watcher
// and drains the queue forever: every validated or re-validated document
// is upserted as a job and immediately eligible for pickup, every removal
// drops its pending job, and every summaryInterval the accumulated
// Summary since the last emission is handed to onSummary and the
// accumulator is reset. It returns when ctx is cancelled, after the
// watcher is closed and any in-flight jobs have completed.
func (o *Orchestrator) RunContinuous(ctx context.Context, onSummary func(Summary)) error {
	paths, err := config.Discover(o.configDir)
	if err != nil {
		return fmt.Errorf("scan config directory: %w", err)
	}
	for _, path := range paths {
		cfg, raw, err := config.LoadDocument(path, o.overrides)
		if err != nil {
			o.logger.Warnf("skip %s: %v", path, err)
			continue
		}
		if result := config.Validate(cfg, raw); !result.IsValid {
			o.logger.Warnf("skip invalid config %s", path)
			continue
		}
		o.mu.Lock()
		o.pathToSite[path] = cfg.SiteName
		o.mu.Unlock()
		o.queue.Enqueue(&queue.Job{JobID: cfg.SiteName, Config: cfg, Priority: priorityOrDefault(cfg.Priority), CreatedAt: time.Now()})
	}

	w, err := watcher.New(o.configDir, 0, o.overrides, func(ev watcher.Event) {
		switch ev.Type {
		case watcher.EventValidated:
			o.mu.Lock()
			o.pathToSite[ev.Path] = ev.Config.SiteName
			o.mu.Unlock()
			o.queue.Enqueue(&queue.Job{JobID: ev.Config.SiteName, Config: ev.Config, Priority: priorityOrDefault(ev.Config.Priority), CreatedAt: time.Now()})
		case watcher.EventRemoved:
			o.mu.Lock()
			siteName, known := o.pathToSite[ev.Path]
			delete(o.pathToSite, ev.Path)
			o.mu.Unlock()
			if known {
				o.queue.Remove(siteName)
			}
		case watcher.EventRejected:
			o.logger.Warnf("rejected config %s", ev.Path)
		}
	})
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	o.watcher = w
	defer w.Close()

	ticker := time.NewTicker(summaryInterval)
	defer ticker.Stop()

	drainDone := make(chan struct{})
	go func() {
		o.continuousLoop(ctx)
		close(drainDone)
	}()

	for {
		select {
		case <-ctx.Done():
			<-drainDone
			o.mu.Lock()
			final := o.accum
			o.accum = Summary{}
			o.mu.Unlock()
			if onSummary != nil && final.TotalSites > 0 {
				onSummary(final)
			}
			return nil
		case <-ticker.C:
			o.mu.Lock()
			summary := o.accum
			o.accum = Summary{}
			o.mu.Unlock()
			if onSummary != nil {
				onSummary(summary)
			}
			if o.notifier != nil {
				o.notifier.SendSummary(ctx, toNotifySummary(summary))
			}
		}
	}
}

// continuousLoop repeatedly dequeues and executes jobs, polling for
// cancellation between dequeues rather than forcing in-flight fetches to
// stop.
func (o *Orchestrator) continuousLoop(ctx context.Context) {
	sem := make(chan struct{}, o.maxConcurrency)
	var wg sync.WaitGroup
	idle := 0
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		job := o.queue.Dequeue()
		if job == nil {
			idle++
			if idle > 1000 {
				idle = 1000
			}
			time.Sleep(time.Duration(idle) * time.Millisecond)
			continue
		}
		idle = 0

		sem <- struct{}{}
		wg.Add(1)
		go func(j *queue.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			o.execute(ctx, j)
		}(job)
	}
}

// Close releases the watcher, if one was started.
func (o *Orchestrator) Close() error {
	if o.watcher != nil {
		return o.watcher.Close()
	}
	return nil
}
