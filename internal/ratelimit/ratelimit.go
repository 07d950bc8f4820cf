// Package ratelimit provides the per-origin politeness gate and retry
// engine that sit in front of the fetcher: a counting semaphore caps
// in-flight requests per origin, an x/time/rate limiter enforces minimum
// spacing between fetch starts, and a retry loop applies exponential
// backoff to transient failures.
package ratelimit

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cwsf/cwsf/internal/cwerr"
	"github.com/cwsf/cwsf/internal/obslog"
)

// retryableStatus is the set of HTTP statuses the retry engine treats as
// transient.
var retryableStatus = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}

// IsRetryableStatus reports whether the retry engine treats status as
// transient, so callers can classify an exhausted response the same way the
// engine did.
func IsRetryableStatus(status int) bool {
	return retryableStatus[status]
}

// originGate bounds one origin's request rate: a counting semaphore caps
// concurrency, and an x/time/rate.Limiter enforces minimum spacing between
// fetch starts.
type originGate struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

func newOriginGate(delaySeconds float64, maxConcurrent int) *originGate {
	return &originGate{
		sem:     make(chan struct{}, maxConcurrent),
		limiter: rate.NewLimiter(rate.Every(time.Duration(delaySeconds*float64(time.Second))), 1),
	}
}

func (g *originGate) acquire(ctx context.Context) (release func(), err error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := g.limiter.Wait(ctx); err != nil {
		<-g.sem
		return nil, err
	}
	return func() { <-g.sem }, nil
}

// Registry lazily creates and caches one originGate per host.
type Registry struct {
	mu     sync.Mutex
	gates  map[string]*originGate
	logger obslog.Logger
}

// NewRegistry creates an empty gate registry.
func NewRegistry(logger obslog.Logger) *Registry {
	if logger == nil {
		logger = obslog.New()
	}
	return &Registry{gates: make(map[string]*originGate), logger: logger}
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func (r *Registry) gateFor(origin string, delaySeconds float64, maxConcurrent int) *originGate {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[origin]
	if !ok {
		g = newOriginGate(delaySeconds, maxConcurrent)
		r.gates[origin] = g
	}
	return g
}

// Result is whatever the wrapped request callable produces. The retry
// engine only inspects StatusCode; callers do the actual decoding.
type Result interface {
	StatusCode() int
}

// RequestFunc performs one fetch attempt.
type RequestFunc func(ctx context.Context) (Result, error)

// Execute runs fn under the origin's gate with retry and exponential
// backoff. Non-retryable outcomes (any 2xx/3xx, or 4xx other than 429)
// return immediately. Exhaustion with a retryable status returns the last
// response normally; the caller converts it to a scrape error.
// Exhaustion with a transport error re-raises the last error.
func (r *Registry) Execute(ctx context.Context, site, fetchURL string, maxRetries int, backoffFactor float64, delaySeconds float64, maxConcurrent int, fn RequestFunc) (Result, int, error) {
	gate := r.gateFor(originOf(fetchURL), delaySeconds, maxConcurrent)

	var lastResult Result
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoffDuration(backoffFactor, attempt)
			r.logger.WithFields(map[string]interface{}{
				"site": site, "url": fetchURL, "attempt": attempt, "max_retries": maxRetries,
			}).Warnf("retrying after %s backoff", wait)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, attempt, ctx.Err()
			}
		}

		release, err := gate.acquire(ctx)
		if err != nil {
			return nil, attempt, err
		}
		result, err := fn(ctx)
		release()

		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				continue
			}
			r.logger.WithFields(map[string]interface{}{
				"site": site, "url": fetchURL, "retries_attempted": attempt,
			}).Error("exhausted retries with a transport error")
			return nil, attempt, cwerr.Wrap(cwerr.KindTransport, site, "exhausted retries", lastErr).WithURL(fetchURL)
		}

		lastResult = result
		if retryableStatus[result.StatusCode()] {
			if attempt < maxRetries {
				continue
			}
			r.logger.WithFields(map[string]interface{}{
				"site": site, "url": fetchURL, "status": result.StatusCode(), "retries_attempted": attempt,
			}).Error("exhausted retries with a retryable status")
			return lastResult, attempt, nil
		}

		if attempt > 0 {
			r.logger.WithFields(map[string]interface{}{"site": site, "url": fetchURL}).Infof("recovered on attempt %d", attempt)
		}
		return result, attempt, nil
	}

	return lastResult, maxRetries, lastErr
}

// backoffDuration computes backoff_factor^attempt seconds.
func backoffDuration(backoffFactor float64, attempt int) time.Duration {
	seconds := 1.0
	for i := 0; i < attempt; i++ {
		seconds *= backoffFactor
	}
	return time.Duration(seconds * float64(time.Second))
}
