// Package registry tracks the fleet of inference workers the router
// forwards to: their URLs, their Ready state, and the order new
// workers joined in (the order RoundRobin and tie-breaks rely on).
package registry

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sgl-project/router/pkg/health"
	"github.com/sgl-project/router/pkg/log"
	"github.com/sgl-project/router/pkg/routererrors"
)

// Worker is a single inference endpoint known to the registry.
type Worker struct {
	URL   string
	Ready bool
}

// Registry is the process-wide set of known workers. It owns the
// Ready sequence and the round-robin cursor; the prefix tree behind
// CacheAware is a separate collaborator notified via the onRemove
// callback (see WithOnRemove) so that this package stays independent
// of the tree implementation.
type Registry struct {
	mu      sync.RWMutex
	order   []string          // currently Ready URLs, in the order they were added
	ready   map[string]bool   // url -> Ready
	cursor  uint64            // round-robin cursor, advanced atomically
	checker health.Checker
	prober  Prober
	onRemove func(url string)

	checkInterval time.Duration
	probeTimeout  time.Duration
}

// Prober builds the Checker used to probe a worker's health endpoint.
// Kept as a function rather than a single shared Checker because the
// checker's target URL differs per worker.
type Prober func(workerURL string) health.Checker

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithProber overrides how a per-worker HTTPChecker is constructed;
// the zero value wires an HTTPChecker against "{url}/health".
func WithProber(p Prober) Option {
	return func(r *Registry) { r.prober = p }
}

// WithOnRemove registers a callback invoked (outside the registry's
// lock) whenever a worker is removed, so the CacheAware tree can drop
// its per-worker counters.
func WithOnRemove(fn func(url string)) Option {
	return func(r *Registry) { r.onRemove = fn }
}

// New creates an empty Registry. checkInterval and probeTimeout govern
// the startup probe run by Add.
func New(checkInterval, probeTimeout time.Duration, opts ...Option) *Registry {
	r := &Registry{
		ready:         make(map[string]bool),
		checkInterval: checkInterval,
		probeTimeout:  probeTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.prober == nil {
		r.prober = func(workerURL string) health.Checker {
			return health.NewHTTPChecker(workerURL + "/health").WithTimeout(checkInterval)
		}
	}
	return r
}

// SeedReady adds url directly to the Ready sequence, bypassing the
// startup probe. Used for configuration's worker_urls, which the spec
// treats as already known-good.
func (r *Registry) SeedReady(rawURL string) error {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return fmt.Errorf("%w: %s", routererrors.ErrWorkerInvalidURL, rawURL)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready[rawURL] {
		return fmt.Errorf("%w: %s", routererrors.ErrWorkerExists, rawURL)
	}
	r.order = append(r.order, rawURL)
	r.ready[rawURL] = true
	return nil
}

// Add probes workerURL at the registry's check interval until it
// answers healthy or probeTimeout elapses, then appends it to the
// Ready sequence. It rejects a syntactically invalid URL immediately
// and a duplicate URL without probing.
func (r *Registry) Add(ctx context.Context, workerURL string) error {
	logger := log.WithWorker(workerURL)

	if _, err := url.ParseRequestURI(workerURL); err != nil {
		return fmt.Errorf("%w: %s", routererrors.ErrWorkerInvalidURL, workerURL)
	}

	r.mu.RLock()
	exists := r.ready[workerURL]
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", routererrors.ErrWorkerExists, workerURL)
	}

	checker := r.prober(workerURL)
	deadline := time.Now().Add(r.probeTimeout)
	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	for {
		result := checker.Check(probeCtx)
		if result.Healthy {
			r.mu.Lock()
			if !r.ready[workerURL] {
				r.order = append(r.order, workerURL)
			}
			r.ready[workerURL] = true
			r.mu.Unlock()
			logger.Info().Msg("worker became ready")
			return nil
		}

		if time.Now().After(deadline) {
			logger.Warn().Str("message", result.Message).Msg("worker startup probe timed out")
			return fmt.Errorf("%w: %s after probing %s", routererrors.ErrWorkerProbeTimeout, workerURL, r.probeTimeout)
		}

		select {
		case <-ticker.C:
		case <-probeCtx.Done():
			return fmt.Errorf("%w: %s", routererrors.ErrWorkerProbeTimeout, workerURL)
		}
	}
}

// Remove drops url from the Ready sequence and notifies onRemove. It
// is idempotent: removing an absent URL is not an error.
func (r *Registry) Remove(workerURL string) {
	r.mu.Lock()
	if r.ready[workerURL] {
		delete(r.ready, workerURL)
		for i, u := range r.order {
			if u == workerURL {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if r.onRemove != nil {
		r.onRemove(workerURL)
	}
}

// List returns a snapshot of the current Ready URLs in insertion
// order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of Ready workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Random returns a uniformly random Ready worker, or
// routererrors.ErrUnavailable if the registry is empty.
func (r *Registry) Random(intn func(n int) int) (string, error) {
	workers := r.List()
	if len(workers) == 0 {
		return "", routererrors.ErrUnavailable
	}
	return workers[intn(len(workers))], nil
}

// NextRoundRobin atomically advances the round-robin cursor and
// returns the worker at the new position modulo the current Ready
// count, or routererrors.ErrUnavailable if the registry is empty. The
// Ready list is snapshotted once, before the increment, and the
// cursor is taken modulo that snapshot's length, so the index is
// always in range even if membership changes concurrently.
func (r *Registry) NextRoundRobin() (string, error) {
	workers := r.List()
	if len(workers) == 0 {
		return "", routererrors.ErrUnavailable
	}
	n := atomic.AddUint64(&r.cursor, 1)
	return workers[n%uint64(len(workers))], nil
}

// First returns the first Ready worker in registry order, used by
// route_first for health and info endpoints.
func (r *Registry) First() (string, error) {
	workers := r.List()
	if len(workers) == 0 {
		return "", routererrors.ErrUnavailable
	}
	return workers[0], nil
}
