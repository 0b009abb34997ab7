// Package discovery watches an external source of worker endpoints
// (Kubernetes Endpoints objects, or a no-op static source) and feeds add/remove commands into a single reconciler
// goroutine that applies them to the worker registry.
package discovery

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sgl-project/router/pkg/log"
	"github.com/sgl-project/router/pkg/metrics"
)

// CommandKind names one of the two discovery command variants.
type CommandKind string

const (
	AddWorker    CommandKind = "add_worker"
	RemoveWorker CommandKind = "remove_worker"
)

// Command is a single add/remove instruction produced by a Source.
type Command struct {
	Kind CommandKind
	URL  string
}

// Config enumerates what a Source watches for and how it renders a
// matched endpoint into a worker URL.
type Config struct {
	LabelSelector string
	PortName      string // optional; empty means "every port"
	Protocol      string
	WorkerPath    string // normalised to start with "/" iff non-empty
}

// Source emits a stream of Commands on Run until ctx is cancelled or
// it fails; Run returning a non-nil error is a DiscoveryTransport
// failure the caller retries with backoff.
type Source interface {
	Run(ctx context.Context, commands chan<- Command) error
}

// Applier is the subset of the registry the reconciler drives.
type Applier interface {
	Add(ctx context.Context, url string) error
	Remove(url string)
}

// Reconciler consumes Commands from a bounded channel and applies
// them to a registry one at a time, so registry membership changes
// from discovery never race with each other.
type Reconciler struct {
	applier  Applier
	metrics  *metrics.Registry
	commands chan Command

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewReconciler creates a Reconciler with the spec's fixed channel
// capacity of 100.
func NewReconciler(applier Applier, m *metrics.Registry) *Reconciler {
	return &Reconciler{
		applier:  applier,
		metrics:  m,
		commands: make(chan Command, 100),
		stopCh:   make(chan struct{}),
	}
}

// Commands returns the channel Sources should send into.
func (r *Reconciler) Commands() chan<- Command {
	return r.commands
}

// Start launches the single consumer goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop terminates the consumer goroutine.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run(ctx context.Context) {
	logger := log.WithComponent("discovery")
	for {
		select {
		case cmd := <-r.commands:
			// Stop takes precedence over commands still queued.
			select {
			case <-r.stopCh:
				return
			default:
			}
			r.apply(ctx, logger, cmd)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) apply(ctx context.Context, logger zerolog.Logger, cmd Command) {
	r.metrics.DiscoveryEventsTotal.WithLabelValues(string(cmd.Kind)).Inc()

	switch cmd.Kind {
	case AddWorker:
		if err := r.applier.Add(ctx, cmd.URL); err != nil {
			logger.Warn().Str("worker", cmd.URL).Err(err).Msg("discovery add failed")
		}
	case RemoveWorker:
		r.applier.Remove(cmd.URL)
		logger.Info().Str("worker", cmd.URL).Msg("discovery removed worker")
	}
}
