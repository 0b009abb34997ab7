// Package static provides the no-op discovery.Source that the
// sgl-router command falls back to when discovery is enabled but no
// in-cluster Kubernetes configuration is available: workers then come
// only from configuration's worker_urls and the admin routes, and no
// background watch runs.
package static

import (
	"context"

	"github.com/sgl-project/router/pkg/discovery"
)

// Source blocks until ctx is cancelled without ever emitting a
// Command, satisfying discovery.Source when there is nothing to watch.
type Source struct{}

// New builds the static no-op Source.
func New() *Source { return &Source{} }

// Run blocks on ctx and returns its error on cancellation.
func (Source) Run(ctx context.Context, _ chan<- discovery.Command) error {
	<-ctx.Done()
	return ctx.Err()
}
