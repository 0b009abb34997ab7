package discovery

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/sgl-project/router/pkg/log"
)

// DefaultBackoff is the spec's default restart delay after a Source's
// Run returns an error.
const DefaultBackoff = 10 * time.Second

// RunSupervised runs src.Run in a loop, restarting it after backoff
// whenever it returns (with or without an error), until ctx is
// cancelled. A
// rate.Sometimes-style limiter isn't used here because restarts are
// already paced by the sleep itself; the limiter instead caps how
// often the "discovery error" log line fires when a cluster is
// persistently unreachable, so a tight failure loop doesn't flood logs.
func RunSupervised(ctx context.Context, src Source, commands chan<- Command, backoff time.Duration) {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	logger := log.WithComponent("discovery")
	logLimiter := rate.NewLimiter(rate.Every(time.Minute), 1)

	for {
		if ctx.Err() != nil {
			return
		}

		err := src.Run(ctx, commands)
		if ctx.Err() != nil {
			return
		}
		if err != nil && logLimiter.Allow() {
			logger.Error().Err(err).Dur("backoff", backoff).Msg("discovery source failed, restarting")
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}
