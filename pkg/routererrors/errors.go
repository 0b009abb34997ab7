// Package routererrors defines the typed error kinds propagated across
// the router's components, so call sites can classify a failure with
// errors.Is/errors.As instead of matching on message text.
package routererrors

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigInvalid means startup configuration failed validation:
	// unknown policy, malformed worker URL, or an empty initial worker
	// set with discovery disabled. Aborts startup.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrUnavailable means no Ready worker existed at selection time.
	ErrUnavailable = errors.New("no ready worker available")

	// ErrWorkerProbeTimeout means a worker's startup probe never
	// succeeded within the configured timeout window.
	ErrWorkerProbeTimeout = errors.New("worker startup probe timed out")

	// ErrWorkerExists means add() was called with a URL already
	// present in the registry.
	ErrWorkerExists = errors.New("worker already registered")

	// ErrWorkerInvalidURL means add() was called with a syntactically
	// invalid URL.
	ErrWorkerInvalidURL = errors.New("invalid worker url")

	// ErrPayloadTooLarge means the inbound request body exceeded
	// max_payload_size.
	ErrPayloadTooLarge = errors.New("request payload too large")
)

// UpstreamError wraps a transport or non-2xx failure from a worker
// reached during forwarding. StatusCode is 0 when the failure never
// reached the point of getting a status line (dial/timeout errors),
// in which case callers treat it as a 502.
type UpstreamError struct {
	Worker     string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s returned status %d: %v", e.Worker, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s transport failure: %v", e.Worker, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
