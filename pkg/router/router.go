// Package router wires the registry, policy engine, and forwarder
// behind the router's external HTTP surface: the proxied
// route_first endpoints, the policy-driven generation endpoints, the
// admin add_worker/remove_worker routes, and /metrics.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sgl-project/router/pkg/log"
	"github.com/sgl-project/router/pkg/metrics"
	"github.com/sgl-project/router/pkg/routererrors"
)

// RegistryAdder is the subset of *registry.Registry the admin surface
// drives.
type RegistryAdder interface {
	Add(ctx context.Context, url string) error
	Remove(url string)
}

// Forwarder is the subset of *forwarder.Forwarder the HTTP handlers
// call into.
type Forwarder interface {
	RouteFirst(w http.ResponseWriter, r *http.Request, path string)
	RouteGenerate(w http.ResponseWriter, r *http.Request, path string, body []byte, stream bool)
}

// Router builds the http.Handler for the whole external interface and
// owns the *http.Server that serves it.
type Router struct {
	registry       RegistryAdder
	forwarder      Forwarder
	metrics        *metrics.Registry
	maxPayloadSize int64

	server *http.Server
}

// New builds a Router. maxPayloadSize bounds both the inbound payload
// and the JSON body read for policy selection, per spec.md §5.
func New(registry RegistryAdder, fwd Forwarder, m *metrics.Registry, maxPayloadSize int64) *Router {
	return &Router{registry: registry, forwarder: fwd, metrics: m, maxPayloadSize: maxPayloadSize}
}

// Handler builds the mux for the full external interface.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	for _, path := range []string{"/health", "/health_generate", "/get_server_info", "/get_model_info", "/v1/models"} {
		path := path
		mux.HandleFunc(path, rt.instrument(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			rt.forwarder.RouteFirst(w, r, path)
		}))
	}

	for _, path := range []string{"/generate", "/v1/chat/completions", "/v1/completions"} {
		path := path
		mux.HandleFunc(path, rt.instrument(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			rt.handleGenerate(w, r, path)
		}))
	}

	mux.HandleFunc("/add_worker", rt.instrument("/add_worker", rt.handleAddWorker))
	mux.HandleFunc("/remove_worker", rt.instrument("/remove_worker", rt.handleRemoveWorker))
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.HandleFunc("/", rt.instrument("/", rt.handleNotFound))

	return mux
}

// instrument wraps a handler with the requests-total and
// request-duration metrics, labelled by route.
func (rt *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		rt.metrics.RequestsTotal.WithLabelValues(route, fmt.Sprintf("%d", sw.status)).Inc()
		timer.ObserveDurationVec(rt.metrics.RequestDuration, route)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requestBody is the subset of a generation request body this
// package itself reads, to decide whether to stream.
type requestBody struct {
	Stream bool `json:"stream"`
}

func (rt *Router) handleGenerate(w http.ResponseWriter, r *http.Request, path string) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.maxPayloadSize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, routererrors.ErrPayloadTooLarge.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	var parsed requestBody
	_ = json.Unmarshal(body, &parsed) // opaque body; stream defaults false on parse failure

	rt.forwarder.RouteGenerate(w, r, path, body, parsed.Stream)
}

func (rt *Router) handleAddWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}

	if err := rt.registry.Add(r.Context(), url); err != nil {
		log.WithComponent("admin").Warn().Str("url", url).Err(err).Msg("add_worker failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "worker %s added", url)
}

func (rt *Router) handleRemoveWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}

	rt.registry.Remove(url)
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "worker %s removed", url)
}

// handleNotFound drains the request body before returning 404, so a
// client waiting on the server to read its body doesn't hang, per
// spec.md §4.6's "drain the request body and return 404".
func (rt *Router) handleNotFound(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, rt.maxPayloadSize))
	http.NotFound(w, r)
}

// Start serves Handler on addr until ctx is cancelled, then shuts
// down gracefully with a 10s grace period.
func (rt *Router) Start(ctx context.Context, addr string) error {
	rt.server = &http.Server{
		Addr:         addr,
		Handler:      rt.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // generation responses can stream arbitrarily long
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	logger := log.WithComponent("router")
	logger.Info().Str("addr", addr).Msg("router listening")

	errCh := make(chan error, 1)
	go func() {
		if err := rt.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info().Msg("shutting down router")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return rt.server.Shutdown(shutdownCtx)
}
