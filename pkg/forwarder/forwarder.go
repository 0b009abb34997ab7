// Package forwarder implements the router's two forwarding contracts:
// route_first, which proxies a GET to any Ready worker verbatim, and
// route_generate, which consults the policy engine and streams or
// buffers the worker's response back to the client.
package forwarder

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sgl-project/router/pkg/log"
	"github.com/sgl-project/router/pkg/routererrors"
)

// Selector is the subset of the policy engine the forwarder drives
// for POST routes; First is satisfied by the registry directly.
type Selector interface {
	Select(body []byte) (string, error)
}

// FirstPicker selects any Ready worker, first in registry order, used
// by route_first for health and info endpoints.
type FirstPicker interface {
	First() (string, error)
}

// Forwarder issues the outbound HTTP calls the router makes to
// workers, sharing one process-wide http.Client for connection reuse.
type Forwarder struct {
	client  *http.Client
	first   FirstPicker
	policy  Selector
}

// New builds a Forwarder. The shared client's idle-connection timeout
// matches the spec's 50s pooling window.
func New(first FirstPicker, policy Selector) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			Transport: &http.Transport{
				IdleConnTimeout: 50 * time.Second,
			},
		},
		first:  first,
		policy: policy,
	}
}

// RouteFirst issues a GET to {worker}{path} against any Ready worker
// and copies its response verbatim onto w.
func (f *Forwarder) RouteFirst(w http.ResponseWriter, r *http.Request, path string) {
	worker, err := f.first.First()
	if err != nil {
		writeUnavailable(w, err)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, worker+path, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	copyRequestHeaders(req, r)

	resp, err := f.client.Do(req)
	if err != nil {
		writeUpstreamError(w, &routererrors.UpstreamError{Worker: worker, Err: err})
		return
	}
	defer resp.Body.Close()

	copyResponse(w, resp)
}

// RouteGenerate selects a worker via the policy engine, issues a POST
// with body to {worker}{path}, and relays the response: chunked if
// the request's `stream` field is true, buffered otherwise. The
// policy engine is never re-consulted after an upstream failure.
func (f *Forwarder) RouteGenerate(w http.ResponseWriter, r *http.Request, path string, body []byte, stream bool) {
	worker, err := f.policy.Select(body)
	if err != nil {
		writeUnavailable(w, err)
		return
	}

	logger := log.WithWorker(worker)
	requestID := uuid.New().String()

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, worker+path, bytes.NewReader(body))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	copyRequestHeaders(req, r)
	req.Header.Set("X-Request-Id", requestID)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		logger.Warn().Str("request_id", requestID).Err(err).Msg("upstream transport failure")
		writeUpstreamError(w, &routererrors.UpstreamError{Worker: worker, Err: err})
		return
	}
	defer resp.Body.Close()

	if stream {
		streamResponse(w, resp)
		return
	}
	copyResponse(w, resp)
}

func copyRequestHeaders(out *http.Request, in *http.Request) {
	for k, vs := range in.Header {
		for _, v := range vs {
			out.Header.Add(k, v)
		}
	}
	out.Header.Set("X-Forwarded-For", in.RemoteAddr)
	out.Header.Set("X-Forwarded-Proto", schemeOf(in))
	out.Header.Set("X-Forwarded-Host", in.Host)
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// copyResponse buffers and relays the whole upstream body, preserving
// status code and content-type.
func copyResponse(w http.ResponseWriter, resp *http.Response) {
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// streamResponse relays the upstream body as it arrives, flushing
// after every chunk so the client sees a true chunked stream.
func streamResponse(w http.ResponseWriter, resp *http.Response) {
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func writeUnavailable(w http.ResponseWriter, err error) {
	http.Error(w, fmt.Sprintf("no ready worker available: %v", err), http.StatusServiceUnavailable)
}

// writeUpstreamError surfaces a 502 when the failure never reached a
// status line, or the upstream's own status code verbatim otherwise.
func writeUpstreamError(w http.ResponseWriter, err *routererrors.UpstreamError) {
	status := http.StatusBadGateway
	if err.StatusCode != 0 {
		status = err.StatusCode
	}
	http.Error(w, err.Error(), status)
}
