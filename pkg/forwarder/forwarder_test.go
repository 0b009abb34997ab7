package forwarder

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sgl-project/router/pkg/routererrors"
)

type staticFirst struct{ url string }

func (s staticFirst) First() (string, error) { return s.url, nil }

type staticSelector struct{ url string }

func (s staticSelector) Select(_ []byte) (string, error) { return s.url, nil }

func TestRouteFirstProxiesVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer upstream.Close()

	fwd := New(staticFirst{upstream.URL}, staticSelector{upstream.URL})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	fwd.RouteFirst(rec, req, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouteGenerateBuffersNonStreamingResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"text":"hi"}`, string(body))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("generated"))
	}))
	defer upstream.Close()

	fwd := New(staticFirst{upstream.URL}, staticSelector{upstream.URL})

	body := []byte(`{"text":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	rec := httptest.NewRecorder()
	fwd.RouteGenerate(rec, req, "/generate", body, false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "generated", rec.Body.String())
}

func TestRouteGenerateStreamsChunks(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"a", "b", "c"} {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	fwd := New(staticFirst{upstream.URL}, staticSelector{upstream.URL})

	body := []byte(`{"stream":true,"text":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	rec := httptest.NewRecorder()
	fwd.RouteGenerate(rec, req, "/generate", body, true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "abc", rec.Body.String())
}

func TestRouteGenerateSurfacesUpstreamStatusVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer upstream.Close()

	fwd := New(staticFirst{upstream.URL}, staticSelector{upstream.URL})

	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	rec := httptest.NewRecorder()
	fwd.RouteGenerate(rec, req, "/generate", []byte(`{}`), false)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouteFirstOnUnavailableReturns503(t *testing.T) {
	fwd := New(unavailableFirst{}, staticSelector{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	fwd.RouteFirst(rec, req, "/health")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type unavailableFirst struct{}

func (unavailableFirst) First() (string, error) {
	return "", routererrors.ErrUnavailable
}
