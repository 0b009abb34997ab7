package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/router/pkg/routererrors"
)

func TestAddBecomesReadyOnFirstSuccessfulProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(10*time.Millisecond, time.Second)
	err := r.Add(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL}, r.List())
}

func TestAddTimesOutIfWorkerNeverHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := New(5*time.Millisecond, 30*time.Millisecond)
	err := r.Add(context.Background(), srv.URL)
	assert.ErrorIs(t, err, routererrors.ErrWorkerProbeTimeout)
	assert.Empty(t, r.List())
}

func TestAddRetriesThroughTransientFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(5*time.Millisecond, time.Second)
	err := r.Add(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, 3)
}

func TestAddRejectsDuplicateURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(5*time.Millisecond, time.Second)
	require.NoError(t, r.Add(context.Background(), srv.URL))

	err := r.Add(context.Background(), srv.URL)
	assert.ErrorIs(t, err, routererrors.ErrWorkerExists)
}

func TestAddRejectsInvalidURLImmediately(t *testing.T) {
	r := New(time.Second, time.Second)
	start := time.Now()
	err := r.Add(context.Background(), "not-a-url")
	assert.ErrorIs(t, err, routererrors.ErrWorkerInvalidURL)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New(time.Second, time.Second)
	require.NoError(t, r.SeedReady("http://worker-a"))

	r.Remove("http://worker-a")
	assert.Empty(t, r.List())

	r.Remove("http://worker-a") // second call must not panic or error
	assert.Empty(t, r.List())
}

func TestRemoveNotifiesOnRemove(t *testing.T) {
	var removed []string
	r := New(time.Second, time.Second, WithOnRemove(func(url string) {
		removed = append(removed, url)
	}))
	require.NoError(t, r.SeedReady("http://worker-a"))

	r.Remove("http://worker-a")
	assert.Equal(t, []string{"http://worker-a"}, removed)
}

func TestNextRoundRobinDistributesAcrossWorkers(t *testing.T) {
	r := New(time.Second, time.Second)
	require.NoError(t, r.SeedReady("http://a"))
	require.NoError(t, r.SeedReady("http://b"))
	require.NoError(t, r.SeedReady("http://c"))

	counts := map[string]int{}
	for i := 0; i < 9; i++ {
		w, err := r.NextRoundRobin()
		require.NoError(t, err)
		counts[w]++
	}

	for _, w := range []string{"http://a", "http://b", "http://c"} {
		assert.Equal(t, 3, counts[w])
	}
}

func TestSelectionsOnEmptyRegistryAreUnavailable(t *testing.T) {
	r := New(time.Second, time.Second)

	_, err := r.NextRoundRobin()
	assert.True(t, errors.Is(err, routererrors.ErrUnavailable))

	_, err = r.First()
	assert.True(t, errors.Is(err, routererrors.ErrUnavailable))

	_, err = r.Random(func(n int) int { return 0 })
	assert.True(t, errors.Is(err, routererrors.ErrUnavailable))
}

func TestFirstReturnsRegistryOrder(t *testing.T) {
	r := New(time.Second, time.Second)
	require.NoError(t, r.SeedReady("http://b"))
	require.NoError(t, r.SeedReady("http://a"))

	first, err := r.First()
	require.NoError(t, err)
	assert.Equal(t, "http://b", first)
}
