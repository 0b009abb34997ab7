package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/router/pkg/metrics"
)

type fakeApplier struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (f *fakeApplier) Add(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, url)
	return nil
}

func (f *fakeApplier) Remove(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, url)
}

func (f *fakeApplier) snapshot() (added, removed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...), append([]string(nil), f.removed...)
}

func TestReconcilerAppliesCommandsInOrder(t *testing.T) {
	applier := &fakeApplier{}
	r := NewReconciler(applier, metrics.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	r.Commands() <- Command{Kind: AddWorker, URL: "http://a"}
	r.Commands() <- Command{Kind: AddWorker, URL: "http://b"}
	r.Commands() <- Command{Kind: RemoveWorker, URL: "http://a"}

	require.Eventually(t, func() bool {
		added, removed := applier.snapshot()
		return len(added) == 2 && len(removed) == 1
	}, time.Second, 5*time.Millisecond)

	added, removed := applier.snapshot()
	assert.Equal(t, []string{"http://a", "http://b"}, added)
	assert.Equal(t, []string{"http://a"}, removed)
}

func TestReconcilerStopsOnStop(t *testing.T) {
	applier := &fakeApplier{}
	r := NewReconciler(applier, metrics.NewRegistry())
	r.Start(context.Background())
	r.Stop()

	select {
	case r.Commands() <- Command{Kind: AddWorker, URL: "http://late"}:
	default:
	}

	time.Sleep(20 * time.Millisecond)
	added, _ := applier.snapshot()
	assert.Empty(t, added)
}
