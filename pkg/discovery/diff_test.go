package discovery

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sortedURLs(cmds []Command, kind CommandKind) []string {
	var out []string
	for _, c := range cmds {
		if c.Kind == kind {
			out = append(out, c.URL)
		}
	}
	sort.Strings(out)
	return out
}

func TestEndpointStateDiffAddsNewcomersOnly(t *testing.T) {
	s := NewEndpointState()
	cmds := s.Update("group-a", []string{"http://1", "http://2"})

	assert.Equal(t, []string{"http://1", "http://2"}, sortedURLs(cmds, AddWorker))
	assert.Empty(t, sortedURLs(cmds, RemoveWorker))
}

func TestEndpointStateDiffEmitsAddAndRemoveOnChange(t *testing.T) {
	s := NewEndpointState()
	s.Update("group-a", []string{"http://1", "http://2"})

	cmds := s.Update("group-a", []string{"http://2", "http://3"})
	assert.Equal(t, []string{"http://3"}, sortedURLs(cmds, AddWorker))
	assert.Equal(t, []string{"http://1"}, sortedURLs(cmds, RemoveWorker))
}

func TestEndpointStateDiffIsStableOnNoChange(t *testing.T) {
	s := NewEndpointState()
	s.Update("group-a", []string{"http://1"})
	cmds := s.Update("group-a", []string{"http://1"})
	assert.Empty(t, cmds)
}

func TestEndpointStateDeleteRemovesEverythingOwned(t *testing.T) {
	s := NewEndpointState()
	s.Update("group-a", []string{"http://1", "http://2"})

	cmds := s.Delete("group-a")
	assert.Equal(t, []string{"http://1", "http://2"}, sortedURLs(cmds, RemoveWorker))

	// deleting again yields nothing, group is already gone
	assert.Empty(t, s.Delete("group-a"))
}

func TestRenderURLNormalisesWorkerPath(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:8000/worker", RenderURL("http", "10.0.0.1", 8000, "worker"))
	assert.Equal(t, "http://10.0.0.1:8000/worker", RenderURL("http", "10.0.0.1", 8000, "/worker"))
	assert.Equal(t, "http://10.0.0.1:8000", RenderURL("http", "10.0.0.1", 8000, ""))
}

func TestSequenceOfFullStateUpdatesReconstructsLastObservedSet(t *testing.T) {
	// Invariant 5: (AddWorker U initial) minus RemoveWorker == last observed set.
	s := NewEndpointState()
	observed := map[string]struct{}{}

	apply := func(cmds []Command) {
		for _, c := range cmds {
			switch c.Kind {
			case AddWorker:
				observed[c.URL] = struct{}{}
			case RemoveWorker:
				delete(observed, c.URL)
			}
		}
	}

	apply(s.Update("g", []string{"a", "b", "c"}))
	apply(s.Update("g", []string{"b", "c", "d"}))
	apply(s.Update("g", []string{"d"}))

	assert.Equal(t, map[string]struct{}{"d": {}}, observed)
}
