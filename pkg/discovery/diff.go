package discovery

import (
	"strconv"
	"strings"
)

// EndpointState tracks, per endpoint group, the set of worker URLs
// last reported for it, so a Source can diff a new full-state view
// against what it previously reported.
type EndpointState struct {
	groups map[string]map[string]struct{}
}

// NewEndpointState creates an empty tracker.
func NewEndpointState() *EndpointState {
	return &EndpointState{groups: make(map[string]map[string]struct{})}
}

// Update replaces group's known URL set with urls and returns the
// Commands needed to bring the reconciler's view in line: AddWorker
// for newcomers, RemoveWorker for departers.
func (s *EndpointState) Update(group string, urls []string) []Command {
	newSet := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		newSet[u] = struct{}{}
	}

	old := s.groups[group]
	var cmds []Command
	for u := range newSet {
		if _, ok := old[u]; !ok {
			cmds = append(cmds, Command{Kind: AddWorker, URL: u})
		}
	}
	for u := range old {
		if _, ok := newSet[u]; !ok {
			cmds = append(cmds, Command{Kind: RemoveWorker, URL: u})
		}
	}

	s.groups[group] = newSet
	return cmds
}

// Delete removes group entirely and returns RemoveWorker for every
// URL it owned, as on a delete event for the whole endpoint group.
func (s *EndpointState) Delete(group string) []Command {
	old := s.groups[group]
	cmds := make([]Command, 0, len(old))
	for u := range old {
		cmds = append(cmds, Command{Kind: RemoveWorker, URL: u})
	}
	delete(s.groups, group)
	return cmds
}

// RenderURL builds the worker URL for one (address, port) pair per
// the discovery config: "{protocol}://{address}:{port}{worker_path}",
// with worker_path normalised to start with "/" iff non-empty.
func RenderURL(protocol, address string, port int32, workerPath string) string {
	path := workerPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.Join([]string{protocol, "://", address, ":", strconv.Itoa(int(port)), path}, "")
}
