// Package policy selects which worker a request is forwarded to. It
// hosts the three variants the router supports — Random, RoundRobin,
// and CacheAware — behind a single Policy interface so the forwarder
// never needs to branch on which one is configured.
package policy

import (
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/sgl-project/router/pkg/log"
	"github.com/sgl-project/router/pkg/metrics"
	"github.com/sgl-project/router/pkg/routererrors"
	"github.com/sgl-project/router/pkg/tree"
)

// Registry is the subset of *registry.Registry the policies need.
// Defined here rather than imported to keep this package decoupled
// from the registry's concrete type and importable by its tests in
// isolation.
type Registry interface {
	List() []string
	Random(intn func(n int) int) (string, error)
	NextRoundRobin() (string, error)
}

// Policy selects a worker for a request.
type Policy interface {
	Select(body []byte) (string, error)
	Name() string
}

// Kind names one of the three supported policy variants.
type Kind string

const (
	KindRandom      Kind = "random"
	KindRoundRobin  Kind = "round_robin"
	KindCacheAware  Kind = "cache_aware"
)

// CacheAwareConfig carries CacheAware's tunables, mirroring
// PolicyConfig's CacheAware fields.
type CacheAwareConfig struct {
	CacheThreshold       float64
	BalanceAbsThreshold  int
	BalanceRelThreshold  float64
	EvictionIntervalSecs int
	MaxTreeSize          int
}

// DefaultCacheAwareConfig returns the documented defaults.
func DefaultCacheAwareConfig() CacheAwareConfig {
	return CacheAwareConfig{
		CacheThreshold:       0.50,
		BalanceAbsThreshold:  32,
		BalanceRelThreshold:  1.0001,
		EvictionIntervalSecs: 60,
		MaxTreeSize:          1 << 24,
	}
}

// randomPolicy picks a uniformly random Ready worker.
type randomPolicy struct {
	registry Registry
	metrics  *metrics.Registry
}

// NewRandom builds the Random policy.
func NewRandom(registry Registry, m *metrics.Registry) Policy {
	return &randomPolicy{registry: registry, metrics: m}
}

func (p *randomPolicy) Name() string { return string(KindRandom) }

func (p *randomPolicy) Select(_ []byte) (string, error) {
	worker, err := p.registry.Random(rand.Intn)
	if err != nil {
		return "", err
	}
	p.metrics.PolicySelections.WithLabelValues(p.Name(), worker).Inc()
	return worker, nil
}

// roundRobinPolicy cycles through the Ready sequence.
type roundRobinPolicy struct {
	registry Registry
	metrics  *metrics.Registry
}

// NewRoundRobin builds the RoundRobin policy.
func NewRoundRobin(registry Registry, m *metrics.Registry) Policy {
	return &roundRobinPolicy{registry: registry, metrics: m}
}

func (p *roundRobinPolicy) Name() string { return string(KindRoundRobin) }

func (p *roundRobinPolicy) Select(_ []byte) (string, error) {
	worker, err := p.registry.NextRoundRobin()
	if err != nil {
		return "", err
	}
	p.metrics.PolicySelections.WithLabelValues(p.Name(), worker).Inc()
	return worker, nil
}

// message is the subset of an OpenAI-style chat message this package
// reads: the content string CacheAware concatenates into its prefix
// text.
type message struct {
	Content string `json:"content"`
}

// requestFields is the subset of a request body CacheAware inspects.
// Every other field is forwarded opaquely by the caller.
type requestFields struct {
	Text     string    `json:"text"`
	Messages []message `json:"messages"`
	hasText  bool
	hasMsgs  bool
}

func parseRequestFields(body []byte) requestFields {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return requestFields{}
	}

	var out requestFields
	if textRaw, ok := raw["text"]; ok {
		if err := json.Unmarshal(textRaw, &out.Text); err == nil {
			out.hasText = true
		}
	}
	if msgsRaw, ok := raw["messages"]; ok {
		if err := json.Unmarshal(msgsRaw, &out.Messages); err == nil {
			out.hasMsgs = true
		}
	}
	return out
}

// prefixText renders the candidate prefix text per spec: the `text`
// field if present, else the concatenation of `messages[*].content`.
func (f requestFields) prefixText() (text string, ok bool) {
	if f.hasText {
		return f.Text, true
	}
	if f.hasMsgs {
		var b strings.Builder
		for _, m := range f.Messages {
			b.WriteString(m.Content)
		}
		return b.String(), true
	}
	return "", false
}

// cacheAwarePolicy implements the prefix-steered policy with a
// load-balance escape hatch, backed by a radix tree of historical
// placements.
type cacheAwarePolicy struct {
	registry Registry
	tree     *tree.Tree
	cfg      CacheAwareConfig
	metrics  *metrics.Registry
	fallback Policy
}

// NewCacheAware builds the CacheAware policy. t is the prefix tree it
// reads and writes; fallback is used whenever a request carries
// neither `text` nor `messages`, per spec step 1.
func NewCacheAware(registry Registry, t *tree.Tree, cfg CacheAwareConfig, m *metrics.Registry, fallback Policy) Policy {
	return &cacheAwarePolicy{registry: registry, tree: t, cfg: cfg, metrics: m, fallback: fallback}
}

func (p *cacheAwarePolicy) Name() string { return string(KindCacheAware) }

func (p *cacheAwarePolicy) Select(body []byte) (string, error) {
	workers := p.registry.List()
	if len(workers) == 0 {
		return "", routererrors.ErrUnavailable
	}

	fields := parseRequestFields(body)
	text, ok := fields.prefixText()
	if !ok {
		return p.fallback.Select(body)
	}

	bestWorker, matchedLen := p.tree.PrefixMatch(text, workers)
	matchRatio := 0.0
	if len(text) > 0 {
		matchRatio = float64(matchedLen) / float64(len(text))
	}

	loads := p.tree.Loads(workers)
	lMin, lMax := minMaxLoad(workers, loads)

	var selected string
	switch {
	case float64(lMax-lMin) > float64(p.cfg.BalanceAbsThreshold) &&
		float64(lMax) > float64(lMin)*p.cfg.BalanceRelThreshold:
		selected = smallestLoadWorker(workers, loads)
	case matchRatio >= p.cfg.CacheThreshold && bestWorker != "" && contains(workers, bestWorker):
		selected = bestWorker
	default:
		selected = smallestLoadWorker(workers, loads)
	}

	p.tree.Insert(text, selected)
	p.metrics.PolicySelections.WithLabelValues(p.Name(), selected).Inc()
	log.WithPolicy(p.Name()).Debug().
		Str("worker", selected).
		Float64("match_ratio", matchRatio).
		Int("load_min", lMin).
		Int("load_max", lMax).
		Msg("selected worker")
	return selected, nil
}

func minMaxLoad(workers []string, loads map[string]int) (min, max int) {
	min, max = loads[workers[0]], loads[workers[0]]
	for _, w := range workers[1:] {
		l := loads[w]
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
	}
	return min, max
}

// smallestLoadWorker returns the Ready worker with the smallest load,
// ties broken by registry order (workers is already in that order).
func smallestLoadWorker(workers []string, loads map[string]int) string {
	best := workers[0]
	bestLoad := loads[best]
	for _, w := range workers[1:] {
		if loads[w] < bestLoad {
			best = w
			bestLoad = loads[w]
		}
	}
	return best
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// StartEviction launches the tree's periodic eviction loop. Returned
// stop function cancels it; callers should invoke it once on server
// shutdown.
func (p *cacheAwarePolicy) StartEviction() (stop func()) {
	done := make(chan struct{})
	go p.tree.RunEvictionLoop(done, time.Duration(p.cfg.EvictionIntervalSecs)*time.Second, p.cfg.MaxTreeSize)
	return func() { close(done) }
}
