// Package metrics defines the Prometheus metrics the router exposes on
// /metrics: request counts and latency by route, Ready worker count,
// per-worker policy selection counts, prefix-tree size, and discovery
// event counts. Call NewRegistry once per router instance and register
// its Handler on /metrics.
//
// Request counts and latency, policy selections and discovery events
// are updated by the router, policy and discovery packages.
// WorkersReady, TreeNodes, TreeChars and WorkerProbeDuration are
// registered and exposed, but nothing in this module sets or observes
// them, so they always report zero.
package metrics
