/*
Package health implements the startup health check used to admit a
worker into the routing registry.

The router never runs an ongoing health monitor against a worker:
once a worker passes its startup probe it is Ready until explicitly
removed (see pkg/registry). This package only needs to express "is
this one URL answering right now", so it carries a single Checker
implementation, HTTPChecker, polled by the registry at a fixed
interval until it succeeds or the overall startup timeout elapses.
*/
package health
