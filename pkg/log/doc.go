/*
Package log provides structured logging for the router using zerolog.

Init sets up the global Logger once at startup from a Config (level,
JSON vs console output, destination writer). Every package that needs
to log derives a child logger from it via WithComponent, tagging each
record with which subsystem produced it:

	registryLog := log.WithComponent("registry")
	registryLog.Info().Str("worker", url).Msg("worker became ready")

WithWorker and WithPolicy attach the same context without naming a
component, for call sites that cut across components (e.g. the
forwarder and the registry tagging their records with the worker, and
CacheAware tagging its selection record with the policy).
*/
package log
