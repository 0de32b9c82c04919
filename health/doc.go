// Package health tracks the health of the worker's components and serves
// the aggregate over HTTP.
//
// Components report one of three levels:
//   - healthy: operating normally
//   - degraded: operating, but a dependency is failing
//   - unhealthy: not serving
//
// The aggregate takes the worst level of its components. Error messages
// passed through FromError or UpdateError have paths, addresses and
// credentials masked, since the status is exposed on the metrics
// listener in pull mode.
//
//	monitor := health.NewMonitor("runtime-worker")
//	monitor.UpdateHealthy("protocol", "connected")
//	monitor.UpdateError("worker", loadErr)
//
//	mux.Handle("/health", monitor.Handler())
package health
