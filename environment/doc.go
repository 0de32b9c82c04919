// Package environment provides the process-wide execution environment.
//
// An Environment is created once per process run. It owns the root context,
// every background task started through Spawn, and the single metric
// collector installed with InstallCollector. The main goroutine uses
// BlockOn for calls that must finish before startup continues and Await to
// park until a shutdown signal resolves.
//
// Shutdown cancels the root context and joins the tasks, abandoning any
// that are still running after the configured timeout:
//
//	env := environment.New(ctx, environment.WithShutdownTimeout(5*time.Second))
//	defer env.Shutdown()
//
//	_ = env.Spawn("reader", loop)
//	conn, err := environment.BlockOn(env, dial)
package environment
