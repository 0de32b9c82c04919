// Package worker provides a generic, bounded worker pool.
//
// A Pool runs a fixed number of goroutines draining a bounded queue.
// Submit never blocks: when the queue is full it returns ErrQueueFull and
// the caller decides how to shed the load. The protocol handler uses this to
// answer host requests with a "busy" error instead of stalling its read
// loop.
//
//	pool, err := worker.NewPool(8, 256, func(ctx context.Context, req *Request) error {
//	    return handle(ctx, req)
//	}, worker.WithMetricsRegistry[*Request](registry, "dispatch"))
//	if err != nil {
//	    return err
//	}
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// A panicking processor does not take its goroutine down: the panic is
// recovered, counted, and reported through the optional panic handler.
//
// Statistics are always available through Stats. With WithMetricsRegistry
// the pool also exports runtime_worker_pool_* series labelled by pool name.
package worker
