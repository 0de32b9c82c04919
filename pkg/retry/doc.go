// Package retry provides exponential backoff retry logic for startup operations.
//
// The worker uses it for exactly one thing: dialing the host socket. The
// default is a single attempt (Once), which preserves fail-fast startup;
// operators can raise the attempt count when the host creates its socket
// slightly after spawning the worker.
//
//	conn, err := retry.DoWithResult(ctx, retry.Attempts(5), func() (net.Conn, error) {
//	    return dialer.DialContext(ctx, "unix", path)
//	})
//
// Errors wrapped with NonRetryable stop the loop immediately.
package retry
