// Package errors provides standardized error handling for the runtime worker.
//
// # Overview
//
// Errors are classified into three classes that drive how the process reacts:
//
//   - Transient: network hiccups, a failed metrics push, a full request queue.
//     Contained inside the component that observed them; the next attempt is
//     the retry.
//   - Invalid: malformed requests, bad storage keys, unknown methods. Returned
//     to the caller (for protocol requests, as an error response).
//   - Fatal: anything that fails during startup (missing runtime artifact,
//     unreachable host socket, unwritable cache directory). Propagated to main
//     and turned into a non-zero exit code.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Use the classification-aware wrappers:
//
//	errors.WrapTransient(err, "Pusher", "PushMetrics", "push to gateway")
//	errors.WrapInvalid(err, "Router", "Handle", "dispatch request")
//	errors.WrapFatal(err, "Lifecycle", "Run", "open persistent storage")
//
// Wrap preserves the classification of the wrapped error:
//
//	errors.Wrap(err, "Backend", "Get", "read layer 0")
//
// # Standard Error Variables
//
// Sentinels cover the conditions the worker distinguishes explicitly, for
// example ErrWorkerNotBound (a request arrived before a worker was bound),
// ErrAlreadyBound (a second bind attempt), and ErrAlreadyInstalled (a second
// metric collector installation). All of them work with errors.Is through
// any number of wrapping layers:
//
//	if errors.Is(err, errors.ErrKeyNotFound) {
//	    // fall through to the next storage layer
//	}
package errors
