package transport

import (
	"context"
	"net"
	"time"

	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/pkg/retry"
)

// DialConfig controls connecting to the host socket
type DialConfig struct {
	// Attempts is the total number of connect attempts. Values below 1 mean 1.
	Attempts int
	// Backoff is the delay before the second attempt; it doubles per attempt.
	Backoff time.Duration
	// Timeout bounds each individual attempt. Zero means no per-attempt bound.
	Timeout time.Duration
}

// DefaultDialConfig makes one attempt, failing fast
func DefaultDialConfig() DialConfig {
	return DialConfig{
		Attempts: 1,
		Backoff:  100 * time.Millisecond,
		Timeout:  5 * time.Second,
	}
}

// Dial connects to the unix socket at path and returns a framed channel.
// The returned error is transient; callers decide whether it is fatal.
func Dial(ctx context.Context, path string, cfg DialConfig, opts ...Option) (*Channel, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "transport", "Dial", "host socket path")
	}

	policy := retry.Attempts(cfg.Attempts)
	if cfg.Backoff > 0 {
		policy.InitialDelay = cfg.Backoff
		if policy.MaxDelay < cfg.Backoff {
			policy.MaxDelay = cfg.Backoff * 8
		}
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := retry.DoWithResult(ctx, policy, func() (net.Conn, error) {
		return dialer.DialContext(ctx, "unix", path)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "transport", "Dial", "connect to host socket "+path)
	}

	return NewChannel(conn, opts...), nil
}
