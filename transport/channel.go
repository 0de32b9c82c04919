package transport

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/metric"
)

// Option configures a Channel
type Option func(*Channel)

// WithLogger sets the channel logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics counts frames in the core metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Channel) {
		c.metrics = m
	}
}

// WithMaxPayload overrides DefaultMaxPayload
func WithMaxPayload(n uint64) Option {
	return func(c *Channel) {
		if n > 0 {
			c.maxPayload = n
		}
	}
}

// Channel is a framed duplex stream to the host. Recv must be called from a
// single goroutine; Send may be called concurrently.
type Channel struct {
	conn       net.Conn
	reader     *bufio.Reader
	maxPayload uint64
	metrics    *metric.Metrics
	logger     *slog.Logger

	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewChannel wraps an established connection
func NewChannel(conn net.Conn, opts ...Option) *Channel {
	c := &Channel{
		conn:       conn,
		reader:     bufio.NewReaderSize(conn, 64<<10),
		maxPayload: DefaultMaxPayload,
		logger:     slog.Default().With("component", "transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recv blocks for the next frame. io.EOF means the host closed the stream.
func (c *Channel) Recv() (Frame, error) {
	f, err := ReadFrame(c.reader, c.maxPayload)
	if err != nil {
		if c.closed.Load() || stderrors.Is(err, net.ErrClosed) {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}
	if c.metrics != nil {
		c.metrics.RecordFrame("in")
	}
	return f, nil
}

// Send writes one frame. Concurrent calls are serialized.
func (c *Channel) Send(f Frame) error {
	if c.closed.Load() {
		return errors.WrapTransient(errors.ErrConnectionLost, "Channel", "Send", "channel closed")
	}

	c.writeMu.Lock()
	err := WriteFrame(c.conn, f, c.maxPayload)
	c.writeMu.Unlock()
	if err != nil {
		if errors.IsInvalid(err) {
			return err
		}
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err), "Channel", "Send", "write frame")
	}

	if c.metrics != nil {
		c.metrics.RecordFrame("out")
	}
	return nil
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
		c.logger.Debug("Channel closed")
	})
	return c.closeErr
}

// Closed reports whether Close has been called
func (c *Channel) Closed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the peer address
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
