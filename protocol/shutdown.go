package protocol

import (
	"sync"
	"sync/atomic"
)

// ShutdownReason says why the shutdown signal resolved
type ShutdownReason int32

// Shutdown reasons
const (
	ReasonNone ShutdownReason = iota
	ReasonChannelClosed
	ReasonHostRequested
)

func (r ShutdownReason) String() string {
	switch r {
	case ReasonChannelClosed:
		return "channel closed"
	case ReasonHostRequested:
		return "host requested"
	default:
		return "none"
	}
}

// ShutdownSignal resolves once, when the host asks the worker to stop or
// the channel to the host goes away. Later resolutions are ignored.
type ShutdownSignal struct {
	once   sync.Once
	done   chan struct{}
	reason atomic.Int32
}

func newShutdownSignal() *ShutdownSignal {
	return &ShutdownSignal{done: make(chan struct{})}
}

// Done is closed when the signal resolves
func (s *ShutdownSignal) Done() <-chan struct{} {
	return s.done
}

// Resolved reports whether the signal has fired
func (s *ShutdownSignal) Resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Reason returns the first resolution reason, or ReasonNone
func (s *ShutdownSignal) Reason() ShutdownReason {
	return ShutdownReason(s.reason.Load())
}

func (s *ShutdownSignal) resolve(reason ShutdownReason) bool {
	fired := false
	s.once.Do(func() {
		s.reason.Store(int32(reason))
		close(s.done)
		fired = true
	})
	return fired
}
