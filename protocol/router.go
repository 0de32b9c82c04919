package protocol

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/c360/runtimeworker/errors"
)

// Handler serves requests arriving from the host
type Handler interface {
	Handle(ctx context.Context, method string, body []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, method string, body []byte) ([]byte, error)

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, method string, body []byte) ([]byte, error) {
	return f(ctx, method, body)
}

type binding struct {
	handler Handler
}

// Router is the dispatch slot between the protocol and the worker. It is
// created empty and bound exactly once; requests routed before Bind fail
// with ErrWorkerNotBound.
type Router struct {
	target atomic.Pointer[binding]
}

// NewRouter returns an unbound router
func NewRouter() *Router {
	return &Router{}
}

// Bind installs h as the request target. A second Bind fails with
// ErrAlreadyBound and leaves the first target in place.
func (r *Router) Bind(h Handler) error {
	if h == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Router", "Bind", "handler validation")
	}
	if !r.target.CompareAndSwap(nil, &binding{handler: h}) {
		return errors.WrapInvalid(errors.ErrAlreadyBound, "Router", "Bind", "bind worker")
	}
	return nil
}

// Bound reports whether a target has been installed
func (r *Router) Bound() bool {
	return r.target.Load() != nil
}

// Handle forwards to the bound target
func (r *Router) Handle(ctx context.Context, method string, body []byte) ([]byte, error) {
	b := r.target.Load()
	if b == nil {
		return nil, errors.Wrap(errors.ErrWorkerNotBound, "Router", "Handle",
			fmt.Sprintf("route %s", method))
	}
	return b.handler.Handle(ctx, method, body)
}
