// Package protocol runs the request/response protocol between the worker and
// its host over a transport channel.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/runtimeworker/environment"
	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/health"
	"github.com/c360/runtimeworker/identity"
	"github.com/c360/runtimeworker/metric"
	"github.com/c360/runtimeworker/pkg/worker"
	"github.com/c360/runtimeworker/storage"
	"github.com/c360/runtimeworker/transport"
)

// Defaults for the inbound dispatch pool and outbound calls
const (
	DefaultDispatchWorkers = 4
	DefaultDispatchQueue   = 64
	DefaultCallTimeout     = 30 * time.Second
	drainTimeout           = 2 * time.Second
)

// Option configures a Protocol
type Option func(*Protocol)

// WithLogger sets the protocol logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Protocol) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records protocol and dispatch pool metrics in registry
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(p *Protocol) {
		p.registry = registry
	}
}

// WithDispatch sizes the inbound request pool
func WithDispatch(workers, queue int) Option {
	return func(p *Protocol) {
		p.workers = workers
		p.queue = queue
	}
}

// WithCallTimeout bounds outbound calls whose context has no deadline.
// Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Protocol) {
		p.callTimeout = d
	}
}

// Protocol owns the channel to the host. Inbound requests are routed to the
// Router's target; outbound calls are matched to responses by frame ID.
type Protocol struct {
	ch       *transport.Channel
	router   Handler
	shutdown *ShutdownSignal
	pool     *worker.Pool[transport.Frame]
	health   *health.Monitor

	logger      *slog.Logger
	registry    *metric.MetricsRegistry
	metrics     *metric.Metrics
	workers     int
	queue       int
	callTimeout time.Duration

	nextID    atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan transport.Frame
	lost      bool
}

var (
	_ storage.Store     = (*Protocol)(nil)
	_ storage.Named     = (*Protocol)(nil)
	_ identity.Provider = (*Protocol)(nil)
)

// New takes ownership of ch and starts serving it as environment tasks.
// The returned signal resolves when the host sends a shutdown frame or the
// channel closes. Requests are routed through router, which may be bound
// after New returns.
func New(env *environment.Environment, ch *transport.Channel, router Handler, opts ...Option) (*Protocol, *ShutdownSignal, error) {
	if env == nil || ch == nil || router == nil {
		return nil, nil, errors.WrapInvalid(errors.ErrMissingConfig, "Protocol", "New", "argument validation")
	}

	p := &Protocol{
		ch:          ch,
		router:      router,
		shutdown:    newShutdownSignal(),
		health:      env.Health(),
		logger:      slog.Default().With("component", "protocol"),
		workers:     DefaultDispatchWorkers,
		queue:       DefaultDispatchQueue,
		callTimeout: DefaultCallTimeout,
		pending:     make(map[uint64]chan transport.Frame),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry != nil {
		p.metrics = p.registry.CoreMetrics()
	}

	poolOpts := []worker.Option[transport.Frame]{
		worker.WithPanicHandler(func(f transport.Frame, recovered any) {
			p.logger.Error("Request handler panicked", "id", f.ID, "panic", recovered)
			p.reply(f.ID, nil, errors.WrapFatal(fmt.Errorf("%w: %v", worker.ErrProcessorPanic, recovered),
				"Protocol", "dispatch", "handle request"))
		}),
	}
	if p.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[transport.Frame](p.registry, "protocol"))
	}
	pool, err := worker.NewPool(p.workers, p.queue, p.dispatch, poolOpts...)
	if err != nil {
		return nil, nil, errors.WrapFatal(err, "Protocol", "New", "create dispatch pool")
	}
	p.pool = pool

	if err := p.pool.Start(env.Context()); err != nil {
		return nil, nil, errors.WrapFatal(err, "Protocol", "New", "start dispatch pool")
	}
	p.health.UpdateHealthy("protocol", "connected to host")
	if err := env.Spawn("protocol-reader", p.readLoop); err != nil {
		_ = p.pool.Stop(drainTimeout)
		return nil, nil, errors.WrapFatal(err, "Protocol", "New", "start reader")
	}

	return p, p.shutdown, nil
}

// Name identifies the protocol as a storage layer
func (p *Protocol) Name() string {
	return "remote"
}

// Shutdown returns the signal returned by New
func (p *Protocol) Shutdown() *ShutdownSignal {
	return p.shutdown
}

// Close closes the channel. The reader then resolves the shutdown signal.
func (p *Protocol) Close() error {
	return p.ch.Close()
}

func (p *Protocol) readLoop(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = p.ch.Close() })
	defer stop()
	defer p.terminate()

	for {
		f, err := p.ch.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.logger.Info("Host channel closed")
				return nil
			}
			p.logger.Error("Host channel read failed", "error", err)
			return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
				"Protocol", "readLoop", "read frame")
		}

		switch f.Type {
		case transport.TypeRequest:
			p.accept(f)
		case transport.TypeResponse:
			p.deliver(f)
		case transport.TypeShutdown:
			if p.shutdown.resolve(ReasonHostRequested) {
				p.logger.Info("Host requested shutdown")
			}
		default:
			p.logger.Warn("Dropping frame of unknown type", "type", f.Type, "id", f.ID)
		}
	}
}

// terminate runs once the reader stops: nothing more can arrive, so pending
// calls fail and the shutdown signal fires.
func (p *Protocol) terminate() {
	_ = p.ch.Close()

	p.pendingMu.Lock()
	p.lost = true
	for id, waiter := range p.pending {
		close(waiter)
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()

	if err := p.pool.Stop(drainTimeout); err != nil {
		p.logger.Warn("Dispatch pool did not drain", "error", err)
	}
	p.shutdown.resolve(ReasonChannelClosed)
	p.health.UpdateUnhealthy("protocol", "host channel closed: "+p.shutdown.Reason().String())
}

func (p *Protocol) accept(f transport.Frame) {
	if err := p.pool.Submit(f); err != nil {
		p.logger.Warn("Rejecting request", "id", f.ID, "error", err)
		if p.metrics != nil {
			p.metrics.RecordRequest("", ErrorCode(err), 0)
		}
		p.reply(f.ID, nil, err)
	}
}

func (p *Protocol) dispatch(ctx context.Context, f transport.Frame) error {
	start := time.Now()

	var req request
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		err = errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "Protocol", "dispatch", "decode request")
		p.record("", err, start)
		p.reply(f.ID, nil, err)
		return err
	}

	body, err := p.router.Handle(ctx, req.Method, req.Body)
	p.record(req.Method, err, start)
	p.reply(f.ID, body, err)
	if err != nil {
		p.logger.Debug("Request failed", "id", f.ID, "method", req.Method, "error", err)
	}
	return err
}

func (p *Protocol) record(method string, err error, start time.Time) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = ErrorCode(err)
	}
	p.metrics.RecordRequest(method, status, time.Since(start))
}

func (p *Protocol) reply(id uint64, body []byte, err error) {
	f := transport.Frame{Type: transport.TypeResponse, ID: id, Payload: body}
	if err != nil {
		f.Flags = transport.FlagError
		f.Payload = encodeError(err)
	}
	if sendErr := p.ch.Send(f); sendErr != nil {
		p.logger.Debug("Response not sent", "id", id, "error", sendErr)
	}
}

func (p *Protocol) deliver(f transport.Frame) {
	p.pendingMu.Lock()
	waiter, ok := p.pending[f.ID]
	if ok {
		delete(p.pending, f.ID)
	}
	p.pendingMu.Unlock()

	if !ok {
		p.logger.Warn("Response for unknown call", "id", f.ID)
		return
	}
	waiter <- f
}

// Call sends method with in encoded as JSON and decodes the response into
// out, which may be nil. Error responses are returned as *RemoteError.
func (p *Protocol) Call(ctx context.Context, method string, in, out any) error {
	var body json.RawMessage
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.WrapInvalid(err, "Protocol", "Call", "encode "+method)
		}
		body = data
	}
	payload, err := json.Marshal(request{Method: method, Body: body})
	if err != nil {
		return errors.WrapInvalid(err, "Protocol", "Call", "encode "+method)
	}

	id := p.nextID.Add(1)
	waiter := make(chan transport.Frame, 1)

	p.pendingMu.Lock()
	if p.lost {
		p.pendingMu.Unlock()
		return errors.WrapTransient(errors.ErrConnectionLost, "Protocol", "Call", "call "+method)
	}
	p.pending[id] = waiter
	p.pendingMu.Unlock()

	if p.metrics != nil {
		p.metrics.PendingCalls.Inc()
		defer p.metrics.PendingCalls.Dec()
	}
	defer p.forget(id)

	if p.callTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.callTimeout)
			defer cancel()
		}
	}

	if err := p.ch.Send(transport.Frame{Type: transport.TypeRequest, ID: id, Payload: payload}); err != nil {
		return errors.Wrap(err, "Protocol", "Call", "send "+method)
	}

	select {
	case f, ok := <-waiter:
		if !ok {
			return errors.WrapTransient(errors.ErrConnectionLost, "Protocol", "Call", "await "+method)
		}
		if f.IsError() {
			return errors.Wrap(decodeError(f.Payload), "Protocol", "Call", method)
		}
		if out != nil {
			if err := json.Unmarshal(f.Payload, out); err != nil {
				return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
					"Protocol", "Call", "decode "+method)
			}
		}
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, ctx.Err()),
			"Protocol", "Call", "await "+method)
	}
}

func (p *Protocol) forget(id uint64) {
	p.pendingMu.Lock()
	delete(p.pending, id)
	p.pendingMu.Unlock()
}

// Pending returns the number of outbound calls awaiting a response
func (p *Protocol) Pending() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}

// Get reads key from host storage
func (p *Protocol) Get(ctx context.Context, key string) ([]byte, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	var resp storageGetResponse
	if err := p.Call(ctx, MethodStorageGet, storageGetRequest{Key: key}, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Put writes key to host storage
func (p *Protocol) Put(ctx context.Context, key string, value []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}
	return p.Call(ctx, MethodStoragePut, storagePutRequest{Key: key, Value: value}, nil)
}

// Attest asks the host to attest report
func (p *Protocol) Attest(ctx context.Context, report identity.Report) (*identity.Identity, error) {
	var id identity.Identity
	if err := p.Call(ctx, MethodIdentityAttest, report, &id); err != nil {
		return nil, err
	}
	return &id, nil
}
