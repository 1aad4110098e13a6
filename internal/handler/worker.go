package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/tcp-load-balancer/internal/backend"
	"github.com/angeloszaimis/tcp-load-balancer/internal/circuitbreaker"
	"github.com/angeloszaimis/tcp-load-balancer/internal/metrics"
	"github.com/angeloszaimis/tcp-load-balancer/internal/pool"
	"github.com/angeloszaimis/tcp-load-balancer/internal/relay"
)

// ErrQueueFull is returned by TryEnqueue when the dispatch queue has no room.
var ErrQueueFull = errors.New("dispatch queue is full")

// ErrStopped is recorded for sockets still queued when the worker stops.
var ErrStopped = errors.New("host worker stopped")

const DefaultQueueSize = 100

// Dialer opens upstream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config wires a HostWorker to its backend and the shared resources.
// Pool, Breaker and Collector are optional.
type Config struct {
	Backend   *backend.Backend
	QueueSize int
	Pool      *pool.Pool
	Prewarm   bool
	Relay     *relay.Relay
	Recorder  relay.Recorder
	Breaker   *circuitbreaker.CircuitBreaker
	Collector *metrics.Collector
	Dialer    Dialer
}

// HostWorker owns the dispatch queue of one backend. It is the only
// consumer of that queue.
type HostWorker struct {
	logger    *slog.Logger
	backend   *backend.Backend
	queue     chan net.Conn
	pool      *pool.Pool
	prewarm   bool
	relay     *relay.Relay
	recorder  relay.Recorder
	breaker   *circuitbreaker.CircuitBreaker
	collector *metrics.Collector
	dialer    Dialer

	refilling atomic.Bool
	inflight  sync.WaitGroup
}

func NewHostWorker(logger *slog.Logger, cfg Config) *HostWorker {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(0, 0)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	return &HostWorker{
		logger:    logger.With(slog.String("backend", cfg.Backend.Address())),
		backend:   cfg.Backend,
		queue:     make(chan net.Conn, queueSize),
		pool:      cfg.Pool,
		prewarm:   cfg.Prewarm && cfg.Pool != nil,
		relay:     cfg.Relay,
		recorder:  cfg.Recorder,
		breaker:   breaker,
		collector: cfg.Collector,
		dialer:    dialer,
	}
}

// Backend returns the backend this worker serves.
func (w *HostWorker) Backend() *backend.Backend {
	return w.backend
}

// Enqueue hands a client socket to the worker, blocking while the queue is
// full. It gives up when ctx is done; the caller still owns conn then.
func (w *HostWorker) Enqueue(ctx context.Context, conn net.Conn) error {
	select {
	case w.queue <- conn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue is Enqueue without waiting.
func (w *HostWorker) TryEnqueue(conn net.Conn) error {
	select {
	case w.queue <- conn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is done. Sockets still queued at that
// point are closed.
func (w *HostWorker) Run(ctx context.Context) {
	w.logger.Debug("Host worker started")
	defer w.logger.Debug("Host worker stopped")

	for {
		select {
		case <-ctx.Done():
			w.CloseQueued()
			return
		case conn := <-w.queue:
			w.dispatch(ctx, conn)
		}
	}
}

// Wait blocks until every relay and prewarm dial started by the worker has
// returned.
func (w *HostWorker) Wait() {
	w.inflight.Wait()
}

func (w *HostWorker) dispatch(ctx context.Context, client net.Conn) {
	id := uuid.NewString()
	address := w.backend.Address()

	upstream, pooled, err := w.acquire(ctx)
	if err != nil {
		w.fail(id, client, err)
		return
	}

	w.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventUpstreamAcquired,
		Backend: address,
		Pooled:  pooled,
	})

	w.logger.Debug("Relaying connection",
		slog.String("conn_id", id),
		slog.String("client", client.RemoteAddr().String()),
		slog.Bool("pooled", pooled))

	w.backend.IncrementConn()
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		defer w.backend.DecrementConn()
		w.relay.Run(ctx, client, upstream, relay.Session{
			ID:      id,
			Backend: address,
			Pooled:  pooled,
		})
	}()

	if w.prewarm && w.refilling.CompareAndSwap(false, true) {
		w.inflight.Add(1)
		go w.refill(ctx)
	}
}

// acquire returns a pooled upstream connection or dials a new one.
func (w *HostWorker) acquire(ctx context.Context) (net.Conn, bool, error) {
	address := w.backend.Address()

	if w.pool != nil {
		if conn, ok := w.pool.Get(address); ok {
			return conn, true, nil
		}
	}

	if err := w.breaker.Check(); err != nil {
		return nil, false, err
	}

	conn, err := w.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		w.breaker.RecordFailure()
		return nil, false, fmt.Errorf("dial %s: %w", address, err)
	}

	w.breaker.RecordSuccess()
	return conn, false, nil
}

// fail closes a client that could not be given an upstream connection and
// writes its log record. The worker keeps running.
func (w *HostWorker) fail(id string, client net.Conn, err error) {
	status := relay.StatusDialFailed
	event := metrics.EventDialFailed
	if errors.Is(err, circuitbreaker.ErrOpen) {
		status = relay.StatusRejected
		event = metrics.EventDispatchRejected
	}

	res := relay.Result{
		ID:      id,
		Status:  status,
		Client:  client.RemoteAddr().String(),
		Backend: w.backend.Address(),
		Start:   time.Now(),
		Err:     err,
	}
	client.Close()

	w.recorder.Log(res.String())
	w.collector.Emit(metrics.MetricEvent{Type: event, Backend: res.Backend})
	w.logger.Warn("Failed to connect to backend",
		slog.String("conn_id", id),
		slog.String("client", res.Client),
		slog.String("status", string(status)),
		slog.Any("err", err))
}

// refill dials a spare upstream connection and parks it in the pool.
func (w *HostWorker) refill(ctx context.Context) {
	defer w.inflight.Done()
	defer w.refilling.Store(false)

	address := w.backend.Address()
	conn, err := w.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		w.logger.Debug("Prewarm dial failed", slog.Any("err", err))
		return
	}

	if err := w.pool.Put(address, conn); err != nil {
		w.logger.Debug("Prewarmed connection discarded", slog.Any("err", err))
	}
}

// CloseQueued closes every socket waiting in the queue and writes a dropped
// record for each. Run calls it on exit; the owner of the queue calls it
// again once nothing can enqueue anymore.
func (w *HostWorker) CloseQueued() int {
	n := 0
	for {
		select {
		case conn := <-w.queue:
			w.discard(conn)
			n++
		default:
			return n
		}
	}
}

func (w *HostWorker) discard(client net.Conn) {
	res := relay.Result{
		ID:      uuid.NewString(),
		Status:  relay.StatusDropped,
		Client:  client.RemoteAddr().String(),
		Backend: w.backend.Address(),
		Start:   time.Now(),
		Err:     ErrStopped,
	}
	client.Close()

	w.recorder.Log(res.String())
	w.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventDispatchDropped,
		Backend: res.Backend,
	})
}
