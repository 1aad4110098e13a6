package loadbalancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/tcp-load-balancer/internal/backend"
	"github.com/angeloszaimis/tcp-load-balancer/internal/handler"
	"github.com/angeloszaimis/tcp-load-balancer/internal/metrics"
	"github.com/angeloszaimis/tcp-load-balancer/internal/relay"
	"github.com/angeloszaimis/tcp-load-balancer/internal/strategy"
)

// OverflowPolicy decides what the accept loop does when the selected
// backend's queue is full.
type OverflowPolicy string

const (
	// OverflowBlock waits for room. A stalled backend then holds up the
	// accept loop for every backend.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDrop closes the client and logs a dropped record.
	OverflowDrop OverflowPolicy = "drop"
)

const maxAcceptDelay = time.Second

type Options struct {
	Overflow  OverflowPolicy
	Recorder  relay.Recorder
	Collector *metrics.Collector
}

// LoadBalancer is the accept loop. It alone advances the round-robin
// counter, once per accepted connection.
type LoadBalancer struct {
	logger    *slog.Logger
	strategy  strategy.Strategy
	backends  []*backend.Backend
	workers   map[string]*handler.HostWorker
	overflow  OverflowPolicy
	recorder  relay.Recorder
	collector *metrics.Collector
}

// NewLoadBalancer wires the backend list to its host workers. Entries of the
// list that share an address share a worker.
func NewLoadBalancer(logger *slog.Logger, strat strategy.Strategy, backends []*backend.Backend, workers []*handler.HostWorker, opts Options) (*LoadBalancer, error) {
	if len(backends) == 0 {
		return nil, backend.ErrNoBackends
	}

	byAddress := make(map[string]*handler.HostWorker, len(workers))
	for _, w := range workers {
		byAddress[w.Backend().Address()] = w
	}
	for _, b := range backends {
		if _, ok := byAddress[b.Address()]; !ok {
			return nil, fmt.Errorf("no host worker for backend %s", b.Address())
		}
	}

	overflow := opts.Overflow
	if overflow == "" {
		overflow = OverflowBlock
	}
	if overflow != OverflowBlock && overflow != OverflowDrop {
		return nil, fmt.Errorf("unknown overflow policy %q", overflow)
	}

	return &LoadBalancer{
		logger:    logger,
		strategy:  strat,
		backends:  backends,
		workers:   byAddress,
		overflow:  overflow,
		recorder:  opts.Recorder,
		collector: opts.Collector,
	}, nil
}

// Serve starts the host workers and accepts connections from ln until ctx
// is done or the listener fails. It closes ln and returns nil on
// cancellation. Workers are stopped and sockets still queued are closed
// before Serve returns; relays already running are not waited for.
func (lb *LoadBalancer) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)

	var workers sync.WaitGroup
	for _, w := range lb.workers {
		workers.Add(1)
		go func(w *handler.HostWorker) {
			defer workers.Done()
			w.Run(ctx)
		}(w)
	}
	defer func() {
		cancel()
		workers.Wait()
		// Accept can still hand over a backlogged socket after cancellation.
		for _, w := range lb.workers {
			w.CloseQueued()
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	lb.logger.Info("Accepting connections",
		slog.String("address", ln.Addr().String()),
		slog.Int("backends", len(lb.backends)),
		slog.String("strategy", lb.strategy.Name()),
		slog.String("overflow", string(lb.overflow)))

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			lb.logger.Warn("Accept failed, retrying",
				slog.Duration("delay", delay),
				slog.Any("err", err))

			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		delay = 0

		lb.dispatch(ctx, conn)
	}
}

func (lb *LoadBalancer) dispatch(ctx context.Context, conn net.Conn) {
	selected := lb.strategy.SelectBackend(lb.backends)
	if selected == nil {
		lb.logger.Error("Strategy returned nil backend")
		conn.Close()
		return
	}
	worker := lb.workers[selected.Address()]

	lb.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventBackendSelected,
		Backend: selected.Address(),
	})

	lb.logger.Debug("Dispatching connection",
		slog.String("client", conn.RemoteAddr().String()),
		slog.String("backend", selected.Address()))

	if lb.overflow == OverflowDrop {
		if err := worker.TryEnqueue(conn); err != nil {
			lb.drop(conn, selected, err)
		}
		return
	}

	if err := worker.Enqueue(ctx, conn); err != nil {
		lb.drop(conn, selected, err)
	}
}

func (lb *LoadBalancer) drop(conn net.Conn, selected *backend.Backend, cause error) {
	res := relay.Result{
		ID:      uuid.NewString(),
		Status:  relay.StatusDropped,
		Client:  conn.RemoteAddr().String(),
		Backend: selected.Address(),
		Start:   time.Now(),
		Err:     cause,
	}
	conn.Close()

	if lb.recorder != nil {
		lb.recorder.Log(res.String())
	}
	lb.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventDispatchDropped,
		Backend: res.Backend,
	})
	lb.logger.Warn("Connection dropped before dispatch",
		slog.String("client", res.Client),
		slog.String("backend", res.Backend),
		slog.Any("err", cause))
}
