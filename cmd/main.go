package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/tcp-load-balancer/config"
	"github.com/angeloszaimis/tcp-load-balancer/internal/backend"
	"github.com/angeloszaimis/tcp-load-balancer/internal/circuitbreaker"
	"github.com/angeloszaimis/tcp-load-balancer/internal/handler"
	"github.com/angeloszaimis/tcp-load-balancer/internal/httpserver"
	"github.com/angeloszaimis/tcp-load-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/tcp-load-balancer/internal/metrics"
	"github.com/angeloszaimis/tcp-load-balancer/internal/pool"
	"github.com/angeloszaimis/tcp-load-balancer/internal/relay"
	"github.com/angeloszaimis/tcp-load-balancer/internal/strategy"
	"github.com/angeloszaimis/tcp-load-balancer/pkg/logger"
)

const metricsBufferSize = 1000

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)
	runtime.GOMAXPROCS(cfg.Server.Workers)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Load balancer stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	backends, err := backend.LoadFile(cfg.Backends.File)
	if err != nil {
		return fmt.Errorf("load backends: %w", err)
	}

	sink, err := logger.NewSink(cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("open relay log: %w", err)
	}
	defer sink.Close()

	ln, err := net.Listen("tcp", listenAddress(cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	return serve(ctx, cfg, log, backends, sink, ln)
}

// serve runs the accept loop on ln and, when configured, the admin server.
// It returns once both have stopped and every relay has finished.
func serve(ctx context.Context, cfg *config.Config, log *slog.Logger, backends []*backend.Backend, recorder relay.Recorder, ln net.Listener) error {
	// Relays torn down by ctx still report, so the collector stops last.
	collectorCtx, stopCollector := context.WithCancel(context.WithoutCancel(ctx))
	collector := metrics.NewCollector(metricsBufferSize, log)
	collector.Start(collectorCtx)
	defer func() {
		stopCollector()
		collector.Wait()
	}()

	breakers := circuitbreaker.NewRegistry(cfg.Breaker.Threshold, cfg.Breaker.ResetTimeout)

	var upstreams *pool.Pool
	if cfg.Pool.Enabled {
		upstreams = pool.New(cfg.Pool.Verify)
		defer upstreams.Close()
	}

	rel := relay.New(recorder, collector, log, cfg.Relay.BufferSize)
	workers := newWorkers(log, backends, handler.Config{
		QueueSize: cfg.Dispatch.QueueSize,
		Pool:      upstreams,
		Prewarm:   cfg.Pool.Prewarm,
		Relay:     rel,
		Recorder:  recorder,
		Collector: collector,
		Dialer:    &net.Dialer{Timeout: cfg.Upstream.DialTimeout},
	}, breakers)

	lb, err := loadbalancer.NewLoadBalancer(log, strategy.NewRoundRobinStrategy(), backends, workers, loadbalancer.Options{
		Overflow:  loadbalancer.OverflowPolicy(cfg.Dispatch.Overflow),
		Recorder:  recorder,
		Collector: collector,
	})
	if err != nil {
		ln.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return lb.Serve(gctx, ln)
	})

	if cfg.Metrics.Address != "" {
		srv, err := httpserver.New(cfg.Metrics.Address, setupRouter(collector, breakers))
		if err != nil {
			ln.Close()
			return fmt.Errorf("admin server: %w", err)
		}
		g.Go(func() error {
			log.Info("Admin server listening", slog.String("address", cfg.Metrics.Address))
			return srv.ListenAndServe(gctx)
		})
	}

	fmt.Printf("Load balancer service started on port %d\n", ln.Addr().(*net.TCPAddr).Port)
	log.Info("Load balancer started",
		slog.String("address", ln.Addr().String()),
		slog.Int("backends", len(backends)),
		slog.Int("workers", cfg.Server.Workers))

	err = g.Wait()

	for _, w := range workers {
		w.Wait()
	}
	log.Info("Load balancer stopped")

	return err
}

// newWorkers creates one host worker per distinct backend address, in list
// order. shared carries the settings common to every worker.
func newWorkers(log *slog.Logger, backends []*backend.Backend, shared handler.Config, breakers *circuitbreaker.Registry) []*handler.HostWorker {
	var workers []*handler.HostWorker
	seen := make(map[string]bool, len(backends))

	for _, b := range backends {
		if seen[b.Address()] {
			continue
		}
		seen[b.Address()] = true

		wc := shared
		wc.Backend = b
		wc.Breaker = breakers.GetBreaker(b.Address())
		workers = append(workers, handler.NewHostWorker(log, wc))
	}

	log.Debug("Host workers created",
		slog.Int("workers", len(workers)),
		slog.Int("queue_size", shared.QueueSize))

	return workers
}

func listenAddress(port int) string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
}
