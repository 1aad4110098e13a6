package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventBackendSelected  EventType = "backend_selected"
	EventDispatchDropped  EventType = "dispatch_dropped"
	EventDispatchRejected EventType = "dispatch_rejected"
	EventUpstreamAcquired EventType = "upstream_acquired"
	EventDialFailed       EventType = "dial_failed"
	EventRelayCompleted   EventType = "relay_completed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Backend   string
	Duration  time.Duration
	BytesIn   int64
	BytesOut  int64
	Pooled    bool
	Failed    bool
}

type Collector struct {
	eventCh    chan MetricEvent
	metrics    *Metrics
	prometheus *Prometheus
	logger     *slog.Logger
	done       chan struct{}
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh:    make(chan MetricEvent, bufferSize),
		metrics:    NewMetrics(),
		prometheus: NewPrometheus(),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Emit queues an event without blocking. Events are dropped when the
// buffer is full, and a nil Collector ignores them.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Wait blocks until the goroutine started by Start has drained and
// returned.
func (c *Collector) Wait() {
	<-c.done
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventBackendSelected:
		c.metrics.RecordBackendSelection(event.Backend)

	case EventDispatchDropped:
		c.metrics.RecordDrop(event.Backend)

	case EventDispatchRejected:
		c.metrics.RecordRejection(event.Backend)

	case EventUpstreamAcquired:
		c.metrics.RecordUpstream(event.Backend, event.Pooled)

	case EventDialFailed:
		c.metrics.RecordDialFailure(event.Backend)

	case EventRelayCompleted:
		c.metrics.RecordRelay(event.Backend, event.Duration, event.BytesIn, event.BytesOut, event.Failed)
	}

	c.prometheus.Observe(event)
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
