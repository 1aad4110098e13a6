package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "tcplb"

// Prometheus holds the exported series. They live on a private registry so
// several collectors (one per test, for instance) never collide.
type Prometheus struct {
	registry *prometheus.Registry

	selections    *prometheus.CounterVec
	drops         *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	upstreams     *prometheus.CounterVec
	dialFailures  *prometheus.CounterVec
	relays        *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	relayDuration *prometheus.HistogramVec
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_selections_total",
			Help:      "Accepted connections assigned to each backend.",
		}, []string{"backend"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_dropped_total",
			Help:      "Connections closed because the backend queue was full.",
		}, []string{"backend"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_rejected_total",
			Help:      "Connections closed because the backend breaker was open.",
		}, []string{"backend"}),
		upstreams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connections_total",
			Help:      "Upstream connections handed to relays, by origin.",
		}, []string{"backend", "source"}),
		dialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_failures_total",
			Help:      "Failed upstream connection attempts.",
		}, []string{"backend"}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_total",
			Help:      "Completed relays by outcome.",
		}, []string{"backend", "status"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_total",
			Help:      "Bytes relayed, by direction.",
		}, []string{"backend", "direction"}),
		relayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_duration_seconds",
			Help:      "Lifetime of relayed connections.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		}, []string{"backend"}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.selections,
		p.drops,
		p.rejections,
		p.upstreams,
		p.dialFailures,
		p.relays,
		p.bytes,
		p.relayDuration,
	)

	return p
}

// Registry exposes the registry for scraping and tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) Observe(event MetricEvent) {
	switch event.Type {
	case EventBackendSelected:
		p.selections.WithLabelValues(event.Backend).Inc()

	case EventDispatchDropped:
		p.drops.WithLabelValues(event.Backend).Inc()

	case EventDispatchRejected:
		p.rejections.WithLabelValues(event.Backend).Inc()

	case EventUpstreamAcquired:
		source := "dialed"
		if event.Pooled {
			source = "pooled"
		}
		p.upstreams.WithLabelValues(event.Backend, source).Inc()

	case EventDialFailed:
		p.dialFailures.WithLabelValues(event.Backend).Inc()

	case EventRelayCompleted:
		status := "ok"
		if event.Failed {
			status = "error"
		}
		p.relays.WithLabelValues(event.Backend, status).Inc()
		p.bytes.WithLabelValues(event.Backend, "in").Add(float64(event.BytesIn))
		p.bytes.WithLabelValues(event.Backend, "out").Add(float64(event.BytesOut))
		p.relayDuration.WithLabelValues(event.Backend).Observe(event.Duration.Seconds())
	}
}
