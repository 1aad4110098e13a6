package metrics_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angeloszaimis/tcp-load-balancer/internal/metrics"
	"github.com/angeloszaimis/tcp-load-balancer/pkg/logger"
)

const backendAddr = "127.0.0.1:9001"

var _ = Describe("Collector", func() {
	var (
		collector *metrics.Collector
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		collector = metrics.NewCollector(100, logger.Discard())
	})

	AfterEach(func() {
		cancel()
	})

	Describe("Emit", func() {
		It("should be a no-op on a nil collector", func() {
			var nilCollector *metrics.Collector
			Expect(func() {
				nilCollector.Emit(metrics.MetricEvent{Type: metrics.EventBackendSelected})
			}).NotTo(Panic())
		})

		It("should not block when the buffer is full", func() {
			small := metrics.NewCollector(1, logger.Discard())
			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 10; i++ {
					small.Emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: backendAddr})
				}
			}()
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("Start and event processing", func() {
		BeforeEach(func() {
			collector.Start(ctx)
		})

		It("should process EventBackendSelected", func() {
			collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: backendAddr})

			Eventually(func() int64 {
				return collector.Snapshot().Backends[backendAddr].Selections
			}).Should(Equal(int64(1)))
		})

		It("should process EventUpstreamAcquired", func() {
			collector.Emit(metrics.MetricEvent{Type: metrics.EventUpstreamAcquired, Backend: backendAddr, Pooled: true})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventUpstreamAcquired, Backend: backendAddr})

			Eventually(func() metrics.BackendMetrics {
				return collector.Snapshot().Backends[backendAddr]
			}).Should(And(
				HaveField("PoolHits", int64(1)),
				HaveField("PoolMisses", int64(1)),
			))
		})

		It("should process EventRelayCompleted", func() {
			collector.Emit(metrics.MetricEvent{
				Type:     metrics.EventRelayCompleted,
				Backend:  backendAddr,
				Duration: 100 * time.Millisecond,
				BytesIn:  4,
				BytesOut: 4,
			})

			Eventually(func() int64 {
				return collector.Snapshot().Backends[backendAddr].Relays
			}).Should(Equal(int64(1)))

			bm := collector.Snapshot().Backends[backendAddr]
			Expect(bm.AvgDuration).To(Equal(100 * time.Millisecond))
			Expect(bm.BytesIn).To(Equal(int64(4)))
		})

		It("should feed the Prometheus registry", func() {
			collector.Emit(metrics.MetricEvent{Type: metrics.EventDialFailed, Backend: backendAddr})
			collector.Emit(metrics.MetricEvent{Type: metrics.EventRelayCompleted, Backend: backendAddr, Failed: true})

			Eventually(func() (int, error) {
				return testutil.GatherAndCount(collector.Registry(), "tcplb_dial_failures_total", "tcplb_relays_total")
			}).Should(Equal(2))
		})

		It("should drain events on context cancellation", func() {
			for i := 0; i < 5; i++ {
				collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: backendAddr})
			}
			cancel()

			Eventually(func() int64 {
				return collector.Snapshot().TotalConnections
			}).Should(Equal(int64(5)))
		})

		It("should have counted every relay once Wait returns", func() {
			for i := 0; i < 3; i++ {
				collector.Emit(metrics.MetricEvent{Type: metrics.EventRelayCompleted, Backend: backendAddr})
			}
			cancel()
			collector.Wait()

			Expect(collector.Snapshot().Backends[backendAddr].Relays).To(Equal(int64(3)))
		})
	})

	Describe("Handler", func() {
		It("should serve the JSON snapshot", func() {
			collector.Start(ctx)
			collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendSelected, Backend: backendAddr})
			Eventually(func() int64 {
				return collector.Snapshot().TotalConnections
			}).Should(Equal(int64(1)))

			rec := httptest.NewRecorder()
			collector.Handler()(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var snap metrics.Snapshot
			Expect(json.Unmarshal(rec.Body.Bytes(), &snap)).To(Succeed())
			Expect(snap.TotalConnections).To(Equal(int64(1)))
		})

		It("should serve the Prometheus exposition", func() {
			rec := httptest.NewRecorder()
			collector.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("go_goroutines"))
		})
	})
})
