package circuitbreaker_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tcp-load-balancer/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var registry *circuitbreaker.Registry

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(5, 30*time.Second)
	})

	Describe("GetBreaker", func() {
		It("should create a closed breaker for an unknown backend", func() {
			cb := registry.GetBreaker("127.0.0.1:9001")
			Expect(cb).NotTo(BeNil())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should return the same breaker for the same backend", func() {
			Expect(registry.GetBreaker("127.0.0.1:9001")).To(BeIdenticalTo(registry.GetBreaker("127.0.0.1:9001")))
		})

		It("should return different breakers for different backends", func() {
			Expect(registry.GetBreaker("127.0.0.1:9001")).NotTo(BeIdenticalTo(registry.GetBreaker("127.0.0.1:9002")))
		})

		It("should use registry threshold for new breakers", func() {
			registry = circuitbreaker.NewRegistry(2, 100*time.Millisecond)
			cb := registry.GetBreaker("127.0.0.1:9001")

			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should handle concurrent calls safely", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					Expect(registry.GetBreaker("127.0.0.1:9001")).NotTo(BeNil())
				}()
			}
			wg.Wait()

			Expect(registry.Stats()).To(HaveLen(1))
		})
	})

	Describe("Stats", func() {
		It("should return state of all breakers", func() {
			registry.GetBreaker("127.0.0.1:9001")
			tripped := registry.GetBreaker("127.0.0.1:9002")
			for i := 0; i < 5; i++ {
				tripped.RecordFailure()
			}

			stats := registry.Stats()
			Expect(stats).To(HaveLen(2))
			Expect(stats["127.0.0.1:9001"]).To(Equal(circuitbreaker.StateClosed))
			Expect(stats["127.0.0.1:9002"]).To(Equal(circuitbreaker.StateOpen))
		})
	})

	Describe("Handler", func() {
		It("should serve breaker states as JSON", func() {
			registry.GetBreaker("127.0.0.1:9001")
			tripped := registry.GetBreaker("127.0.0.1:9002")
			for i := 0; i < 5; i++ {
				tripped.RecordFailure()
			}

			rec := httptest.NewRecorder()
			registry.Handler()(rec, httptest.NewRequest(http.MethodGet, "/breakers", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var body map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body).To(Equal(map[string]string{
				"127.0.0.1:9001": "CLOSED",
				"127.0.0.1:9002": "OPEN",
			}))
		})
	})
})
