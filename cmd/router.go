package main

import (
	"net/http"

	"github.com/angeloszaimis/tcp-load-balancer/internal/circuitbreaker"
	"github.com/angeloszaimis/tcp-load-balancer/internal/metrics"
)

func setupRouter(metricsCollector *metrics.Collector, breakers *circuitbreaker.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", metricsCollector.PrometheusHandler())
	mux.HandleFunc("/stats", metricsCollector.Handler())
	mux.HandleFunc("/breakers", breakers.Handler())

	return mux
}
