// Package metrics collects load balancer statistics.
//
// Components emit events through a buffered channel and never block on it:
//   - Backend selections and dropped or rejected dispatches
//   - Upstream acquisition, pooled or freshly dialed
//   - Dial failures
//   - Completed relays with their duration and byte counts
//
// The collector goroutine folds events into an in-memory snapshot, served
// as JSON, and into Prometheus series on a private registry.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventRelayCompleted,
//		Backend:  "127.0.0.1:9001",
//		Duration: 150 * time.Millisecond,
//		BytesIn:  512,
//	})
//
//	snapshot := collector.Snapshot()
//
// On context cancellation the collector drains pending events before it
// stops.
package metrics
