package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxDurations = 1000

type backendCounters struct {
	selections   int64
	drops        int64
	rejections   int64
	poolHits     int64
	poolMisses   int64
	dialFailures int64
	relays       int64
	relayErrors  int64
	bytesIn      int64
	bytesOut     int64
	durations    []time.Duration
}

type Metrics struct {
	mutex     sync.RWMutex
	backends  map[string]*backendCounters
	startTime time.Time
}

type Snapshot struct {
	TotalConnections int64                     `json:"total_connections"`
	Uptime           time.Duration             `json:"uptime"`
	Backends         map[string]BackendMetrics `json:"backends"`
}

type BackendMetrics struct {
	Selections   int64         `json:"selections"`
	Drops        int64         `json:"drops"`
	Rejections   int64         `json:"rejections"`
	PoolHits     int64         `json:"pool_hits"`
	PoolMisses   int64         `json:"pool_misses"`
	DialFailures int64         `json:"dial_failures"`
	Relays       int64         `json:"relays"`
	RelayErrors  int64         `json:"relay_errors"`
	BytesIn      int64         `json:"bytes_in"`
	BytesOut     int64         `json:"bytes_out"`
	AvgDuration  time.Duration `json:"avg_duration"`
	P50Duration  time.Duration `json:"p50_duration"`
	P95Duration  time.Duration `json:"p95_duration"`
	P99Duration  time.Duration `json:"p99_duration"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		backends:  make(map[string]*backendCounters),
		startTime: time.Now(),
	}
}

// counters must be called with the write lock held.
func (m *Metrics) counters(backend string) *backendCounters {
	bc, ok := m.backends[backend]
	if !ok {
		bc = &backendCounters{}
		m.backends[backend] = bc
	}
	return bc
}

func (m *Metrics) RecordBackendSelection(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters(backend).selections++
}

func (m *Metrics) RecordDrop(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters(backend).drops++
}

func (m *Metrics) RecordRejection(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters(backend).rejections++
}

func (m *Metrics) RecordUpstream(backend string, pooled bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	bc := m.counters(backend)
	if pooled {
		bc.poolHits++
	} else {
		bc.poolMisses++
	}
}

func (m *Metrics) RecordDialFailure(backend string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters(backend).dialFailures++
}

func (m *Metrics) RecordRelay(backend string, duration time.Duration, bytesIn, bytesOut int64, failed bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	bc := m.counters(backend)
	bc.relays++
	if failed {
		bc.relayErrors++
	}
	bc.bytesIn += bytesIn
	bc.bytesOut += bytesOut

	bc.durations = append(bc.durations, duration)
	if len(bc.durations) > maxDurations {
		bc.durations = bc.durations[1:]
	}
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Backends: make(map[string]BackendMetrics, len(m.backends)),
	}

	for backend, bc := range m.backends {
		snap.TotalConnections += bc.selections

		bm := BackendMetrics{
			Selections:   bc.selections,
			Drops:        bc.drops,
			Rejections:   bc.rejections,
			PoolHits:     bc.poolHits,
			PoolMisses:   bc.poolMisses,
			DialFailures: bc.dialFailures,
			Relays:       bc.relays,
			RelayErrors:  bc.relayErrors,
			BytesIn:      bc.bytesIn,
			BytesOut:     bc.bytesOut,
		}

		if len(bc.durations) > 0 {
			sorted := make([]time.Duration, len(bc.durations))
			copy(sorted, bc.durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgDuration = average(sorted)
			bm.P50Duration = percentile(sorted, 0.50)
			bm.P95Duration = percentile(sorted, 0.95)
			bm.P99Duration = percentile(sorted, 0.99)
		}

		snap.Backends[backend] = bm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
