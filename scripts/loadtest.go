//go:build ignore

// Loadtest opens many concurrent TCP connections through the load balancer
// and reports throughput, latency percentiles and how connections were
// spread across backends. It expects backends started with backend.go,
// which greet each connection with their name.
//
// Usage:
//
//	go run loadtest.go -addr localhost:8080 -concurrency 10 -connections 1000
//	go run loadtest.go -addr localhost:8080 -concurrency 50 -connections 5000 -csv results.csv -out summary.json
package main

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type sample struct {
	idx      int
	backend  string
	err      error
	duration time.Duration
	at       time.Time
}

type backendSummary struct {
	Total   int     `json:"total"`
	Success int     `json:"success"`
	Failure int     `json:"failure"`
	P50     float64 `json:"p50_ms"`
	P90     float64 `json:"p90_ms"`
	P95     float64 `json:"p95_ms"`
	P99     float64 `json:"p99_ms"`
}

func main() {
	var (
		addr        = flag.String("addr", "localhost:8080", "load balancer address")
		concurrency = flag.Int("concurrency", 10, "number of concurrent clients")
		connections = flag.Int("connections", 100, "total number of connections to open")
		payload     = flag.String("payload", "PING", "bytes written on each connection")
		timeout     = flag.Duration("timeout", 10*time.Second, "per-connection deadline")
		outJSON     = flag.String("out", "", "write JSON summary to this file (optional)")
		outCSV      = flag.String("csv", "", "write per-connection CSV to this file (optional)")
		verbose     = flag.Bool("v", false, "print every connection")
	)
	flag.Parse()

	jobs := make(chan int)
	results := make(chan sample)

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results <- roundTrip(idx, *addr, []byte(*payload), *timeout)
			}
		}()
	}

	go func() {
		for i := 0; i < *connections; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	testStart := time.Now()
	var samples []sample
	for s := range results {
		if *verbose {
			fmt.Printf("idx=%d backend=%s dur=%v err=%v\n", s.idx, s.backend, s.duration, s.err)
		}
		samples = append(samples, s)
	}
	totalDuration := time.Since(testStart)

	if *outCSV != "" {
		if err := writeCSV(*outCSV, samples); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write csv: %v\n", err)
			os.Exit(1)
		}
	}

	failures := 0
	perBackend := map[string][]sample{}
	var all []time.Duration
	for _, s := range samples {
		if s.err != nil {
			failures++
		}
		perBackend[s.backend] = append(perBackend[s.backend], s)
		all = append(all, s.duration)
	}

	throughput := float64(len(samples)) / totalDuration.Seconds()

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", *addr)
	fmt.Printf("Connections: %d  Concurrency: %d\n", *connections, *concurrency)
	fmt.Printf("Success: %d  Failure: %d\n", len(samples)-failures, failures)
	fmt.Printf("Duration: %v  Throughput: %.2f conn/s\n", totalDuration, throughput)

	fmt.Println("\nBackend distribution:")
	names := make([]string, 0, len(perBackend))
	for name := range perBackend {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := map[string]backendSummary{}
	for _, name := range names {
		var lat []time.Duration
		bs := backendSummary{}
		for _, s := range perBackend[name] {
			bs.Total++
			if s.err != nil {
				bs.Failure++
				continue
			}
			bs.Success++
			lat = append(lat, s.duration)
		}
		sortDurations(lat)
		bs.P50, bs.P90, bs.P95, bs.P99 = millis(lat, 0.50), millis(lat, 0.90), millis(lat, 0.95), millis(lat, 0.99)
		summaries[name] = bs

		fmt.Printf("  %s -> total=%d success=%d failure=%d p50=%.2fms p99=%.2fms\n",
			name, bs.Total, bs.Success, bs.Failure, bs.P50, bs.P99)
	}

	if len(all) > 0 {
		sortDurations(all)
		fmt.Println("\nOverall latencies:")
		fmt.Printf("  samples=%d min=%v max=%v p50=%v p90=%v p95=%v p99=%v\n",
			len(all), all[0], all[len(all)-1],
			percentile(all, 0.50), percentile(all, 0.90), percentile(all, 0.95), percentile(all, 0.99))
	}

	fmt.Printf("\nGOMAXPROCS=%d  NumGoroutine=%d\n", runtime.GOMAXPROCS(0), runtime.NumGoroutine())

	if *outJSON != "" {
		report := map[string]any{
			"target":         *addr,
			"connections":    *connections,
			"concurrency":    *concurrency,
			"success":        len(samples) - failures,
			"failure":        failures,
			"duration_ms":    totalDuration.Milliseconds(),
			"throughput_cps": throughput,
			"backends":       summaries,
		}

		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failures > 0 {
		os.Exit(2)
	}
}

// roundTrip opens one connection, reads the backend greeting, writes the
// payload and waits for the echo.
func roundTrip(idx int, addr string, payload []byte, timeout time.Duration) sample {
	s := sample{idx: idx, backend: "(unknown)", at: time.Now()}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		s.err = err
		s.duration = time.Since(s.at)
		return s
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	r := bufio.NewReader(conn)
	greeting, err := r.ReadString('\n')
	if err != nil {
		s.err = fmt.Errorf("greeting: %w", err)
		s.duration = time.Since(s.at)
		return s
	}
	if name, _, ok := strings.Cut(strings.TrimSpace(greeting), " "); ok {
		s.backend = name
	}

	if _, err := conn.Write(payload); err != nil {
		s.err = err
		s.duration = time.Since(s.at)
		return s
	}

	echo := make([]byte, len(payload))
	if _, err := io.ReadFull(r, echo); err != nil {
		s.err = fmt.Errorf("echo: %w", err)
	} else if !bytes.Equal(echo, payload) {
		s.err = fmt.Errorf("echo mismatch: %q", echo)
	}

	s.duration = time.Since(s.at)
	return s
}

func writeCSV(path string, samples []sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"idx", "timestamp", "backend", "status", "duration_ms"})
	for _, s := range samples {
		status := "ok"
		if s.err != nil {
			status = "error"
		}
		w.Write([]string{
			strconv.Itoa(s.idx),
			s.at.Format(time.RFC3339Nano),
			s.backend,
			status,
			fmt.Sprintf("%.3f", float64(s.duration.Microseconds())/1000.0),
		})
	}
	w.Flush()
	return w.Error()
}

func sortDurations(d []time.Duration) {
	sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
}

func percentile(sorted []time.Duration, pct float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[int(float64(len(sorted)-1)*pct)]
}

func millis(sorted []time.Duration, pct float64) float64 {
	return float64(percentile(sorted, pct).Microseconds()) / 1000.0
}
