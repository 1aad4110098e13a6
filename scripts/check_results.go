//go:build ignore

// Check_results validates the CSV written by loadtest.go. It checks that
// every connection index appears once and that round-robin spread the
// successful connections evenly over the backends.
//
// Usage:
//
//	go run check_results.go -csv results.csv -expected 5000 -max-skew 1
//
// Exit codes:
//
//	0 - Verification passed
//	2 - File errors or malformed CSV
//	3 - Duplicate indices found
//	4 - Distribution skew above -max-skew
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
)

func main() {
	csvPath := flag.String("csv", "results.csv", "path to CSV produced by loadtest")
	expected := flag.Int("expected", 0, "expected number of rows (optional)")
	maxSkew := flag.Int("max-skew", -1, "largest allowed difference between busiest and idlest backend (-1 disables)")
	flag.Parse()

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open csv: %v\n", err)
		os.Exit(2)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read csv: %v\n", err)
		os.Exit(2)
	}

	// idx,timestamp,backend,status,duration_ms
	if len(rows) == 0 || len(rows[0]) < 5 || rows[0][2] != "backend" || rows[0][3] != "status" {
		fmt.Fprintf(os.Stderr, "unexpected csv header\n")
		os.Exit(2)
	}

	seen := map[int]int{}
	counts := map[string]int{}
	failures := 0

	for i, row := range rows[1:] {
		line := i + 2
		if len(row) < 5 {
			fmt.Fprintf(os.Stderr, "malformed row at line %d: %v\n", line, row)
			os.Exit(2)
		}

		idx, err := strconv.Atoi(row[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid idx at line %d: %v\n", line, err)
			os.Exit(2)
		}
		if first, dup := seen[idx]; dup {
			fmt.Printf("DUPLICATE idx=%d at lines %d and %d\n", idx, first, line)
		} else {
			seen[idx] = line
		}

		if row[3] != "ok" {
			failures++
			continue
		}
		counts[row[2]]++
	}

	total := len(rows) - 1
	fmt.Printf("Total rows: %d  Unique idx: %d  Failed: %d\n", total, len(seen), failures)

	if *expected > 0 && total != *expected {
		fmt.Printf("Warning: total rows (%d) != expected (%d)\n", total, *expected)
	}

	if total != len(seen) {
		fmt.Printf("ERROR: found %d duplicate indices\n", total-len(seen))
		os.Exit(3)
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	lowest, highest := -1, 0
	fmt.Println("Per-backend counts:")
	for _, name := range names {
		n := counts[name]
		fmt.Printf("  %s -> %d (%.1f%%)\n", name, n, 100*float64(n)/float64(total-failures))
		if lowest < 0 || n < lowest {
			lowest = n
		}
		highest = max(highest, n)
	}

	if *maxSkew >= 0 && len(names) > 0 && highest-lowest > *maxSkew {
		fmt.Printf("ERROR: skew %d exceeds %d\n", highest-lowest, *maxSkew)
		os.Exit(4)
	}

	fmt.Println("Verification passed.")
}
