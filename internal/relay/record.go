package relay

import (
	"fmt"
	"strings"
	"time"
)

// Status is the outcome written to the relay log.
type Status string

const (
	StatusOK         Status = "ok"
	StatusError      Status = "error"
	StatusDialFailed Status = "dial_failed"
	StatusDropped    Status = "dropped"
	StatusRejected   Status = "rejected"
)

// Recorder receives one line per relay log record. *logger.Sink satisfies it.
type Recorder interface {
	Log(line string)
}

// Result describes one handled client connection, successful or not.
type Result struct {
	ID       string
	Status   Status
	Client   string
	Backend  string
	Pooled   bool
	BytesIn  int64
	BytesOut int64
	Start    time.Time
	Duration time.Duration
	Err      error
}

// String formats the result as a single log line.
func (r Result) String() string {
	var b strings.Builder

	start := r.Start
	if start.IsZero() {
		start = time.Now()
	}

	upstream := "dialed"
	if r.Pooled {
		upstream = "pooled"
	}

	fmt.Fprintf(&b, "%s %s conn=%s client=%s backend=%s",
		start.UTC().Format(time.RFC3339Nano), r.Status, r.ID, r.Client, r.Backend)

	if r.Status == StatusOK || r.Status == StatusError {
		fmt.Fprintf(&b, " upstream=%s bytes_in=%d bytes_out=%d duration=%s",
			upstream, r.BytesIn, r.BytesOut, r.Duration)
	}

	if r.Err != nil {
		fmt.Fprintf(&b, " err=%q", r.Err.Error())
	}

	return b.String()
}
