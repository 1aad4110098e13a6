package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/angeloszaimis/tcp-load-balancer/internal/metrics"
)

const defaultBufferSize = 32 * 1024

// Session identifies the connection pair handed to Run.
type Session struct {
	ID      string
	Backend string
	Pooled  bool
}

// Relay copies bytes between client and upstream sockets.
type Relay struct {
	recorder   Recorder
	collector  *metrics.Collector
	logger     *slog.Logger
	bufferPool *sync.Pool
}

// New creates a Relay. bufferSize <= 0 selects 32 KiB; collector may be nil.
func New(recorder Recorder, collector *metrics.Collector, logger *slog.Logger, bufferSize int) *Relay {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	return &Relay{
		recorder:  recorder,
		collector: collector,
		logger:    logger,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, bufferSize)
				return &buf
			},
		},
	}
}

// Run relays until either direction reaches EOF or fails, or ctx is done.
// Both sockets are closed before Run returns, and exactly one record is
// written to the recorder.
func (r *Relay) Run(ctx context.Context, client, upstream net.Conn, session Session) Result {
	res := Result{
		ID:      session.ID,
		Status:  StatusOK,
		Client:  client.RemoteAddr().String(),
		Backend: session.Backend,
		Pooled:  session.Pooled,
		Start:   time.Now(),
	}

	var bytesIn, bytesOut int64
	errCh := make(chan error, 2)

	go func() {
		n, err := r.copy(upstream, client)
		bytesIn = n
		errCh <- err
	}()

	go func() {
		n, err := r.copy(client, upstream)
		bytesOut = n
		errCh <- err
	}()

	received := 0
	var firstErr error
	select {
	case <-ctx.Done():
		firstErr = ctx.Err()
	case firstErr = <-errCh:
		received++
	}

	// Closing both sides unblocks the direction still copying.
	client.Close()
	upstream.Close()

	for ; received < 2; received++ {
		<-errCh
	}

	res.BytesIn = bytesIn
	res.BytesOut = bytesOut
	res.Duration = time.Since(res.Start)
	if firstErr != nil {
		res.Status = StatusError
		res.Err = firstErr
	}

	r.finish(res)
	return res
}

func (r *Relay) finish(res Result) {
	r.recorder.Log(res.String())

	r.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventRelayCompleted,
		Backend:  res.Backend,
		Duration: res.Duration,
		BytesIn:  res.BytesIn,
		BytesOut: res.BytesOut,
		Pooled:   res.Pooled,
		Failed:   res.Err != nil,
	})

	attrs := []any{
		slog.String("conn_id", res.ID),
		slog.String("client", res.Client),
		slog.String("backend", res.Backend),
		slog.Int64("bytes_in", res.BytesIn),
		slog.Int64("bytes_out", res.BytesOut),
		slog.Duration("duration", res.Duration),
	}
	if res.Err != nil {
		r.logger.Warn("Relay ended with error", append(attrs, slog.Any("err", res.Err))...)
		return
	}
	r.logger.Debug("Relay finished", attrs...)
}

func (r *Relay) copy(dst, src net.Conn) (int64, error) {
	bufp := r.bufferPool.Get().(*[]byte)
	defer r.bufferPool.Put(bufp)

	n, err := io.CopyBuffer(dst, src, *bufp)
	if isClosedError(err) {
		err = nil
	}
	return n, err
}

// isClosedError reports errors that only mean the other direction already
// tore the pair down.
func isClosedError(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
