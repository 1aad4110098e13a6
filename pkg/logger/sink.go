package logger

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Sink is the append-only relay log. Every Log call writes one complete
// line and flushes it before returning, so the file is durable up to the
// last completed write. Failures go to the error output and are never
// returned to the caller.
type Sink struct {
	mutex  sync.Mutex
	closer io.Closer
	writer *bufio.Writer
	errLog *slog.Logger
}

// NewSink creates (or truncates) the file at path.
func NewSink(path string) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log file %s: %w", path, err)
	}

	s := NewSinkWriter(f, os.Stderr)
	s.closer = f
	return s, nil
}

// NewSinkWriter wraps an arbitrary writer. Write failures are reported on errOut.
func NewSinkWriter(w io.Writer, errOut io.Writer) *Sink {
	if errOut == nil {
		errOut = os.Stderr
	}

	return &Sink{
		writer: bufio.NewWriter(w),
		errLog: slog.New(slog.NewTextHandler(errOut, nil)),
	}
}

// Log appends line followed by a newline.
func (s *Sink) Log(line string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := s.writer.WriteString(line + "\n"); err != nil {
		s.errLog.Error("Failed to write to log file", slog.Any("err", err))
	}
	if err := s.writer.Flush(); err != nil {
		s.errLog.Error("Failed to flush log file", slog.Any("err", err))
	}
}

// Close flushes pending data and closes the underlying file, if any.
func (s *Sink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.writer.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
