package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Check while the breaker rejects dials.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed   State = iota // Dials pass through
	StateOpen                  // Dials rejected
	StateHalfOpen              // One trial dial allowed
)

// CircuitBreaker guards dials to one backend. It opens after threshold
// consecutive dial failures. Once resetTimeout has passed it half-opens and
// lets a single trial dial through; its outcome closes or reopens
// it. A threshold of zero or less disables it.
type CircuitBreaker struct {
	mutex        sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	threshold    int
	resetTimeout time.Duration
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:        StateClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// Enabled reports whether the breaker can ever open.
func (cb *CircuitBreaker) Enabled() bool {
	return cb.threshold > 0
}

// Check returns ErrOpen when the next dial must be skipped. A nil return
// while half-open hands out the trial dial, and later calls fail until the
// trial result is recorded.
func (cb *CircuitBreaker) Check() error {
	if !cb.Enabled() {
		return nil
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return ErrOpen
		}
		cb.state = StateHalfOpen
		return nil
	case StateHalfOpen:
		return ErrOpen
	default:
		return nil
	}
}

// RecordFailure counts a failed dial.
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.Enabled() {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
		cb.state = StateOpen
		cb.openedAt = time.Now()
	}
}

// RecordSuccess closes the breaker and forgets earlier failures.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0
	cb.state = StateClosed
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
