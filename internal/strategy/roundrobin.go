package strategy

import (
	"sync/atomic"

	"github.com/angeloszaimis/tcp-load-balancer/internal/backend"
)

// RoundRobin walks the backend list in order and wraps around. The counter
// moves once per call, whether or not the caller manages to use the backend
// it was given, so the i-th call returns backends[i mod len(backends)].
type RoundRobin struct {
	calls atomic.Uint64
}

func NewRoundRobinStrategy() Strategy {
	return &RoundRobin{}
}

func (r *RoundRobin) SelectBackend(backends []*backend.Backend) *backend.Backend {
	k := uint64(len(backends))
	if k == 0 {
		return nil
	}

	i := r.calls.Add(1) - 1
	return backends[i%k]
}

func (r *RoundRobin) Name() string {
	return "round-robin"
}
