package backend

import (
	"sync/atomic"
)

// Backend is one upstream server. Its identity is the address string as it
// appeared in the backend list.
type Backend struct {
	address string
	active  atomic.Int64
}

// New creates a Backend for a host:port address.
func New(address string) *Backend {
	return &Backend{
		address: address,
	}
}

// Address returns the host:port used to dial the backend.
func (b *Backend) Address() string {
	return b.address
}

func (b *Backend) String() string {
	return b.address
}

// IncrementConn records a relay starting.
func (b *Backend) IncrementConn() {
	b.active.Add(1)
}

// DecrementConn records a relay ending. The count never drops below zero.
func (b *Backend) DecrementConn() {
	for {
		n := b.active.Load()
		if n <= 0 || b.active.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// ActiveConnections returns the number of relays currently running.
func (b *Backend) ActiveConnections() int {
	return int(b.active.Load())
}
