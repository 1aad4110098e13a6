package pool

import (
	"errors"
	"net"
	"sync"
	"time"
)

// ErrClosed is returned by Put after Close.
var ErrClosed = errors.New("connection pool is closed")

const checkTimeout = time.Millisecond

// Pool caches at most one idle upstream connection per backend address.
// Get removes the entry under the lock, so a pooled connection is handed
// out at most once.
//
// Without verify, connections are handed out as stored: one the backend
// closed while idle fails on first use.
type Pool struct {
	mutex  sync.Mutex
	idle   map[string]net.Conn
	verify bool
	closed bool
}

// New creates an empty pool. With verify set, Get checks each connection
// before returning it and discards the ones the peer has closed.
func New(verify bool) *Pool {
	return &Pool{
		idle:   make(map[string]net.Conn),
		verify: verify,
	}
}

// Put stores conn as the idle connection for addr, closing the one it
// replaces.
func (p *Pool) Put(addr string, conn net.Conn) error {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		conn.Close()
		return ErrClosed
	}
	previous, exists := p.idle[addr]
	p.idle[addr] = conn
	p.mutex.Unlock()

	if exists && previous != conn {
		previous.Close()
	}
	return nil
}

// Get removes and returns the idle connection for addr.
func (p *Pool) Get(addr string) (net.Conn, bool) {
	p.mutex.Lock()
	conn, exists := p.idle[addr]
	if exists {
		delete(p.idle, addr)
	}
	p.mutex.Unlock()

	if !exists {
		return nil, false
	}

	if !p.verify {
		return conn, true
	}

	live, ok := checkIdle(conn)
	if !ok {
		conn.Close()
		return nil, false
	}
	return live, true
}

// Len returns the number of idle connections.
func (p *Pool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.idle)
}

// Close closes every idle connection. Later Puts are rejected.
func (p *Pool) Close() error {
	p.mutex.Lock()
	idle := p.idle
	p.idle = make(map[string]net.Conn)
	p.closed = true
	p.mutex.Unlock()

	var errs []error
	for _, conn := range idle {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkIdle does a 1ms read. A timeout means the connection is idle and usable;
// EOF or any other error means it is gone. A byte that arrived while the
// connection sat in the pool is replayed to the next reader.
func checkIdle(conn net.Conn) (net.Conn, bool) {
	if err := conn.SetReadDeadline(time.Now().Add(checkTimeout)); err != nil {
		return nil, false
	}

	buf := make([]byte, 1)
	n, err := conn.Read(buf)

	if resetErr := conn.SetReadDeadline(time.Time{}); resetErr != nil {
		return nil, false
	}

	if n > 0 {
		return &replayConn{Conn: conn, pending: buf[:n]}, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return conn, true
	}

	return nil, false
}

type replayConn struct {
	net.Conn
	pending []byte
}

func (c *replayConn) Read(b []byte) (int, error) {
	if len(c.pending) > 0 {
		n := copy(b, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}
