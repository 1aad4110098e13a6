// Package circuitbreaker stops host workers from dialing a backend that
// keeps refusing connections.
//
//   - CLOSED: dials pass through
//   - OPEN: the backend failed threshold dials in a row; clients are closed without dialing
//   - HALF-OPEN: the reset timeout passed; the next dial decides
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := registry.GetBreaker("127.0.0.1:9001")
//	if err := cb.Check(); err == nil {
//	    conn, err := dial()
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
//
// A registry built with threshold 0 hands out breakers that never open.
package circuitbreaker
