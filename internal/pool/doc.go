// Package pool implements the upstream connection pool: a keyed cache
// holding at most one idle connection per backend address.
//
//	p := pool.New(false)
//	_ = p.Put("127.0.0.1:9001", conn)
//	if conn, ok := p.Get("127.0.0.1:9001"); ok {
//	    // conn is now owned by the caller; a second Get misses
//	}
package pool
