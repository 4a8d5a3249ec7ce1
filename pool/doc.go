// Package pool keeps released transport handles warm for reuse.
//
// Handles are cached per destination key (see KeyFor) in least-recently-used
// order. Entries beyond Capacity are evicted, and entries idle longer than
// IdleTimeout are swept lazily or by a janitor goroutine. Evicted handles are
// closed.
//
//	p, _ := pool.New(pool.Config{Capacity: 32}, nil)
//	defer p.Close()
//
//	h, ok := p.Acquire(key)
//	if !ok {
//	    h = transport.NewHTTPHandle()
//	}
//	// ... configure and perform ...
//	_ = p.Release(key, h)
package pool
