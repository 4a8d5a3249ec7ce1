package transport

import (
	"context"
	"sync"
)

// Mux is a Multiplexer for handles that notify readiness through Register.
type Mux struct {
	mu      sync.Mutex
	handles map[Handle]struct{}
	ready   []Handle
	queued  map[Handle]struct{}
	wake    chan struct{}
	woken   bool
}

var _ Multiplexer = (*Mux)(nil)

// NewMultiplexer creates an empty Mux.
func NewMultiplexer() *Mux {
	return &Mux{
		handles: make(map[Handle]struct{}),
		queued:  make(map[Handle]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Add registers h with the mux, which starts its transfer.
func (m *Mux) Add(ctx context.Context, h Handle) error {
	m.mu.Lock()
	if _, ok := m.handles[h]; ok {
		m.mu.Unlock()
		return ErrAlreadyAdded
	}
	m.handles[h] = struct{}{}
	m.mu.Unlock()

	if err := h.Register(ctx, m); err != nil {
		m.mu.Lock()
		delete(m.handles, h)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Remove forgets h and drops its pending readiness.
func (m *Mux) Remove(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handles[h]; !ok {
		return ErrNotAdded
	}
	delete(m.handles, h)
	if _, ok := m.queued[h]; ok {
		delete(m.queued, h)
		kept := m.ready[:0]
		for _, r := range m.ready {
			if r != h {
				kept = append(kept, r)
			}
		}
		m.ready = kept
	}
	return nil
}

// Len returns the number of registered handles.
func (m *Mux) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Ready implements Notifier.
func (m *Mux) Ready(h Handle) {
	m.mu.Lock()
	if _, ok := m.handles[h]; !ok {
		m.mu.Unlock()
		return
	}
	if _, ok := m.queued[h]; !ok {
		m.queued[h] = struct{}{}
		m.ready = append(m.ready, h)
	}
	m.mu.Unlock()
	m.signal()
}

// Wakeup makes a blocked Wait return with no handles.
func (m *Mux) Wakeup() {
	m.mu.Lock()
	m.woken = true
	m.mu.Unlock()
	m.signal()
}

// Wait blocks until a handle is ready, Wakeup is called, or ctx ends.
func (m *Mux) Wait(ctx context.Context) ([]Handle, error) {
	for {
		m.mu.Lock()
		if len(m.ready) > 0 {
			out := m.ready
			m.ready = nil
			m.queued = make(map[Handle]struct{})
			m.woken = false
			m.mu.Unlock()
			return out, nil
		}
		if m.woken {
			m.woken = false
			m.mu.Unlock()
			return nil, nil
		}
		m.mu.Unlock()

		select {
		case <-m.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Mux) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
