package pool

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/kbukum/fetchkit/logger"
	"github.com/kbukum/fetchkit/transport"
	"github.com/kbukum/fetchkit/validation"
)

const (
	// DefaultCapacity is the number of idle handles kept when Capacity is unset.
	DefaultCapacity = 16
	// DefaultIdleTimeout matches net/http's idle connection timeout.
	DefaultIdleTimeout = 90 * time.Second
)

// ErrPoolClosed is returned by operations on a closed pool.
var ErrPoolClosed = errors.New("pool: closed")

// Config controls pool sizing and expiry.
type Config struct {
	// Capacity is the maximum number of idle handles across all keys.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"gte=0"`
	// IdleTimeout evicts handles released longer ago than this.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"gte=0"`
	// SweepInterval runs a background sweep when positive. Sweeps also run
	// lazily on every Acquire and Release.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"gte=0"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validation.Validate(c)
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Idle      int
	Hits      uint64
	Misses    uint64
	Releases  uint64
	Evictions uint64
	Discards  uint64
}

type entry struct {
	key      string
	handle   transport.Handle
	lastUsed time.Time
}

// Pool caches released transport handles by destination key so their warm
// connections can be reused. A handle is owned either by the pool or by the
// caller that acquired it, never both.
type Pool struct {
	cfg Config
	log *logger.Logger
	now func() time.Time

	mu     sync.Mutex
	lru    *list.List // front is most recently released
	byKey  map[string][]*list.Element
	idle   map[transport.Handle]*list.Element
	reuses map[transport.Handle]int
	stats  Stats
	closed bool

	stop chan struct{}
	done chan struct{}
}

// New creates a pool. It starts a janitor goroutine when SweepInterval is set.
func New(cfg Config, log *logger.Logger) (*Pool, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	p := &Pool{
		cfg:    cfg,
		log:    log.WithComponent("pool"),
		now:    time.Now,
		lru:    list.New(),
		byKey:  make(map[string][]*list.Element),
		idle:   make(map[transport.Handle]*list.Element),
		reuses: make(map[transport.Handle]int),
	}
	if cfg.SweepInterval > 0 {
		p.stop = make(chan struct{})
		p.done = make(chan struct{})
		go p.janitor()
	}
	return p, nil
}

// Acquire takes the most recently released handle for key. The second result
// is false when nothing is available and the caller must create a handle.
func (p *Pool) Acquire(key string) (transport.Handle, bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false
	}
	expired := p.sweepLocked()

	var h transport.Handle
	if elems := p.byKey[key]; len(elems) > 0 {
		el := elems[len(elems)-1]
		h = el.Value.(*entry).handle
		p.removeLocked(el)
		p.reuses[h]++
		p.stats.Hits++
	} else {
		p.stats.Misses++
	}
	p.mu.Unlock()

	closeAll(expired)
	return h, h != nil
}

// Release returns h to the pool under key. Releasing a handle the pool
// already holds is a no-op. A closed pool closes h instead.
func (p *Pool) Release(key string, h transport.Handle) error {
	if h == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = h.Close()
		return ErrPoolClosed
	}
	if _, ok := p.idle[h]; ok {
		p.mu.Unlock()
		return nil
	}

	el := p.lru.PushFront(&entry{key: key, handle: h, lastUsed: p.now()})
	p.byKey[key] = append(p.byKey[key], el)
	p.idle[h] = el
	if _, ok := p.reuses[h]; !ok {
		p.reuses[h] = 0
	}
	p.stats.Releases++

	evicted := p.sweepLocked()
	for p.lru.Len() > p.cfg.Capacity {
		oldest := p.lru.Back()
		evicted = append(evicted, p.evictLocked(oldest))
	}
	p.mu.Unlock()

	closeAll(evicted)
	return nil
}

// Discard forgets h and closes it. Use it for handles whose last transfer
// failed.
func (p *Pool) Discard(h transport.Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	if el, ok := p.idle[h]; ok {
		p.removeLocked(el)
	}
	delete(p.reuses, h)
	p.stats.Discards++
	p.mu.Unlock()
	_ = h.Close()
}

// Sweep evicts handles idle for longer than IdleTimeout and returns how many
// were evicted.
func (p *Pool) Sweep() int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	expired := p.sweepLocked()
	p.mu.Unlock()

	closeAll(expired)
	if len(expired) > 0 {
		p.log.Debug("swept idle handles", logger.Fields("evicted", len(expired)))
	}
	return len(expired)
}

// Reuses returns how many times h has been handed out by Acquire.
func (p *Pool) Reuses(h transport.Handle) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reuses[h]
}

// Len returns the number of idle handles.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Idle = p.lru.Len()
	return s
}

// Close closes every idle handle and stops the janitor. Handles that are
// checked out are closed when they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var handles []transport.Handle
	for el := p.lru.Front(); el != nil; el = el.Next() {
		handles = append(handles, el.Value.(*entry).handle)
	}
	p.lru.Init()
	p.byKey = make(map[string][]*list.Element)
	p.idle = make(map[transport.Handle]*list.Element)
	p.reuses = make(map[transport.Handle]int)
	p.mu.Unlock()

	if p.stop != nil {
		close(p.stop)
		<-p.done
	}
	return closeAll(handles)
}

func (p *Pool) janitor() {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// sweepLocked removes expired entries and returns their handles for closing.
func (p *Pool) sweepLocked() []transport.Handle {
	if p.cfg.IdleTimeout <= 0 {
		return nil
	}
	cutoff := p.now().Add(-p.cfg.IdleTimeout)
	var expired []transport.Handle
	for el := p.lru.Back(); el != nil; {
		e := el.Value.(*entry)
		if e.lastUsed.After(cutoff) {
			break
		}
		prev := el.Prev()
		expired = append(expired, p.evictLocked(el))
		el = prev
	}
	return expired
}

func (p *Pool) evictLocked(el *list.Element) transport.Handle {
	h := p.removeLocked(el)
	delete(p.reuses, h)
	p.stats.Evictions++
	return h
}

func (p *Pool) removeLocked(el *list.Element) transport.Handle {
	e := el.Value.(*entry)
	p.lru.Remove(el)
	delete(p.idle, e.handle)

	elems := p.byKey[e.key]
	for i, x := range elems {
		if x == el {
			elems = append(elems[:i], elems[i+1:]...)
			break
		}
	}
	if len(elems) == 0 {
		delete(p.byKey, e.key)
	} else {
		p.byKey[e.key] = elems
	}
	return e.handle
}

func closeAll(handles []transport.Handle) error {
	var errs []error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
