package interceptor

import (
	"container/list"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kbukum/fetchkit/httpclient"
)

// CacheConfig configures the Cache interceptor.
type CacheConfig struct {
	// TTL is how long a response stays fresh. Defaults to one minute.
	TTL time.Duration
	// MaxEntries bounds the cache; the least recently used entry goes
	// first. Defaults to 256.
	MaxEntries int
	// Cacheable decides whether a response may be stored. Defaults to
	// successful 2xx responses without Cache-Control: no-store.
	Cacheable func(resp *httpclient.Response) bool
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

type cacheEntry struct {
	key     string
	resp    *httpclient.Response
	expires time.Time
}

// Cache is an in-memory response cache for GET and HEAD requests keyed by
// method and URL. A fresh hit is returned without calling the rest of the
// chain. Requests that carry credentials are never cached, so one caller's
// response cannot reach another.
type Cache struct {
	cfg CacheConfig

	mu      sync.Mutex
	lru     *list.List // front is most recently used
	entries map[string]*list.Element
	hits    uint64
	misses  uint64
}

var _ httpclient.Interceptor = (*Cache)(nil)

// NewCache creates an empty cache.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 256
	}
	if cfg.Cacheable == nil {
		cfg.Cacheable = defaultCacheable
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{cfg: cfg, lru: list.New(), entries: make(map[string]*list.Element)}
}

func defaultCacheable(resp *httpclient.Response) bool {
	return resp.IsSuccess() && !noStore(resp.Header())
}

func noStore(h httpclient.Header) bool {
	for _, v := range h.Values("Cache-Control") {
		if strings.Contains(strings.ToLower(v), "no-store") {
			return true
		}
	}
	return false
}

// Intercept implements httpclient.Interceptor.
func (c *Cache) Intercept(ctx context.Context, req *httpclient.Request, next httpclient.Next) *httpclient.Response {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return next(ctx, req)
	}
	bypass := noStore(req.Header) || req.HasCredentials()
	key := req.Method + " " + req.URL

	if !bypass {
		if resp := c.lookup(key); resp != nil {
			return resp
		}
	}
	resp := next(ctx, req)
	if !bypass && resp != nil && c.cfg.Cacheable(resp) {
		c.store(key, resp)
	}
	return resp
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns the hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Init()
	c.entries = make(map[string]*list.Element)
}

func (c *Cache) lookup(key string) *httpclient.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	e := el.Value.(*cacheEntry)
	if !c.cfg.Now().Before(e.expires) {
		c.lru.Remove(el)
		delete(c.entries, key)
		c.misses++
		return nil
	}
	c.lru.MoveToFront(el)
	c.hits++
	return e.resp
}

func (c *Cache) store(key string, resp *httpclient.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.cfg.Now().Add(c.cfg.TTL)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*cacheEntry)
		e.resp, e.expires = resp, expires
		c.lru.MoveToFront(el)
		return
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, resp: resp, expires: expires})
	for c.lru.Len() > c.cfg.MaxEntries {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}
