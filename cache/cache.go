// Package cache provides the per-tracer bounded LRU cache with per-entry TTL
// used by detection and extractor compilation. Lookups are hot-path
// operations: the mutex is held only around map and list manipulation, and
// GetOrCompute guarantees at most one concurrent producer per key.
//
// The cache uses a doubly-linked list combined with a hash map for O(1) get,
// set, and eviction. Entries expire lazily on access based on their TTL.
// When MaxEntries is reached, the least-recently-used entry is evicted.
package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is a single cache entry stored in the LRU list.
type entry struct {
	key       string
	value     any
	expiresAt time.Time // zero value means no expiration
}

// Cache is a thread-safe, bounded, in-memory LRU cache with TTL-based
// expiration.
type Cache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front = most recent, back = least recent
	defaultTTL time.Duration
	maxEntries int
	now        func() time.Time // injectable for testing

	group singleflight.Group
}

// Option configures a Cache created by New.
type Option func(*Cache)

// WithMaxEntries bounds the number of entries. Zero means unlimited.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithTTL sets the default time-to-live applied when Set is called with a
// zero TTL. Zero means entries do not expire by default.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.defaultTTL = d }
}

// New creates a Cache with the given options.
func New(opts ...Option) *Cache {
	c := &Cache{
		items: make(map[string]*list.Element),
		order: list.New(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value by key. If the entry exists but has expired, it is
// removed and (nil, false) is returned. Found entries are promoted to the
// front of the LRU list.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	e := elem.Value.(*entry)

	// Lazy expiration check.
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.removeLocked(elem)
		return nil, false
	}

	c.order.MoveToFront(elem)
	return e.value, true
}

// Set stores a value with the given key and TTL. If the key already exists,
// its value and TTL are updated and it is promoted. When the cache exceeds
// MaxEntries, the least-recently-used entry is evicted.
//
// A zero TTL uses the cache's default TTL. A negative TTL means the entry
// never expires.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.computeExpiry(ttl)

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem

	if c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		if back := c.order.Back(); back != nil {
			c.removeLocked(back)
		}
	}
}

// GetOrCompute returns the cached value for key, or runs produce to fill it.
// Concurrent callers for the same key share a single in-flight produce call;
// its result (or error) is delivered to all of them. Errors are not cached.
func (c *Cache) GetOrCompute(key string, produce func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent caller may have filled the entry between the miss
		// and acquiring the flight.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := produce()
		if err != nil {
			return nil, err
		}
		c.Set(key, v, 0)
		return v, nil
	})
	return v, err
}

// Invalidate removes a key. Invalidating a missing key is a no-op.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem)
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the current number of entries, including not-yet-collected
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) computeExpiry(ttl time.Duration) time.Time {
	switch {
	case ttl < 0:
		return time.Time{}
	case ttl == 0:
		if c.defaultTTL <= 0 {
			return time.Time{}
		}
		return c.now().Add(c.defaultTTL)
	default:
		return c.now().Add(ttl)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(elem)
}
