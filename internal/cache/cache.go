// Package cache provides an in-memory, tag-invalidated memoization store.
//
// Entries live in a key→entry map; a second index maps each tag to the set
// of keys carrying it, so invalidating a tag evicts exactly those entries.
// Compute functions run outside the lock: concurrent misses for one key may
// both compute and the last Set wins.
package cache

import (
	"sync"
	"time"
)

// Tag is an invalidation key. Family separates tag namespaces ("month",
// "day"); Scope and Key identify the tagged thing within it.
type Tag struct {
	Family string
	Scope  string
	Key    string
}

func (t Tag) String() string {
	if t.Scope == "" {
		return t.Family + ":" + t.Key
	}
	return t.Family + ":" + t.Scope + ":" + t.Key
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type options struct {
	ttl time.Duration
	now func() time.Time
}

// Option configures a Cache.
type Option func(*options)

// WithTTL expires entries d after they were stored. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type entry[V any] struct {
	value    V
	tags     []Tag
	storedAt time.Time
}

// Cache maps K to V with tag-based invalidation. Safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[V]
	byTag   map[Tag]map[K]struct{}
	opts    options

	hits, misses, evictions uint64
}

// New creates an empty cache.
func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return &Cache[K, V]{
		entries: make(map[K]*entry[V]),
		byTag:   make(map[Tag]map[K]struct{}),
		opts:    o,
	}
}

// Get returns the cached value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.expired(e) {
		c.removeLocked(key, e)
		c.evictions++
		ok = false
	}
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key, replacing any previous entry and its tags.
func (c *Cache[K, V]) Set(key K, value V, tags ...Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(key, old)
	}
	e := &entry[V]{
		value:    value,
		tags:     append([]Tag(nil), tags...),
		storedAt: c.opts.now(),
	}
	c.entries[key] = e
	for _, t := range e.tags {
		keys, ok := c.byTag[t]
		if !ok {
			keys = make(map[K]struct{})
			c.byTag[t] = keys
		}
		keys[key] = struct{}{}
	}
}

// GetOrCompute returns the cached value for key or runs compute and stores
// its result with the tags it returns. Errors are returned and not cached.
func (c *Cache[K, V]) GetOrCompute(key K, compute func() (V, []Tag, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, tags, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v, tags...)
	return v, nil
}

// Invalidate evicts every entry carrying tag and returns how many went.
func (c *Cache[K, V]) Invalidate(tag Tag) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byTag[tag]
	n := 0
	for key := range keys {
		if e, ok := c.entries[key]; ok {
			c.removeLocked(key, e)
			n++
		}
	}
	delete(c.byTag, tag)
	c.evictions += uint64(n)
	return n
}

// Delete evicts one key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
		c.evictions++
	}
}

// Purge evicts everything.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictions += uint64(len(c.entries))
	c.entries = make(map[K]*entry[V])
	c.byTag = make(map[Tag]map[K]struct{})
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns the current counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Cache[K, V]) expired(e *entry[V]) bool {
	return c.opts.ttl > 0 && c.opts.now().Sub(e.storedAt) >= c.opts.ttl
}

// removeLocked drops key and unlinks it from its tag sets. c.mu must be held.
func (c *Cache[K, V]) removeLocked(key K, e *entry[V]) {
	delete(c.entries, key)
	for _, t := range e.tags {
		keys := c.byTag[t]
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byTag, t)
		}
	}
}
