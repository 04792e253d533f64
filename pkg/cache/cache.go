// Package cache provides the bounded, TTL-aware cache that fronts the
// retrieval stage.
//
// Keys are normalized queries (case-folded, whitespace-collapsed) so that
// trivially different phrasings of the same question share one entry. Expiry
// is lazy: entries are checked against their deadline on access, never by a
// background sweeper. Concurrent lookups for the same key collapse into a
// single computation, so a slow retrieval backend sees one request per
// distinct query, not one per caller.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCapacity bounds the entry count when none is configured.
const DefaultCapacity = 256

// Result classifies the outcome of a cache lookup.
type Result string

const (
	Hit     Result = "hit"
	Miss    Result = "miss"
	Expired Result = "expired"
)

// Option configures a Cache.
type Option func(*options)

type options struct {
	now      func() time.Time
	observer func(Result)
}

// WithClock replaces the time source. Tests use this to step through TTL
// expiry without sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithObserver registers fn to be invoked with the outcome of every lookup.
// fn runs on the caller's goroutine outside the cache lock and must not call
// back into the cache.
func WithObserver(fn func(Result)) Option {
	return func(o *options) { o.observer = fn }
}

// Cache is a bounded LRU cache with lazy TTL expiry. All methods are safe
// for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List // front = most recently used
	capacity int

	group singleflight.Group
	opts  options
}

type entry[V any] struct {
	key     string
	value   V
	expires time.Time
}

// New creates a cache holding at most capacity entries. A non-positive
// capacity falls back to [DefaultCapacity].
func New[V any](capacity int, opts ...Option) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache[V]{
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		capacity: capacity,
		opts:     options{now: time.Now},
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c
}

// Normalize canonicalizes a query for use as a cache key: Unicode
// case-folding plus collapsing of all interior whitespace runs to a single
// space.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// GetOrCompute returns the cached value for query, or invokes fn to compute,
// store, and return it. A fresh entry is returned without invoking fn; an
// entry past its deadline is discarded and recomputed. Failed computations
// are not cached. A non-positive ttl disables storage for this call, though
// concurrent identical calls still share one fn invocation.
func (c *Cache[V]) GetOrCompute(ctx context.Context, query string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	key := Normalize(query)

	if v, ok := c.lookup(key, Miss); ok {
		return v, nil
	}

	r, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent flight may have stored the value between our lookup
		// and entering the flight.
		if v, ok := c.lookup(key, ""); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			c.store(key, v, ttl)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return r.(V), nil
}

// Len returns the current entry count, including entries past their deadline
// that no lookup has purged yet.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// lookup returns the fresh value for key if present. missResult is reported
// to the observer when the key is absent; an empty missResult suppresses
// observation (used for the in-flight double check).
func (c *Cache[V]) lookup(key string, missResult Result) (V, bool) {
	var zero V
	result := missResult

	c.mu.Lock()
	elem, ok := c.entries[key]
	if ok {
		e := elem.Value.(*entry[V])
		if c.opts.now().Before(e.expires) {
			c.lru.MoveToFront(elem)
			v := e.value
			c.mu.Unlock()
			c.observe(Hit)
			return v, true
		}
		// Lazy expiry: purge and recompute.
		c.lru.Remove(elem)
		delete(c.entries, key)
		if result != "" {
			result = Expired
		}
	}
	c.mu.Unlock()

	c.observe(result)
	return zero, false
}

func (c *Cache[V]) store(key string, v V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.opts.now().Add(ttl)
	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry[V])
		e.value = v
		e.expires = expires
		c.lru.MoveToFront(elem)
		return
	}

	c.entries[key] = c.lru.PushFront(&entry[V]{key: key, value: v, expires: expires})

	for c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry[V]).key)
	}
}

func (c *Cache[V]) observe(r Result) {
	if r != "" && c.opts.observer != nil {
		c.opts.observer(r)
	}
}
