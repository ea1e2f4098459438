// Package sessioncache keeps live native session handles keyed by their
// composite id, so a session is decoded once and released exactly once.
//
// Invariants:
//   - at most one value per key;
//   - replacing a value releases the old one, unless both wrap the same
//     native object (as decided by the cache's same func);
//   - removing a key releases its value;
//   - Clear releases every value and empties the cache;
//   - after Close nothing is kept: values handed to the cache are released.
package sessioncache

import (
	"errors"
	"sync"
)

// ErrClosed is returned by GetOrLoad once the cache is closed.
var ErrClosed = errors.New("session cache is closed")

// Releaser is a value owning native memory.
type Releaser interface {
	Release()
}

// Cache is safe for concurrent use.
type Cache[K comparable, V Releaser] struct {
	mu     sync.Mutex
	items  map[K]V
	same   func(a, b V) bool
	closed bool
}

// New creates a cache. same decides whether two values wrap the same native
// object; nil means plain interface equality.
func New[K comparable, V Releaser](same func(a, b V) bool) *Cache[K, V] {
	if same == nil {
		same = func(a, b V) bool { return any(a) == any(b) }
	}
	return &Cache[K, V]{items: make(map[K]V), same: same}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

// Put stores v under key. A different value already cached there is
// released first. A closed cache releases v instead.
func (c *Cache[K, V]) Put(key K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, v)
}

func (c *Cache[K, V]) putLocked(key K, v V) {
	if c.closed {
		v.Release()
		return
	}
	if old, ok := c.items[key]; ok && !c.same(old, v) {
		old.Release()
	}
	c.items[key] = v
}

// GetOrLoad returns the cached value or calls load while holding the lock,
// so two callers never decode competing handles for one key. load reports
// found=false when nothing is stored; the cache is then left untouched.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (v V, found bool, err error)) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		var zero V
		return zero, false, ErrClosed
	}
	if v, ok := c.items[key]; ok {
		return v, true, nil
	}

	v, found, err := load()
	if err != nil || !found {
		var zero V
		return zero, false, err
	}
	c.items[key] = v
	return v, true, nil
}

// Remove releases and forgets the value at key, if any.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.items[key]; ok {
		delete(c.items, key)
		old.Release()
	}
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear releases every value and empties the cache. The cache stays usable.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	items := c.items
	c.items = make(map[K]V)
	c.mu.Unlock()

	release(items)
}

// Close releases every value and makes the cache refuse new ones. A load
// running concurrently either finishes first, and its value is released
// here, or sees the cache closed.
func (c *Cache[K, V]) Close() {
	c.mu.Lock()
	items := c.items
	c.items = make(map[K]V)
	c.closed = true
	c.mu.Unlock()

	release(items)
}

func release[K comparable, V Releaser](items map[K]V) {
	for _, v := range items {
		v.Release()
	}
}
