// Package shard provides hash-striped maps for per-key synchronization.
// This package is internal and should not be imported by external projects.
package shard

import (
	"sync"

	"github.com/OneOfOne/xxhash"
)

// DefaultShards is the stripe count used when a non-positive count is requested.
const DefaultShards = 32

// Map is a string-keyed map split into independently locked stripes.
// Operations on keys that hash to different stripes never contend.
type Map[V any] struct {
	buckets []*bucket[V]
}

type bucket[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// New creates a Map with n stripes, rounded up to a power of two.
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}
	m := &Map[V]{buckets: make([]*bucket[V], size)}
	for i := range m.buckets {
		m.buckets[i] = &bucket[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) bucketFor(key string) *bucket[V] {
	h := xxhash.ChecksumString64(key)
	return m.buckets[h&uint64(len(m.buckets)-1)]
}

// Get returns the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	b := m.bucketFor(key)
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.items[key]
	return v, ok
}

// View calls fn with the value stored under key while holding the stripe's
// read lock. fn must not retain references to mutable parts of v.
func (m *Map[V]) View(key string, fn func(v V, ok bool)) {
	b := m.bucketFor(key)
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.items[key]
	fn(v, ok)
}

// Store sets the value for key unconditionally.
func (m *Map[V]) Store(key string, v V) {
	b := m.bucketFor(key)
	b.mu.Lock()
	b.items[key] = v
	b.mu.Unlock()
}

// Delete removes key and reports whether it was present.
func (m *Map[V]) Delete(key string) bool {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.items[key]
	delete(b.items, key)
	return ok
}

// Update performs an atomic read-modify-write on key. fn receives the current
// value (zero value and false when absent) and returns the new value and
// whether it should be kept; returning keep=false deletes the key. When fn
// returns an error the stripe is left untouched.
func (m *Map[V]) Update(key string, fn func(cur V, exists bool) (next V, keep bool, err error)) error {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.items[key]
	next, keep, err := fn(cur, ok)
	if err != nil {
		return err
	}
	if keep {
		b.items[key] = next
	} else if ok {
		delete(b.items, key)
	}
	return nil
}

// Range calls fn for every entry, one stripe at a time under its read lock.
// Iteration stops when fn returns false. fn must not call back into m.
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for _, b := range m.buckets {
		b.mu.RLock()
		for k, v := range b.items {
			if !fn(k, v) {
				b.mu.RUnlock()
				return
			}
		}
		b.mu.RUnlock()
	}
}

// Len returns the number of entries across all stripes.
func (m *Map[V]) Len() int {
	n := 0
	for _, b := range m.buckets {
		b.mu.RLock()
		n += len(b.items)
		b.mu.RUnlock()
	}
	return n
}
