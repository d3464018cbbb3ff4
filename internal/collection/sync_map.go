// Package collection holds small generic concurrency-safe containers shared
// across the transport packages.
package collection

import "sync"

// SyncMap is a generic wrapper around sync.Map, used where the session
// tables need typed Get/Put/Delete/Range without per-call type assertions.
type SyncMap[K comparable, V any] struct {
	m sync.Map
}

// NewSyncMap creates an empty SyncMap.
func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{}
}

// Get returns the value stored under key, if any.
func (s *SyncMap[K, V]) Get(key K) (V, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Put stores value under key, replacing any existing entry.
func (s *SyncMap[K, V]) Put(key K, value V) {
	s.m.Store(key, value)
}

// Delete removes key, if present.
func (s *SyncMap[K, V]) Delete(key K) {
	s.m.Delete(key)
}

// Range calls f for every entry; Range stops early if f returns false.
func (s *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	s.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// LoadOrStore returns the existing value for key if present, otherwise
// stores and returns value. loaded reports which case occurred.
func (s *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	v, loaded := s.m.LoadOrStore(key, value)
	return v.(V), loaded
}

// Len returns the number of entries. O(n); intended for diagnostics, not
// hot paths.
func (s *SyncMap[K, V]) Len() int {
	n := 0
	s.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
