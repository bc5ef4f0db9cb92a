package memory

import (
	"sync"
	"time"
)

// TTL is a minimal in-process TTL map. Expiry is lazy on Get and explicit via Purge.
// An entry expiring exactly at now is already gone.
type TTL[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]entry[V]
}

type entry[V any] struct {
	val V
	exp time.Time
}

func NewTTL[K comparable, V any]() *TTL[K, V] {
	return &TTL[K, V]{data: make(map[K]entry[V])}
}

// Get returns the value and true if found and not expired at now; otherwise zero value and false.
func (t *TTL[K, V]) Get(k K, now time.Time) (V, bool) {
	t.mu.RLock()
	e, ok := t.data[k]
	t.mu.RUnlock()
	if !ok || !now.Before(e.exp) {
		var zero V
		return zero, false
	}
	return e.val, true
}

// Set stores v until exp.
func (t *TTL[K, V]) Set(k K, v V, exp time.Time) {
	t.mu.Lock()
	t.data[k] = entry[V]{val: v, exp: exp}
	t.mu.Unlock()
}

// Purge drops every entry expired at now and returns how many were dropped.
func (t *TTL[K, V]) Purge(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.data {
		if !now.Before(e.exp) {
			delete(t.data, k)
			n++
		}
	}
	return n
}

func (t *TTL[K, V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

func (t *TTL[K, V]) Clear() {
	t.mu.Lock()
	t.data = make(map[K]entry[V])
	t.mu.Unlock()
}
