// Package store provides an in-memory map whose entries expire.
package store

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a concurrent map with per-entry expiry. A background sweep
// removes expired entries and hands them to the eviction callback.
type TTL[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]*entry[V]
	now     func() time.Time
	onEvict func(key K, value V)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewTTL creates a store swept every interval. onEvict may be nil.
func NewTTL[K comparable, V any](interval time.Duration, onEvict func(key K, value V)) *TTL[K, V] {
	s := &TTL[K, V]{
		items:   make(map[K]*entry[V]),
		now:     time.Now,
		onEvict: onEvict,
		stopCh:  make(chan struct{}),
	}
	go s.sweepLoop(interval)
	return s
}

// Put stores value under key for ttl.
func (s *TTL[K, V]) Put(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = &entry[V]{value: value, expiresAt: s.now().Add(ttl)}
}

// Get returns the live value for key.
func (s *TTL[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	if !ok || !s.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Expire shortens the remaining lifetime of key to ttl. Used to keep a
// finished call around long enough to absorb retransmissions.
func (s *TTL[K, V]) Expire(key K, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return false
	}
	e.expiresAt = s.now().Add(ttl)
	return true
}

// Delete removes key without invoking the eviction callback.
func (s *TTL[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	return true
}

// Values returns every live value.
func (s *TTL[K, V]) Values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]V, 0, len(s.items))
	for _, e := range s.items {
		if now.Before(e.expiresAt) {
			out = append(out, e.value)
		}
	}
	return out
}

// Len returns the number of live entries.
func (s *TTL[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	n := 0
	for _, e := range s.items {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Close stops the sweep and drops every entry.
func (s *TTL[K, V]) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	s.items = make(map[K]*entry[V])
	s.mu.Unlock()
}

func (s *TTL[K, V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *TTL[K, V]) sweep() {
	type evicted struct {
		key   K
		value V
	}

	s.mu.Lock()
	now := s.now()
	var gone []evicted
	for k, e := range s.items {
		if !now.Before(e.expiresAt) {
			gone = append(gone, evicted{k, e.value})
			delete(s.items, k)
		}
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	// Callbacks run unlocked so they may use the store.
	if onEvict != nil {
		for _, g := range gone {
			onEvict(g.key, g.value)
		}
	}
}
