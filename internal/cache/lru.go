// Package cache implements the two-level cache: an in-memory LRU in front of
// a Redis store guarded by a circuit breaker. The cache is advisory — remote
// failures are logged and absorbed, never surfaced to callers.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// lruEntry is one element in the LRU list.
type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// LRU is a thread-safe in-memory LRU cache with per-entry TTL.
type LRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	items    map[string]*list.Element
	now      func() time.Time
}

// NewLRU creates an LRU with the given capacity (minimum 1).
func NewLRU(capacity int) *LRU {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the cached value and whether it was present and unexpired.
// Expired entries are removed on access.
func (l *LRU) Get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*lruEntry)
	if !entry.expiresAt.IsZero() && l.now().After(entry.expiresAt) {
		l.order.Remove(el)
		delete(l.items, key)
		return nil, false
	}
	l.order.MoveToFront(el)
	return entry.value, true
}

// Set stores a value with a TTL (zero TTL means no expiry), evicting the
// least-recently-used entry when over capacity.
func (l *LRU) Set(key string, value []byte, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = l.now().Add(ttl)
	}

	if el, ok := l.items[key]; ok {
		entry := el.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		l.order.MoveToFront(el)
		return
	}

	el := l.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})
	l.items[key] = el

	for l.order.Len() > l.capacity {
		oldest := l.order.Back()
		if oldest == nil {
			break
		}
		l.order.Remove(oldest)
		delete(l.items, oldest.Value.(*lruEntry).key)
	}
}

// Delete removes a key.
func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.items[key]; ok {
		l.order.Remove(el)
		delete(l.items, key)
	}
}

// Len returns the number of entries currently held (including not-yet-swept
// expired ones).
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
