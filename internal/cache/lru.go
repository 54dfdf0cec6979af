package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// LRUCache is a size-bounded cache whose entries also expire after a TTL.
type LRUCache[T any] struct {
	ttl time.Duration
	lru *lru.Cache
	now func() time.Time
}

type cacheItem[T any] struct {
	data      T
	expiresAt time.Time
}

var _ Cache[int] = (*LRUCache[int])(nil)

// NewLRUCache creates a new LRU cache with TTL
func NewLRUCache[T any](maxSize int, ttl time.Duration) (*LRUCache[T], error) {
	inner, err := lru.New(maxSize)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRUCache[T]{ttl: ttl, lru: inner, now: time.Now}, nil
}

// Get retrieves a value from the cache
func (c *LRUCache[T]) Get(key string) (T, bool) {
	var zero T
	v, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	item := v.(cacheItem[T])
	if c.now().After(item.expiresAt) {
		c.lru.Remove(key)
		return zero, false
	}
	return item.data, true
}

// Set stores a value in the cache, evicting the least recently used entry
// when full.
func (c *LRUCache[T]) Set(key string, data T) {
	c.lru.Add(key, cacheItem[T]{data: data, expiresAt: c.now().Add(c.ttl)})
}

// Delete removes a key from the cache
func (c *LRUCache[T]) Delete(key string) {
	c.lru.Remove(key)
}

// Purge drops every entry.
func (c *LRUCache[T]) Purge() {
	c.lru.Purge()
}

// CleanExpired removes all expired entries and returns count of removed items
func (c *LRUCache[T]) CleanExpired() int {
	now := c.now()
	removed := 0
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if now.After(v.(cacheItem[T]).expiresAt) {
			c.lru.Remove(k)
			removed++
		}
	}
	return removed
}

// Size returns the current number of items in the cache
func (c *LRUCache[T]) Size() int {
	return c.lru.Len()
}
