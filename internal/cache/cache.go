// Package cache holds short-lived serialized query results keyed by plan
// fingerprint. Entries expire on a fixed TTL; staleness within the window is
// accepted by design, so there is no write-path invalidation.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults for the result cache.
const (
	DefaultSize = 512
	DefaultTTL  = 5 * time.Minute
)

// ResultCache is a bounded TTL cache of serialized query results.
type ResultCache struct {
	lru *expirable.LRU[string, []byte]
}

// New builds a result cache. Non-positive size or ttl fall back to defaults.
func New(size int, ttl time.Duration) *ResultCache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResultCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get returns the cached payload for a fingerprint, if present and fresh.
func (c *ResultCache) Get(fingerprint string) ([]byte, bool) {
	return c.lru.Get(fingerprint)
}

// Set stores a payload under a fingerprint.
func (c *ResultCache) Set(fingerprint string, payload []byte) {
	c.lru.Add(fingerprint, payload)
}

// Purge drops every entry. Used by tests and the admin surface.
func (c *ResultCache) Purge() {
	c.lru.Purge()
}

// Len reports the number of live entries.
func (c *ResultCache) Len() int {
	return c.lru.Len()
}
