// Package cache provides the short-lived lookup caches the gateway leans
// on to keep redundant work off the hot path: resolved media paths, .strm
// contents, minted and verified tokens, and per-device rate limiters.
//
// All caches expire entries a fixed interval after insertion. Hits do not
// extend lifetimes; a stale upstream answer ages out on schedule no
// matter how often it is read.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Cache is a bounded string-keyed cache with insertion-based expiry.
type Cache[V any] struct {
	inner *ttlcache.Cache[string, V]
}

// New builds a cache holding at most capacity entries, each expiring ttl
// after it was set. A capacity of zero means unbounded.
func New[V any](capacity uint64, ttl time.Duration) *Cache[V] {
	inner := ttlcache.New[string, V](
		ttlcache.WithTTL[string, V](ttl),
		ttlcache.WithCapacity[string, V](capacity),
		ttlcache.WithDisableTouchOnHit[string, V](),
	)
	go inner.Start()
	return &Cache[V]{inner: inner}
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	item := c.inner.Get(key)
	if item == nil {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Set stores value under key with the cache's configured TTL,
// overwriting any previous entry.
func (c *Cache[V]) Set(key string, value V) {
	c.inner.Set(key, value, ttlcache.DefaultTTL)
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.inner.Delete(key)
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.inner.Len()
}

// Stop halts the background expiration worker.
func (c *Cache[V]) Stop() {
	c.inner.Stop()
}

// Key derives a cache key from its parts: lowercase, join with ":",
// md5, hex. Lowercasing folds the case-insensitive identifiers media
// clients are known to toy with.
func Key(parts ...string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.Join(parts, ":"))))
	return hex.EncodeToString(sum[:])
}
