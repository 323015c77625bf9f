package hls

import (
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Sources remembers which media source each item's HLS session plays.
// The resolver populates it when it spots an HLS request; the segment
// handler reads it to find the session for an incoming segment fetch.
// Entries stay alive as long as segments keep being fetched.
type Sources struct {
	inner *ttlcache.Cache[string, string]
}

// NewSources builds the item-to-source mapping. Entries idle longer
// than ttl are dropped.
func NewSources(ttl time.Duration) *Sources {
	inner := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
	)
	go inner.Start()
	return &Sources{inner: inner}
}

// Put records the source for itemID.
func (s *Sources) Put(itemID, source string) {
	s.inner.Set(strings.ToLower(itemID), source, ttlcache.DefaultTTL)
}

// Get returns the source for itemID, refreshing its idle clock.
func (s *Sources) Get(itemID string) (string, bool) {
	item := s.inner.Get(strings.ToLower(itemID))
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Stop halts the background expiration worker.
func (s *Sources) Stop() {
	s.inner.Stop()
}
