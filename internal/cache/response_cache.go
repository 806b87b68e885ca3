package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Clock supplies the current time. Injectable so tests can drive expiry
// deterministically.
type Clock func() time.Time

// ResponseCache memoizes query responses. Entries expire after the
// configured TTL; on overflow expired entries are purged first and, if the
// cache is still over capacity, the single oldest-inserted entry is evicted.
// A TTL of zero disables caching entirely. Operations never fail.
type ResponseCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        Clock

	entries map[string]*entry
	order   []string // insertion order, oldest first
}

type entry struct {
	expireAt time.Time
	value    interface{}
}

// New creates a response cache. A nil clock uses time.Now.
func New(ttl time.Duration, maxEntries int, now Clock) *ResponseCache {
	if now == nil {
		now = time.Now
	}
	return &ResponseCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		entries:    make(map[string]*entry),
	}
}

// Key builds a cache key from the store freshness fingerprint, the operation
// name and its normalized parameters. Any data update changes the
// fingerprint and thereby invalidates every cached key at once.
func Key(fingerprint time.Time, op string, params ...interface{}) string {
	parts := make([]string, 0, len(params)+2)
	parts = append(parts, fmt.Sprintf("%d", fingerprint.UnixNano()), op)
	for _, p := range params {
		parts = append(parts, fmt.Sprintf("%v", p))
	}
	return strings.Join(parts, "|")
}

// Get returns the cached value for key, or false on a miss. Expired entries
// are treated as absent and removed.
func (c *ResponseCache) Get(key string) (interface{}, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expireAt.Before(c.now()) {
		c.remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores a value under key. Overwriting an existing key keeps its
// original insertion position.
func (c *ResponseCache) Set(key string, value interface{}) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expireAt = c.now().Add(c.ttl)
		return
	}

	c.entries[key] = &entry{value: value, expireAt: c.now().Add(c.ttl)}
	c.order = append(c.order, key)

	if len(c.entries) <= c.maxEntries {
		return
	}

	c.purgeExpired()

	if len(c.entries) > c.maxEntries && len(c.order) > 0 {
		c.remove(c.order[0])
	}
}

// Len returns the number of live entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// purgeExpired drops every expired entry. Caller holds the lock.
func (c *ResponseCache) purgeExpired() {
	now := c.now()
	kept := c.order[:0]
	for _, key := range c.order {
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		if e.expireAt.Before(now) {
			delete(c.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
}

// remove drops one key. Caller holds the lock.
func (c *ResponseCache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
