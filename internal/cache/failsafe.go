// Package cache implements the fail-safe store of last-known-good secret
// values. The cache is consulted only when live retrieval fails and is
// never cleared automatically: entries survive for the cache's lifetime
// so a Password Safe outage cannot erase previously obtained secrets.
package cache

import (
	"sync"

	"github.com/turkcell/bt-go-lib/pkg/secretsource"
)

// FailSafe maps normalized secret keys to the last successfully fetched
// value. Safe for concurrent use by in-flight checkouts.
type FailSafe struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates an empty cache. The cache is constructed and injected
// explicitly so tests get an isolated instance.
func New() *FailSafe {
	return &FailSafe{values: make(map[string]string)}
}

// Get returns the cached value for key, if any. Lookup normalizes the
// key the same way Put does.
func (c *FailSafe) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.values[secretsource.Normalize(key)]
	return value, ok
}

// Put upserts the value for key.
func (c *FailSafe) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[secretsource.Normalize(key)] = value
}

// Len reports the number of cached entries.
func (c *FailSafe) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Reset drops every entry. Test use only; production caches live for
// the process lifetime.
func (c *FailSafe) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]string)
}
