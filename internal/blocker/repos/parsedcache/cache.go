// Package parsedcache keeps serialized compiled filter lists for the lifetime of a session.
package parsedcache

import (
	"sync"

	"github.com/haukened/trackerblock/internal/blocker/domain"
)

// Cache is a mutex-guarded name → serialized list store. It has no TTL and no eviction;
// entries leave only through Remove or Purge.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]string, 2)}
}

// Put stores data under name, replacing any previous entry.
func (c *Cache) Put(name, data string) {
	c.mu.Lock()
	c.entries[name] = data
	c.mu.Unlock()
}

// Get returns the entry for name.
func (c *Cache) Get(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[name]
	return v, ok
}

// Remove drops the entry for name.
func (c *Cache) Remove(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

// Ready reports whether every named entry is present.
func (c *Cache) Ready(names ...string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, n := range names {
		if _, ok := c.entries[n]; !ok {
			return false
		}
	}
	return true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge removes every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]string, 2)
	c.mu.Unlock()
}

// InvalidateList removes the entry compiled from kind. It has the filterlists.PersistHook
// signature so it can be registered directly on the list store.
func (c *Cache) InvalidateList(kind domain.ListKind) {
	if kind.IsFilterList() {
		c.Remove(kind.CacheName())
	}
}
