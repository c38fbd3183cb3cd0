package matcher

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/bibflow/bibflow/internal/record"
)

// EntityStore provides access to stored code-module entities. The
// store implements this.
type EntityStore interface {
	SelectModule(ctx context.Context, id string) (record.CodeModule, error)
}

// Cache holds loaded code modules keyed by module id. Loads of the
// same module are collapsed through singleflight so a burst of
// matchers referencing one module compiles it once. A changed entity
// hash invalidates the cached instance on the next Get.
type Cache struct {
	store EntityStore

	mu      sync.RWMutex
	entries map[string]cacheEntry

	group singleflight.Group
}

type cacheEntry struct {
	module Module
	hash   string
}

// NewCache creates an empty module cache backed by store.
func NewCache(store EntityStore) *Cache {
	return &Cache{
		store:   store,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the loaded module for id, loading and compiling it if
// needed. A stored entity whose hash differs from the cached one is
// reloaded.
func (c *Cache) Get(ctx context.Context, id string) (Module, error) {
	entity, err := c.store.SelectModule(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && entry.hash == entity.Hash {
		return entry.module, nil
	}

	v, err, _ := c.group.Do(id+":"+entity.Hash, func() (any, error) {
		mod, err := loadModule(entity)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[id] = cacheEntry{module: mod, hash: entity.Hash}
		c.mu.Unlock()
		return mod, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Module), nil
}

// Purge drops one cached module. The next Get reloads it from the
// store.
func (c *Cache) Purge(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// PurgeAll drops every cached module.
func (c *Cache) PurgeAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
