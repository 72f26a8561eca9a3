// Package cache provides local verdict cache implementations: an in-process
// map for single-instance deployments and tests, and a Redis store shared
// across instances.
package cache

import (
	"context"
	"sync"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
)

// MemoryVerdictCache is an in-process implementation of
// entitlement.VerdictCache. Entries are copied on read and write so callers
// can never mutate a cached verdict in place.
type MemoryVerdictCache struct {
	mu      sync.RWMutex
	entries map[string]entitlement.CacheEntry
}

// NewMemoryVerdictCache creates an empty in-memory verdict cache
func NewMemoryVerdictCache() *MemoryVerdictCache {
	return &MemoryVerdictCache{
		entries: make(map[string]entitlement.CacheEntry),
	}
}

// Get returns the entry for a subject key, or (nil, nil) on a miss
func (c *MemoryVerdictCache) Get(_ context.Context, subjectKey string) (*entitlement.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[subjectKey]
	if !ok {
		return nil, nil
	}
	copied := entry
	return &copied, nil
}

// Put stores an entry for a subject key, replacing any previous one
func (c *MemoryVerdictCache) Put(_ context.Context, subjectKey string, entry *entitlement.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[subjectKey] = *entry
	return nil
}

// Delete removes the entry for a subject key
func (c *MemoryVerdictCache) Delete(_ context.Context, subjectKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, subjectKey)
	return nil
}

// Clear removes every cached verdict
func (c *MemoryVerdictCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entitlement.CacheEntry)
	return nil
}
