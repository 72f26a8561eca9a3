package entitlement

import (
	"context"
	"time"
)

// CacheEntry is a verdict plus the time it was stored. Staleness is always
// judged by the reconciler from StoredAt; cache implementations may add their
// own TTL on top purely as garbage collection.
type CacheEntry struct {
	Verdict  Verdict   `json:"verdict"`
	StoredAt time.Time `json:"stored_at"`
}

// Age returns how long ago the entry was stored
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// VerdictCache is the port to the local verdict cache. Entries are whole
// values keyed by identity key, written last-write-wins; no field-level
// merging ever happens.
type VerdictCache interface {
	// Get returns the entry for a subject key, or (nil, nil) on a miss.
	Get(ctx context.Context, subjectKey string) (*CacheEntry, error)
	// Put stores an entry for a subject key, replacing any previous one.
	Put(ctx context.Context, subjectKey string, entry *CacheEntry) error
	// Delete removes the entry for a subject key. Missing entries are not an error.
	Delete(ctx context.Context, subjectKey string) error
	// Clear removes every cached verdict. Used on sign-out.
	Clear(ctx context.Context) error
}
