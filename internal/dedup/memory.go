package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryFilter is an in-process dedup filter for tests and single-process
// local runs. It keeps the same TTL semantics as the Redis filter.
type MemoryFilter struct {
	mu      sync.Mutex
	entries map[string]time.Time // fingerprint -> expiry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption configures the filter
type MemoryOption func(*MemoryFilter)

// WithClock injects a clock, letting tests control TTL expiry
func WithClock(now func() time.Time) MemoryOption {
	return func(f *MemoryFilter) { f.now = now }
}

// NewMemoryFilter creates an in-memory dedup filter
func NewMemoryFilter(ttl time.Duration, opts ...MemoryOption) *MemoryFilter {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	f := &MemoryFilter{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SeenOrMark checks membership and marks if absent. Expired entries count
// as absent and are re-marked with a fresh TTL.
func (f *MemoryFilter) SeenOrMark(ctx context.Context, fingerprint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if expiry, ok := f.entries[fingerprint]; ok && now.Before(expiry) {
		return true, nil
	}
	f.entries[fingerprint] = now.Add(f.ttl)

	// Opportunistic sweep keeps the map bounded without a background goroutine
	if len(f.entries) > 1 && len(f.entries)%1024 == 0 {
		for fp, expiry := range f.entries {
			if now.After(expiry) {
				delete(f.entries, fp)
			}
		}
	}
	return false, nil
}
