package dedup

import (
	"context"
	"time"
)

// Filter is the shared idempotency check the cleaning workers call before
// forwarding a record. It must be a single consistent view across all
// workers, so production uses Redis rather than per-process memory.
type Filter interface {
	// SeenOrMark atomically checks membership for a fingerprint and marks
	// it if absent. Returns true when the fingerprint was already marked,
	// in which case the caller discards the record as a duplicate.
	SeenOrMark(ctx context.Context, fingerprint string) (bool, error)
}

// DefaultTTL bounds dedup memory. Entries expire after this window, which
// re-admits duplicates older than the horizon — accepted by design.
const DefaultTTL = 24 * time.Hour
