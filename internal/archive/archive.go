// Package archive persists flushed batches of clean posts as immutable
// write units. Two sinks exist: compressed local files and ClickHouse.
// Archival is write-only from the pipeline's perspective.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pulse/internal/domain/post"
)

// Batch is one flush unit: the buffered records of the archival stage
// at the moment a size or time trigger fired.
type Batch struct {
	ID       string
	Records  []*post.CleanPost
	OpenedAt time.Time
}

// NewBatch creates a batch around buffered records
func NewBatch(records []*post.CleanPost, openedAt time.Time) *Batch {
	return &Batch{
		ID:       uuid.NewString(),
		Records:  records,
		OpenedAt: openedAt,
	}
}

// PathKey returns the date/hour/batch-id partition key for the batch,
// keyed by the first record's timestamp.
func (b *Batch) PathKey() string {
	ts := b.OpenedAt
	if len(b.Records) > 0 {
		ts = b.Records[0].Timestamp
	}
	ts = ts.UTC()
	return fmt.Sprintf("%s/%02d/batch-%s", ts.Format("2006-01-02"), ts.Hour(), b.ID)
}

// Repository durably writes one batch as a single unit. An error means
// nothing was committed and the caller must not acknowledge the batch's
// messages.
type Repository interface {
	SaveBatch(ctx context.Context, batch *Batch) error
}
