package archive

import (
	"context"
	"strings"
	"time"

	chadapter "pulse/internal/adapters/clickhouse"
	"pulse/pkg/errors"
	"pulse/pkg/logger"
)

const createPostsTable = `
CREATE TABLE IF NOT EXISTS posts (
    id           String,
    batch_id     String,
    text         String,
    author_id    String,
    followers    Int64,
    verified     UInt8,
    likes        Int64,
    tags         Array(String),
    fingerprint  String,
    timestamp    DateTime64(3, 'UTC'),
    processed_at DateTime64(3, 'UTC'),
    archived_at  DateTime64(3, 'UTC')
) ENGINE = MergeTree()
PARTITION BY (toDate(timestamp), toHour(timestamp))
ORDER BY (timestamp, id)
`

// ClickHouseRepository writes each batch as one columnar insert.
// PrepareBatch/Send commits the whole unit or nothing, which is exactly
// the durability boundary the archival stage acks against.
type ClickHouseRepository struct {
	client *chadapter.Client
	log    *logger.Logger
}

// NewClickHouseRepository creates the ClickHouse sink and ensures the
// posts table exists
func NewClickHouseRepository(ctx context.Context, client *chadapter.Client) (*ClickHouseRepository, error) {
	if err := client.Exec(ctx, createPostsTable); err != nil {
		return nil, errors.Wrap(err, "create posts table")
	}
	return &ClickHouseRepository{
		client: client,
		log:    logger.Get().With("component", "clickhouse_archive"),
	}, nil
}

// SaveBatch inserts all batch records in one prepared batch
func (r *ClickHouseRepository) SaveBatch(ctx context.Context, batch *Batch) error {
	if len(batch.Records) == 0 {
		return nil
	}

	prepared, err := r.client.Conn().PrepareBatch(ctx,
		"INSERT INTO posts (id, batch_id, text, author_id, followers, verified, likes, tags, fingerprint, timestamp, processed_at, archived_at)")
	if err != nil {
		return errors.Wrap(err, "prepare batch")
	}

	now := time.Now().UTC()
	for _, rec := range batch.Records {
		if err := prepared.Append(
			rec.ID,
			batch.ID,
			rec.Text,
			rec.AuthorID,
			rec.Author.Followers,
			boolToUInt8(rec.Author.Verified),
			rec.Author.Likes,
			normalizeTags(rec.Tags),
			rec.Fingerprint,
			rec.Timestamp.UTC(),
			rec.ProcessedAt.UTC(),
			now,
		); err != nil {
			return errors.Wrapf(err, "append record %s", rec.ID)
		}
	}

	if err := prepared.Send(); err != nil {
		return errors.Wrap(err, "send batch")
	}

	r.log.Infow("Batch archived", "batch_id", batch.ID, "records", len(batch.Records))
	return nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.ToLower(t))
	}
	return out
}
