package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"pulse/pkg/errors"
	"pulse/pkg/logger"
)

// FileRepository writes each batch as one immutable zstd-compressed JSONL
// file under base/date/hour/batch-<id>.jsonl.zst. Files are written to a
// temp name and renamed, so a partially written batch is never visible.
type FileRepository struct {
	base string
	log  *logger.Logger
}

// NewFileRepository creates a file sink rooted at base
func NewFileRepository(base string) *FileRepository {
	return &FileRepository{
		base: base,
		log:  logger.Get().With("component", "file_archive"),
	}
}

// SaveBatch writes the batch as a single compressed file
func (r *FileRepository) SaveBatch(ctx context.Context, batch *Batch) error {
	if len(batch.Records) == 0 {
		return nil
	}

	finalPath := filepath.Join(r.base, filepath.FromSlash(batch.PathKey())+".jsonl.zst")
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return errors.Wrap(err, "create partition dir")
	}

	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "create batch file")
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "init zstd writer")
	}

	w := json.NewEncoder(enc)
	for _, rec := range batch.Records {
		if err := w.Encode(rec); err != nil {
			enc.Close()
			f.Close()
			os.Remove(tmpPath)
			return errors.Wrap(err, "encode record")
		}
	}

	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "finish compression")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "sync batch file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "close batch file")
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "publish batch file")
	}

	r.log.Infow("Batch archived", "path", finalPath, "records", len(batch.Records))
	return nil
}
