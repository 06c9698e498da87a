package ingest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docseek/internal/embed"
	"github.com/xxxsen/docseek/internal/index"
	"github.com/xxxsen/docseek/internal/model"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
)

const (
	DefaultBatchSize = 64
	DefaultWorkers   = 4
)

// RecordID is stable for an upload and passage index, so re-ingesting the
// same upload overwrites its records instead of duplicating them.
func RecordID(uploadID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(uploadID+":"+strconv.Itoa(chunkIndex))).String()
}

// Writer embeds passages on a worker pool and upserts them in batches.
type Writer struct {
	store     index.Store
	embedder  embed.IEmbedder
	pool      *ants.Pool
	batchSize int
}

func NewWriter(store index.Store, embedder embed.IEmbedder, batchSize, workers int) (*Writer, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("index store and embedder are required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &Writer{store: store, embedder: embedder, pool: pool, batchSize: batchSize}, nil
}

func (w *Writer) Release() {
	w.pool.Release()
}

// Write returns the number of records persisted. On failure the error is an
// IndexWriteError carrying the count written before the failing batch.
func (w *Writer) Write(ctx context.Context, passages []*model.Passage) (int, error) {
	logger := logutil.GetLogger(ctx)
	written := 0
	for start := 0; start < len(passages); start += w.batchSize {
		end := start + w.batchSize
		if end > len(passages) {
			end = len(passages)
		}
		records, err := w.embedBatch(ctx, passages[start:end])
		if err != nil {
			return written, &appErr.IndexWriteError{Written: written, Err: err}
		}
		if err := w.store.Upsert(ctx, records); err != nil {
			return written, &appErr.IndexWriteError{Written: written, Err: err}
		}
		written += len(records)
		logger.Debug("index batch written", zap.Int("batch", len(records)), zap.Int("written", written))
	}
	return written, nil
}

func (w *Writer) embedBatch(ctx context.Context, batch []*model.Passage) ([]*index.Record, error) {
	records := make([]*index.Record, len(batch))
	errs := make([]error, len(batch))
	var wg sync.WaitGroup
	for i, p := range batch {
		i, p := i, p
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			vec, err := w.embedder.Embed(ctx, p.Content, embed.TaskDocument)
			if err != nil {
				errs[i] = fmt.Errorf("embed passage %d: %w", p.ChunkIndex, err)
				return
			}
			records[i] = &index.Record{
				ID:       RecordID(p.Provenance.UploadID, p.ChunkIndex),
				UploadID: p.Provenance.UploadID,
				Content:  p.Content,
				Vector:   vec,
				Metadata: p.Metadata(),
			}
		}
		if err := w.pool.Submit(task); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submit embedding task: %w", err)
		}
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (w *Writer) DeleteByUpload(ctx context.Context, uploadID string) (int, error) {
	return w.store.DeleteByUpload(ctx, uploadID)
}
