package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docseek/internal/embed"
	"github.com/xxxsen/docseek/internal/index"
	"github.com/xxxsen/docseek/internal/loader"
	"github.com/xxxsen/docseek/internal/model"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
	"github.com/xxxsen/docseek/internal/query"
	"github.com/xxxsen/docseek/internal/splitter"
)

type flakyStore struct {
	index.Store
	upserts  int32
	failFrom int32
}

func (f *flakyStore) Upsert(ctx context.Context, records []*index.Record) error {
	n := atomic.AddInt32(&f.upserts, 1)
	if f.failFrom > 0 && n >= f.failFrom {
		return errors.New("index unavailable")
	}
	return f.Store.Upsert(ctx, records)
}

func makePassages(uploadID string, n int) []*model.Passage {
	out := make([]*model.Passage, n)
	for i := range out {
		out[i] = &model.Passage{
			Content:     "passage number " + strings.Repeat("x", i+1),
			Provenance:  model.Provenance{UploadID: uploadID, FileName: "f.txt"},
			ChunkIndex:  i,
			TotalChunks: n,
		}
	}
	return out
}

func newHashingEmbedder() embed.IEmbedder {
	return embed.NewEmbedder(embed.NewHashingProvider(16), "")
}

func TestRecordID_Deterministic(t *testing.T) {
	require.Equal(t, RecordID("u1", 3), RecordID("u1", 3))
	require.NotEqual(t, RecordID("u1", 3), RecordID("u1", 4))
	require.NotEqual(t, RecordID("u1", 3), RecordID("u2", 3))
}

func TestWriter_BatchesAndReplaysInPlace(t *testing.T) {
	store := index.NewMemory(16)
	w, err := NewWriter(store, newHashingEmbedder(), 3, 2)
	require.NoError(t, err)
	defer w.Release()
	ctx := context.Background()

	n, err := w.Write(ctx, makePassages("u1", 7))
	require.NoError(t, err)
	require.Equal(t, 7, n)
	n, err = w.Write(ctx, makePassages("u1", 7))
	require.NoError(t, err)
	require.Equal(t, 7, n)

	hits, err := store.DenseSearch(ctx, make([]float32, 16), 100, []string{"u1"})
	require.NoError(t, err)
	require.Len(t, hits, 7)
	require.Equal(t, "u1", hits[0].Metadata[model.MetaUploadID])
	require.Equal(t, 7, hits[0].Metadata[model.MetaTotalChunks])
}

func TestWriter_ReportsWrittenCountOnFailure(t *testing.T) {
	store := &flakyStore{Store: index.NewMemory(16), failFrom: 2}
	w, err := NewWriter(store, newHashingEmbedder(), 3, 2)
	require.NoError(t, err)
	defer w.Release()

	n, err := w.Write(context.Background(), makePassages("u1", 7))
	require.Error(t, err)
	require.True(t, errors.Is(err, appErr.ErrIndexWrite))
	written, ok := appErr.WrittenCount(err)
	require.True(t, ok)
	require.Equal(t, 3, written)
	require.Equal(t, 3, n)
}

func TestWriter_DimensionMismatchFails(t *testing.T) {
	w, err := NewWriter(index.NewMemory(8), newHashingEmbedder(), 3, 2)
	require.NoError(t, err)
	defer w.Release()
	_, err = w.Write(context.Background(), makePassages("u1", 2))
	require.True(t, errors.Is(err, appErr.ErrIndexWrite))
}

func TestPipeline_IngestAndDelete(t *testing.T) {
	store := index.NewMemory(16)
	w, err := NewWriter(store, newHashingEmbedder(), 4, 2)
	require.NoError(t, err)
	defer w.Release()
	sp, err := splitter.New(40, 10)
	require.NoError(t, err)
	p := NewPipeline(loader.NewDispatcher(), sp, w)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("goroutines and channels make go concurrency simple. ", 5)), 0o644))
	ctx := context.Background()
	n, err := p.Ingest(ctx, path, ".txt", model.Provenance{UploadID: "u9", FileName: "notes.txt"})
	require.NoError(t, err)
	require.Greater(t, n, 1)

	q, err := query.Parse("goroutines AND channels")
	require.NoError(t, err)
	hits, err := store.KeywordSearch(ctx, q, 100, []string{"u9"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, ".txt", hits[0].Metadata[model.MetaFileExtension])

	deleted, err := p.Delete(ctx, "u9")
	require.NoError(t, err)
	require.Equal(t, n, deleted)
	deleted, err = p.Delete(ctx, "u9")
	require.NoError(t, err)
	require.Equal(t, 0, deleted)

	_, err = p.Ingest(ctx, path, ".doc", model.Provenance{UploadID: "u9"})
	require.True(t, errors.Is(err, appErr.ErrUnsupportedFormat))
}
