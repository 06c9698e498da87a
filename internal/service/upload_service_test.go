package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docseek/internal/filestore"
	"github.com/xxxsen/docseek/internal/model"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
	"github.com/xxxsen/docseek/internal/staging"
)

type recordingIngester struct {
	mu      sync.Mutex
	merged  map[string]string
	fail    error
	deletes []string
}

func newRecordingIngester() *recordingIngester {
	return &recordingIngester{merged: map[string]string{}}
}

func (r *recordingIngester) Ingest(ctx context.Context, path, ext string, prov model.Provenance) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	r.merged[prov.UploadID] = string(data)
	return 1, nil
}

func (r *recordingIngester) Delete(ctx context.Context, uploadID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, uploadID)
	n := 0
	if _, ok := r.merged[uploadID]; ok {
		n = 1
		delete(r.merged, uploadID)
	}
	return n, nil
}

func newTestService(t *testing.T, ing Ingester, opts ...UploadOption) (*UploadService, *staging.Store) {
	t.Helper()
	st, err := staging.New(t.TempDir())
	require.NoError(t, err)
	return NewUploadService(st, ing, opts...), st
}

func chunk(id string, index, total int, body string) *model.ChunkUpload {
	return &model.ChunkUpload{
		UploadID:    id,
		FileName:    "doc.txt",
		ChunkIndex:  index,
		TotalChunks: total,
		Body:        strings.NewReader(body),
	}
}

func TestHandleChunk_OutOfOrderCompletes(t *testing.T) {
	ing := newRecordingIngester()
	svc, st := newTestService(t, ing)
	ctx := context.Background()
	parts := []string{strings.Repeat("a", 200), strings.Repeat("b", 200), strings.Repeat("c", 200)}

	_, err := svc.HandleChunk(ctx, chunk("u1", 2, 3, parts[2]))
	idx, ok := appErr.MissingIndex(err)
	require.True(t, ok)
	require.Equal(t, 0, idx)

	res, err := svc.HandleChunk(ctx, chunk("u1", 0, 3, parts[0]))
	require.NoError(t, err)
	require.False(t, res.Complete)

	res, err = svc.HandleChunk(ctx, chunk("u1", 1, 3, parts[1]))
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.Equal(t, "u1", res.FileID)
	require.Equal(t, "doc.txt", res.FileName)
	require.Equal(t, strings.Join(parts, ""), ing.merged["u1"])
	require.False(t, st.HasChunk("u1", 0))

	res, err = svc.HandleChunk(ctx, chunk("u1", 2, 3, parts[2]))
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.False(t, st.HasChunk("u1", 2))
}

func TestHandleChunk_RetryMissingChunk(t *testing.T) {
	ing := newRecordingIngester()
	svc, _ := newTestService(t, ing)
	ctx := context.Background()

	res, err := svc.HandleChunk(ctx, chunk("u2", 0, 3, "one "))
	require.NoError(t, err)
	require.False(t, res.Complete)

	_, err = svc.HandleChunk(ctx, chunk("u2", 2, 3, "three"))
	require.True(t, errors.Is(err, appErr.ErrIncompleteUpload))
	idx, _ := appErr.MissingIndex(err)
	require.Equal(t, 1, idx)

	res, err = svc.HandleChunk(ctx, chunk("u2", 1, 3, "two "))
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.Equal(t, "one two three", ing.merged["u2"])
}

func TestHandleChunk_SingleChunkDefaults(t *testing.T) {
	ing := newRecordingIngester()
	svc, _ := newTestService(t, ing)
	res, err := svc.HandleChunk(context.Background(), chunk("", 0, 1, "hello"))
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.NotEmpty(t, res.FileID)
	require.Equal(t, "hello", ing.merged[res.FileID])
}

func TestHandleChunk_Validation(t *testing.T) {
	svc, _ := newTestService(t, newRecordingIngester())
	ctx := context.Background()

	req := chunk("u3", 0, 1, "x")
	req.FileName = ""
	_, err := svc.HandleChunk(ctx, req)
	require.True(t, errors.Is(err, appErr.ErrMissingInput))

	_, err = svc.HandleChunk(ctx, chunk("u3", 3, 3, "x"))
	require.True(t, errors.Is(err, appErr.ErrInvalidParameter))

	_, err = svc.HandleChunk(ctx, chunk("u3", 0, 0, "x"))
	require.True(t, errors.Is(err, appErr.ErrInvalidParameter))

	_, err = svc.HandleChunk(ctx, chunk("../evil", 0, 1, "x"))
	require.True(t, errors.Is(err, appErr.ErrInvalidParameter))

	req = chunk("u3", 0, 1, "x")
	req.FileName = "dir/doc.txt"
	_, err = svc.HandleChunk(ctx, req)
	require.True(t, errors.Is(err, appErr.ErrInvalidParameter))
}

func TestHandleChunk_IngestFailureKeepsStaging(t *testing.T) {
	ing := newRecordingIngester()
	ing.fail = errors.New("embedding service down")
	svc, st := newTestService(t, ing)
	ctx := context.Background()

	_, err := svc.HandleChunk(ctx, chunk("u4", 0, 1, "payload"))
	require.True(t, errors.Is(err, appErr.ErrProcessingFailed))
	require.True(t, st.HasChunk("u4", 0))

	ing.fail = nil
	res, err := svc.HandleChunk(ctx, chunk("u4", 0, 1, "payload"))
	require.NoError(t, err)
	require.True(t, res.Complete)
}

func TestHandleChunk_UnsupportedFormatPassesThrough(t *testing.T) {
	ing := newRecordingIngester()
	ing.fail = &appErr.UnsupportedFormatError{Extension: ".exe"}
	svc, _ := newTestService(t, ing)
	_, err := svc.HandleChunk(context.Background(), chunk("u5", 0, 1, "MZ"))
	require.True(t, errors.Is(err, appErr.ErrUnsupportedFormat))
}

func TestHandleChunk_KeepOnSuccessAndArchive(t *testing.T) {
	archiveDir := t.TempDir()
	ing := newRecordingIngester()
	svc, st := newTestService(t, ing, WithKeepOnSuccess(true), WithArchive(filestore.NewLocal(archiveDir)))
	res, err := svc.HandleChunk(context.Background(), chunk("u6", 0, 1, "archived body"))
	require.NoError(t, err)
	require.True(t, res.Complete)
	require.True(t, st.HasChunk("u6", 0))

	data, err := os.ReadFile(filepath.Join(archiveDir, "u6", "doc.txt"))
	require.NoError(t, err)
	require.Equal(t, "archived body", string(data))
}

func TestDeleteUpload_Idempotent(t *testing.T) {
	ing := newRecordingIngester()
	svc, st := newTestService(t, ing, WithKeepOnSuccess(true))
	ctx := context.Background()
	_, err := svc.HandleChunk(ctx, chunk("u7", 0, 1, "body"))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUpload(ctx, "u7"))
	require.False(t, st.HasChunk("u7", 0))
	require.NotContains(t, ing.merged, "u7")
	require.NoError(t, svc.DeleteUpload(ctx, "u7"))
	require.NoError(t, svc.DeleteUpload(ctx, "never-existed"))
	require.Equal(t, []string{"u7", "u7", "never-existed"}, ing.deletes)

	require.Error(t, svc.DeleteUpload(ctx, ""))
}

func TestCleanupExpired(t *testing.T) {
	svc, st := newTestService(t, newRecordingIngester())
	ctx := context.Background()
	require.NoError(t, st.WriteChunk(ctx, "stale", 0, bytes.NewReader([]byte("x"))))
	require.NoError(t, st.WriteChunk(ctx, "fresh", 0, bytes.NewReader([]byte("y"))))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, filepath.Walk(filepath.Join(st.Root(), "stale"), func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, old, old)
	}))

	removed, err := svc.CleanupExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.False(t, st.HasChunk("stale", 0))
	require.True(t, st.HasChunk("fresh", 0))
}

func TestCleanupExpired_SkipsLockedUpload(t *testing.T) {
	svc, st := newTestService(t, newRecordingIngester())
	ctx := context.Background()
	require.NoError(t, st.WriteChunk(ctx, "stale", 0, bytes.NewReader([]byte("x"))))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, filepath.Walk(filepath.Join(st.Root(), "stale"), func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, old, old)
	}))

	unlock := svc.lock("stale")
	removed, err := svc.CleanupExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, removed)
	require.True(t, st.HasChunk("stale", 0))
	unlock()

	removed, err = svc.CleanupExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.False(t, st.HasChunk("stale", 0))
	require.Empty(t, svc.locks)
}

func TestTryLock(t *testing.T) {
	svc, _ := newTestService(t, newRecordingIngester())
	unlock, ok := svc.tryLock("u1")
	require.True(t, ok)
	_, ok = svc.tryLock("u1")
	require.False(t, ok)
	unlock()
	unlock, ok = svc.tryLock("u1")
	require.True(t, ok)
	unlock()
	require.Empty(t, svc.locks)
}
