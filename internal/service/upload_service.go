package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docseek/internal/filestore"
	"github.com/xxxsen/docseek/internal/model"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
	"github.com/xxxsen/docseek/internal/staging"
)

const (
	finalizedCacheSize = 4096
	finalizedCacheTTL  = time.Hour
)

// Ingester turns a merged file into indexed passages.
type Ingester interface {
	Ingest(ctx context.Context, path, ext string, prov model.Provenance) (int, error)
	Delete(ctx context.Context, uploadID string) (int, error)
}

type UploadOption func(*UploadService)

func WithArchive(store filestore.Store) UploadOption {
	return func(s *UploadService) {
		s.archive = store
	}
}

func WithKeepOnSuccess(keep bool) UploadOption {
	return func(s *UploadService) {
		s.keepOnSuccess = keep
	}
}

type UploadService struct {
	staging       *staging.Store
	ingester      Ingester
	archive       filestore.Store
	keepOnSuccess bool

	mu        sync.Mutex
	locks     map[string]*uploadLock
	finalized *expirable.LRU[string, struct{}]
	now       func() time.Time
}

type uploadLock struct {
	mu   sync.Mutex
	refs int
}

func NewUploadService(store *staging.Store, ingester Ingester, opts ...UploadOption) *UploadService {
	s := &UploadService{
		staging:   store,
		ingester:  ingester,
		locks:     make(map[string]*uploadLock),
		finalized: expirable.NewLRU[string, struct{}](finalizedCacheSize, nil, finalizedCacheTTL),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateChunk(req *model.ChunkUpload) error {
	if err := staging.ValidateFileName(req.FileName); err != nil {
		return err
	}
	if err := staging.ValidateUploadID(req.UploadID); err != nil {
		return err
	}
	if req.TotalChunks < 1 {
		return appErr.Invalidf("total chunks must be at least 1")
	}
	if req.ChunkIndex < 0 || req.ChunkIndex >= req.TotalChunks {
		return appErr.Invalidf("chunk index %d out of range [0, %d)", req.ChunkIndex, req.TotalChunks)
	}
	if req.Body == nil {
		return appErr.Missingf("chunk body is required")
	}
	return nil
}

// HandleChunk stages one chunk. Once the last chunk is on disk the upload is
// merged and ingested; the response reports complete only after that succeeds.
func (s *UploadService) HandleChunk(ctx context.Context, req *model.ChunkUpload) (*model.ChunkUploadResult, error) {
	if req.UploadID == "" {
		req.UploadID = uuid.NewString()
	}
	if err := validateChunk(req); err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("upload_id", req.UploadID),
		zap.String("file_name", req.FileName),
		zap.Int("chunk_index", req.ChunkIndex),
		zap.Int("total_chunks", req.TotalChunks),
	)
	result := &model.ChunkUploadResult{FileID: req.UploadID, FileName: req.FileName}
	if _, ok := s.finalized.Get(req.UploadID); ok {
		logger.Debug("upload already finalized, chunk ignored")
		result.Complete = true
		return result, nil
	}
	if err := s.staging.WriteChunk(ctx, req.UploadID, req.ChunkIndex, req.Body); err != nil {
		logger.Error("write chunk failed", zap.Error(err))
		return nil, err
	}
	if !s.staging.HasChunk(req.UploadID, req.TotalChunks-1) {
		return result, nil
	}
	complete, err := s.finalize(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Complete = complete
	return result, nil
}

func (s *UploadService) finalize(ctx context.Context, req *model.ChunkUpload) (bool, error) {
	unlock := s.lock(req.UploadID)
	defer unlock()

	logger := logutil.GetLogger(ctx).With(zap.String("upload_id", req.UploadID), zap.String("file_name", req.FileName))
	if _, ok := s.finalized.Get(req.UploadID); ok {
		return true, nil
	}
	trigger := req.ChunkIndex == req.TotalChunks-1
	path, err := s.staging.Merge(ctx, req.UploadID, req.FileName, req.TotalChunks)
	if err != nil {
		if idx, ok := appErr.MissingIndex(err); ok {
			if trigger {
				logger.Warn("merge found missing chunk", zap.Int("missing_index", idx))
				return false, err
			}
			return false, nil
		}
		logger.Error("merge chunks failed", zap.Error(err))
		return false, err
	}
	prov := model.Provenance{UploadID: req.UploadID, FileName: req.FileName}
	written, err := s.ingester.Ingest(ctx, path, "", prov)
	if err != nil {
		logger.Error("ingest merged file failed, staging kept", zap.String("path", path), zap.Error(err))
		if errors.Is(err, appErr.ErrUnsupportedFormat) {
			return false, err
		}
		return false, appErr.Processingf(err, "ingest %s", req.FileName)
	}
	logger.Info("upload ingested", zap.Int("passages", written))
	s.archiveCopy(ctx, req.UploadID, req.FileName, path)
	s.finalized.Add(req.UploadID, struct{}{})
	if !s.keepOnSuccess {
		if err := s.staging.Remove(req.UploadID); err != nil {
			logger.Warn("purge staging failed", zap.Error(err))
		}
	}
	return true, nil
}

func (s *UploadService) archiveCopy(ctx context.Context, uploadID, fileName, path string) {
	if s.archive == nil {
		return
	}
	logger := logutil.GetLogger(ctx).With(zap.String("upload_id", uploadID), zap.String("archive", s.archive.Type()))
	f, err := os.Open(path)
	if err != nil {
		logger.Error("open merged file for archive failed", zap.Error(err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		logger.Error("stat merged file for archive failed", zap.Error(err))
		return
	}
	if err := s.archive.Save(ctx, filestore.ObjectKey(uploadID, fileName), f, info.Size()); err != nil {
		logger.Error("archive merged file failed", zap.Error(err))
		return
	}
	logger.Debug("merged file archived")
}

// DeleteUpload removes indexed passages and staged data; unknown ids succeed.
func (s *UploadService) DeleteUpload(ctx context.Context, uploadID string) error {
	if err := staging.ValidateUploadID(uploadID); err != nil {
		return err
	}
	unlock := s.lock(uploadID)
	defer unlock()

	removed, err := s.ingester.Delete(ctx, uploadID)
	if err != nil {
		return err
	}
	if err := s.staging.Remove(uploadID); err != nil {
		return err
	}
	s.finalized.Remove(uploadID)
	logutil.GetLogger(ctx).Info("upload deleted", zap.String("upload_id", uploadID), zap.Int("records", removed))
	return nil
}

// CleanupExpired removes staging untouched for longer than retention,
// skipping uploads that are being finalized right now.
func (s *UploadService) CleanupExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)
	ids, err := s.staging.ListExpired(cutoff)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if s.removeExpired(ctx, id, cutoff) {
			removed++
		}
	}
	return removed, nil
}

// removeExpired skips uploads that are locked and re-checks expiry while
// holding the upload lock.
func (s *UploadService) removeExpired(ctx context.Context, uploadID string, cutoff time.Time) bool {
	unlock, ok := s.tryLock(uploadID)
	if !ok {
		return false
	}
	defer unlock()
	if !s.staging.Expired(uploadID, cutoff) {
		return false
	}
	if err := s.staging.Remove(uploadID); err != nil {
		logutil.GetLogger(ctx).Warn("remove expired staging failed", zap.String("upload_id", uploadID), zap.Error(err))
		return false
	}
	return true
}

func (s *UploadService) lock(uploadID string) func() {
	s.mu.Lock()
	l, ok := s.locks[uploadID]
	if !ok {
		l = &uploadLock{}
		s.locks[uploadID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() { s.release(uploadID, l) }
}

// tryLock takes the upload lock only when nobody holds or waits for it.
func (s *UploadService) tryLock(uploadID string) (func(), bool) {
	s.mu.Lock()
	if _, ok := s.locks[uploadID]; ok {
		s.mu.Unlock()
		return nil, false
	}
	l := &uploadLock{refs: 1}
	l.mu.Lock()
	s.locks[uploadID] = l
	s.mu.Unlock()
	return func() { s.release(uploadID, l) }, true
}

func (s *UploadService) release(uploadID string, l *uploadLock) {
	l.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, uploadID)
	}
}
