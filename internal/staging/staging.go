package staging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
)

const (
	chunkDirName = "chunks"
	chunkPrefix  = "chunk_"
)

var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Store keeps the chunks of every in-flight upload under root/<upload_id>/chunks.
// Chunks become visible only after they are fully written and synced.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, appErr.Invalidf("staging dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, appErr.IOf(err, "create staging dir")
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string {
	return s.root
}

func ValidateUploadID(uploadID string) error {
	if uploadID == "" {
		return appErr.Missingf("upload id is required")
	}
	if !uploadIDPattern.MatchString(uploadID) || strings.Contains(uploadID, "..") {
		return appErr.Invalidf("invalid upload id")
	}
	return nil
}

func ValidateFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return appErr.Missingf("file name is required")
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return appErr.Invalidf("file name must not contain a path")
	}
	if name == chunkDirName || strings.HasPrefix(name, ".merge-") {
		return appErr.Invalidf("reserved file name")
	}
	return nil
}

func (s *Store) uploadDir(uploadID string) string {
	return filepath.Join(s.root, uploadID)
}

func (s *Store) chunkDir(uploadID string) string {
	return filepath.Join(s.root, uploadID, chunkDirName)
}

func (s *Store) chunkPath(uploadID string, index int) string {
	return filepath.Join(s.chunkDir(uploadID), chunkPrefix+strconv.Itoa(index))
}

// WriteChunk persists one chunk. A rewrite of the same index replaces the
// previous bytes atomically.
func (s *Store) WriteChunk(ctx context.Context, uploadID string, index int, r io.Reader) error {
	if err := ValidateUploadID(uploadID); err != nil {
		return err
	}
	if index < 0 {
		return appErr.Invalidf("chunk index must not be negative")
	}
	dir := s.chunkDir(uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return appErr.IOf(err, "create chunk dir")
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+strconv.Itoa(index)+"-*")
	if err != nil {
		return appErr.IOf(err, "create chunk temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r}); err != nil {
		_ = tmp.Close()
		return appErr.IOf(err, "write chunk %d", index)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return appErr.IOf(err, "sync chunk %d", index)
	}
	if err := tmp.Close(); err != nil {
		return appErr.IOf(err, "close chunk %d", index)
	}
	if err := os.Rename(tmpName, s.chunkPath(uploadID, index)); err != nil {
		return appErr.IOf(err, "commit chunk %d", index)
	}
	return nil
}

func (s *Store) HasChunk(uploadID string, index int) bool {
	info, err := os.Stat(s.chunkPath(uploadID, index))
	return err == nil && info.Mode().IsRegular()
}

// FirstMissing returns the lowest index in [0,total) that is not on disk.
func (s *Store) FirstMissing(uploadID string, total int) (int, bool) {
	for i := 0; i < total; i++ {
		if !s.HasChunk(uploadID, i) {
			return i, true
		}
	}
	return 0, false
}

func (s *Store) IsComplete(uploadID string, total int) bool {
	_, missing := s.FirstMissing(uploadID, total)
	return !missing
}

// Merge concatenates chunks 0..total-1 in index order into <upload>/<fileName>
// and returns the merged path. Chunk presence is checked again here, so a
// stale completeness answer can never produce a short file.
func (s *Store) Merge(ctx context.Context, uploadID, fileName string, total int) (string, error) {
	if err := ValidateUploadID(uploadID); err != nil {
		return "", err
	}
	if err := ValidateFileName(fileName); err != nil {
		return "", err
	}
	if total < 1 {
		return "", appErr.Invalidf("total chunks must be at least 1")
	}
	if idx, missing := s.FirstMissing(uploadID, total); missing {
		return "", &appErr.IncompleteUploadError{MissingIndex: idx}
	}
	dir := s.uploadDir(uploadID)
	out, err := os.CreateTemp(dir, ".merge-*")
	if err != nil {
		return "", appErr.IOf(err, "create merge file")
	}
	tmpName := out.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			_ = out.Close()
			return "", err
		}
		if err := appendChunk(out, s.chunkPath(uploadID, i)); err != nil {
			_ = out.Close()
			if os.IsNotExist(err) {
				return "", &appErr.IncompleteUploadError{MissingIndex: i}
			}
			return "", appErr.IOf(err, "merge chunk %d", i)
		}
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return "", appErr.IOf(err, "sync merged file")
	}
	if err := out.Close(); err != nil {
		return "", appErr.IOf(err, "close merged file")
	}
	target := filepath.Join(dir, fileName)
	if err := os.Rename(tmpName, target); err != nil {
		return "", appErr.IOf(err, "commit merged file")
	}
	return target, nil
}

func appendChunk(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}

// Remove deletes everything staged for the upload. Missing uploads are not an error.
func (s *Store) Remove(uploadID string) error {
	if err := ValidateUploadID(uploadID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.uploadDir(uploadID)); err != nil {
		return appErr.IOf(err, "remove staging for %s", uploadID)
	}
	return nil
}

// ListExpired returns uploads whose staging has not been touched since before.
func (s *Store) ListExpired(before time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, appErr.IOf(err, "list staging dir")
	}
	ids := make([]string, 0)
	for _, entry := range entries {
		if !entry.IsDir() || ValidateUploadID(entry.Name()) != nil {
			continue
		}
		if s.Expired(entry.Name(), before) {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// Expired reports whether every file staged for uploadID was last modified
// before the cutoff. Missing or unreadable uploads are not expired.
func (s *Store) Expired(uploadID string, before time.Time) bool {
	touched, err := s.lastTouched(uploadID)
	if err != nil {
		return false
	}
	return touched.Before(before)
}

func (s *Store) lastTouched(uploadID string) (time.Time, error) {
	var latest time.Time
	err := filepath.WalkDir(s.uploadDir(uploadID), func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("stat staging %s: %w", uploadID, err)
	}
	return latest, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
