package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docseek/internal/config"
	"github.com/xxxsen/docseek/internal/query"
)

// Record is one passage as stored in the index.
type Record struct {
	ID       string
	UploadID string
	Content  string
	Vector   []float32
	Metadata map[string]interface{}
}

type Hit struct {
	ID       string
	Content  string
	Metadata map[string]interface{}
	Score    float64
}

// Store is the vector and keyword index. A nil or empty uploadIDs slice means
// no filter; callers that must never scan the whole index check for it first.
type Store interface {
	Upsert(ctx context.Context, records []*Record) error
	DenseSearch(ctx context.Context, vector []float32, limit int, uploadIDs []string) ([]*Hit, error)
	SparseSearch(ctx context.Context, text string, limit int, uploadIDs []string) ([]*Hit, error)
	KeywordSearch(ctx context.Context, q *query.Node, limit int, uploadIDs []string) ([]*Hit, error)
	DeleteByUpload(ctx context.Context, uploadID string) (int, error)
	Close() error
}

type Factory func(dimension int, args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.IndexConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("index.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported index type: %s", cfg.Type)
	}
	return factory(cfg.Dimension, cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("index config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode index config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode index config: %w", err)
	}
	return nil
}

func checkDimension(dimension int, records []*Record) error {
	if dimension <= 0 {
		return nil
	}
	for _, r := range records {
		if len(r.Vector) != dimension {
			return fmt.Errorf("vector dimension mismatch for %s: got %d want %d", r.ID, len(r.Vector), dimension)
		}
	}
	return nil
}

// sortHits orders by score descending, ties by id, and truncates to limit.
func sortHits(hits []*Hit, limit int) []*Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func uploadSet(uploadIDs []string) map[string]struct{} {
	if len(uploadIDs) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(uploadIDs))
	for _, id := range uploadIDs {
		set[id] = struct{}{}
	}
	return set
}

// capCandidates trims boolean match candidates to maxHits. Callers fetch one extra
// row so a trimmed result can be told apart from an exact fit.
func capCandidates(ctx context.Context, backend string, hits []*Hit, maxHits int) []*Hit {
	if len(hits) <= maxHits {
		return hits
	}
	warnCandidateCap(ctx, backend, maxHits)
	return hits[:maxHits]
}

func warnCandidateCap(ctx context.Context, backend string, maxHits int) {
	logutil.GetLogger(ctx).Warn("keyword candidates capped, ranking sees a subset of the matches",
		zap.String("backend", backend), zap.Int("max_candidates", maxHits))
}
