package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/docseek/internal/embed"
	"github.com/xxxsen/docseek/internal/index"
	"github.com/xxxsen/docseek/internal/model"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
	"github.com/xxxsen/docseek/internal/query"
)

const (
	defaultCandidateFactor = 4
	defaultTimeout         = 30 * time.Second
	compareAlpha           = 0.5
)

type Engine struct {
	store           index.Store
	embedder        embed.IEmbedder
	candidateFactor int
	timeout         time.Duration
}

type Option func(*Engine)

func WithCandidateFactor(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.candidateFactor = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func NewEngine(store index.Store, embedder embed.IEmbedder, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		embedder:        embedder,
		candidateFactor: defaultCandidateFactor,
		timeout:         defaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run applies the per query timeout and converts errors and panics into the result.
func (e *Engine) run(ctx context.Context, strategy string, fn func(ctx context.Context) ([]*model.SearchResult, error)) (res *Result) {
	res = &Result{Strategy: strategy}
	logger := logutil.GetLogger(ctx).With(zap.String("strategy", strategy))
	defer func() {
		if r := recover(); r != nil {
			res.Items = nil
			res.Err = fmt.Errorf("%s retrieval failed: %v", strategy, r)
			logger.Error("retrieval panicked", zap.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	start := time.Now()
	items, err := fn(ctx)
	if err != nil {
		res.Err = err
		logger.Warn("retrieval failed", zap.Error(err))
		return res
	}
	res.Items = items
	logger.Debug("retrieval done", zap.Int("items", len(items)), zap.Duration("cost", time.Since(start)))
	return res
}

func validate(q string, limit int) error {
	if strings.TrimSpace(q) == "" {
		return appErr.Missingf("query is required")
	}
	if limit <= 0 {
		return appErr.Invalidf("limit must be positive")
	}
	return nil
}

func (e *Engine) Dense(ctx context.Context, q string, limit int, uploadIDs []string) *Result {
	return e.run(ctx, StrategyDense, func(ctx context.Context) ([]*model.SearchResult, error) {
		if err := validate(q, limit); err != nil {
			return nil, err
		}
		if len(uploadIDs) == 0 {
			return []*model.SearchResult{}, nil
		}
		hits, err := e.denseHits(ctx, q, limit, uploadIDs)
		if err != nil {
			return nil, err
		}
		return toResults(hits), nil
	})
}

func (e *Engine) Sparse(ctx context.Context, q string, limit int, uploadIDs []string) *Result {
	return e.run(ctx, StrategySparse, func(ctx context.Context) ([]*model.SearchResult, error) {
		if err := validate(q, limit); err != nil {
			return nil, err
		}
		if len(uploadIDs) == 0 {
			return []*model.SearchResult{}, nil
		}
		hits, err := e.store.SparseSearch(ctx, q, limit, uploadIDs)
		if err != nil {
			return nil, err
		}
		return toResults(hits), nil
	})
}

// Hybrid blends min-max normalized dense and sparse scores. The endpoints
// alpha 1 and alpha 0 are exactly the dense and sparse results.
func (e *Engine) Hybrid(ctx context.Context, q string, limit int, alpha float64, uploadIDs []string) *Result {
	return e.run(ctx, StrategyHybrid, func(ctx context.Context) ([]*model.SearchResult, error) {
		if err := validate(q, limit); err != nil {
			return nil, err
		}
		if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
			return nil, appErr.Invalidf("alpha must be within [0, 1]")
		}
		if len(uploadIDs) == 0 {
			return []*model.SearchResult{}, nil
		}
		if alpha == 1 {
			hits, err := e.denseHits(ctx, q, limit, uploadIDs)
			if err != nil {
				return nil, err
			}
			return toResults(hits), nil
		}
		if alpha == 0 {
			hits, err := e.store.SparseSearch(ctx, q, limit, uploadIDs)
			if err != nil {
				return nil, err
			}
			return toResults(hits), nil
		}
		pool := limit * e.candidateFactor
		var dense, sparse []*index.Hit
		g, gctx := errgroup.WithContext(ctx)
		g.Go(guard(func() (err error) {
			dense, err = e.denseHits(gctx, q, pool, uploadIDs)
			return err
		}))
		g.Go(guard(func() (err error) {
			sparse, err = e.store.SparseSearch(gctx, q, pool, uploadIDs)
			return err
		}))
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return toResults(fuse(dense, sparse, alpha, limit)), nil
	})
}

func (e *Engine) Keyword(ctx context.Context, q string, limit int, uploadIDs []string) *Result {
	return e.run(ctx, StrategyKeyword, func(ctx context.Context) ([]*model.SearchResult, error) {
		if err := validate(q, limit); err != nil {
			return nil, err
		}
		if len(uploadIDs) == 0 {
			return []*model.SearchResult{}, nil
		}
		node, err := query.Parse(q)
		if err != nil {
			return nil, err
		}
		hits, err := e.store.KeywordSearch(ctx, node, limit, uploadIDs)
		if err != nil {
			return nil, err
		}
		return toResults(hits), nil
	})
}

// Compare runs all four strategies concurrently and always returns four entries.
func (e *Engine) Compare(ctx context.Context, q string, limit int, uploadIDs []string) map[string]*Result {
	var (
		g                              errgroup.Group
		hybrid, dense, sparse, keyword *Result
	)
	g.Go(func() error {
		hybrid = e.Hybrid(ctx, q, limit, compareAlpha, uploadIDs)
		return nil
	})
	g.Go(func() error {
		dense = e.Dense(ctx, q, limit, uploadIDs)
		return nil
	})
	g.Go(func() error {
		sparse = e.Sparse(ctx, q, limit, uploadIDs)
		return nil
	})
	g.Go(func() error {
		keyword = e.Keyword(ctx, q, limit, uploadIDs)
		return nil
	})
	_ = g.Wait()
	return map[string]*Result{
		StrategyHybrid:  hybrid,
		StrategyDense:   dense,
		StrategySparse:  sparse,
		StrategyKeyword: keyword,
	}
}

// guard turns a panic in a candidate goroutine into its error.
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("candidate search failed: %v", r)
			}
		}()
		return fn()
	}
}

func (e *Engine) denseHits(ctx context.Context, q string, limit int, uploadIDs []string) ([]*index.Hit, error) {
	vec, err := e.embedder.Embed(ctx, q, embed.TaskQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.store.DenseSearch(ctx, vec, limit, uploadIDs)
}

type fused struct {
	hit        *index.Hit
	dense      float64
	sparse     float64
	denseRank  int
	sparseRank int
	score      float64
}

// fuse merges both candidate lists. Ties on the blended score keep dense
// ranked candidates first in dense order, then sparse only ones in sparse order.
func fuse(dense, sparse []*index.Hit, alpha float64, limit int) []*index.Hit {
	denseNorm := normalize(dense)
	sparseNorm := normalize(sparse)
	byID := make(map[string]*fused, len(dense)+len(sparse))
	order := make([]*fused, 0, len(dense)+len(sparse))
	for i, h := range dense {
		f := &fused{hit: h, dense: denseNorm[i], denseRank: i, sparseRank: math.MaxInt32}
		byID[h.ID] = f
		order = append(order, f)
	}
	for i, h := range sparse {
		if f, ok := byID[h.ID]; ok {
			f.sparse = sparseNorm[i]
			f.sparseRank = i
			continue
		}
		f := &fused{hit: h, sparse: sparseNorm[i], denseRank: math.MaxInt32, sparseRank: i}
		byID[h.ID] = f
		order = append(order, f)
	}
	for _, f := range order {
		f.score = alpha*f.dense + (1-alpha)*f.sparse
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.denseRank != b.denseRank {
			return a.denseRank < b.denseRank
		}
		return a.sparseRank < b.sparseRank
	})
	if len(order) > limit {
		order = order[:limit]
	}
	out := make([]*index.Hit, 0, len(order))
	for _, f := range order {
		out = append(out, &index.Hit{ID: f.hit.ID, Content: f.hit.Content, Metadata: f.hit.Metadata, Score: f.score})
	}
	return out
}

// normalize min-max scales scores to [0,1]; a list of equal scores maps to 1.
func normalize(hits []*index.Hit) []float64 {
	out := make([]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits {
		lo = math.Min(lo, h.Score)
		hi = math.Max(hi, h.Score)
	}
	for i, h := range hits {
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (h.Score - lo) / (hi - lo)
	}
	return out
}

func toResults(hits []*index.Hit) []*model.SearchResult {
	out := make([]*model.SearchResult, 0, len(hits))
	for _, h := range hits {
		meta := h.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		out = append(out, &model.SearchResult{Content: h.Content, Metadata: meta, Score: h.Score})
	}
	return out
}
