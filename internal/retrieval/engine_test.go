package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docseek/internal/embed"
	"github.com/xxxsen/docseek/internal/index"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
	"github.com/xxxsen/docseek/internal/query"
)

type stubStore struct {
	index.Store
	dense       []*index.Hit
	sparse      []*index.Hit
	keyword     []*index.Hit
	panicSparse bool
	block       bool
	calls       int32
}

func head(hits []*index.Hit, limit int) []*index.Hit {
	if len(hits) > limit {
		return hits[:limit]
	}
	return hits
}

func (s *stubStore) DenseSearch(ctx context.Context, vector []float32, limit int, uploadIDs []string) ([]*index.Hit, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return head(s.dense, limit), nil
}

func (s *stubStore) SparseSearch(ctx context.Context, text string, limit int, uploadIDs []string) ([]*index.Hit, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.panicSparse {
		panic("sparse backend exploded")
	}
	return head(s.sparse, limit), nil
}

func (s *stubStore) KeywordSearch(ctx context.Context, q *query.Node, limit int, uploadIDs []string) ([]*index.Hit, error) {
	atomic.AddInt32(&s.calls, 1)
	return head(s.keyword, limit), nil
}

func hit(id string, score float64) *index.Hit {
	return &index.Hit{ID: id, Content: "content " + id, Metadata: map[string]interface{}{"id": id}, Score: score}
}

func newTestEngine(store index.Store, opts ...Option) *Engine {
	return NewEngine(store, embed.NewEmbedder(embed.NewHashingProvider(8), "test"), opts...)
}

func contents(r *Result) []string {
	out := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, it.Content)
	}
	return out
}

var files = []string{"f1"}

func TestHybrid_EndpointsMatchSingleStrategies(t *testing.T) {
	store := &stubStore{
		dense:  []*index.Hit{hit("a", 0.9), hit("b", 0.4)},
		sparse: []*index.Hit{hit("c", 3.2), hit("a", 1.1)},
	}
	e := newTestEngine(store)
	ctx := context.Background()

	dense := e.Dense(ctx, "query", 5, files)
	require.NoError(t, dense.Err)
	h1 := e.Hybrid(ctx, "query", 5, 1, files)
	require.NoError(t, h1.Err)
	require.Equal(t, dense.Items, h1.Items)

	sparse := e.Sparse(ctx, "query", 5, files)
	require.NoError(t, sparse.Err)
	h0 := e.Hybrid(ctx, "query", 5, 0, files)
	require.NoError(t, h0.Err)
	require.Equal(t, sparse.Items, h0.Items)
}

func TestHybrid_BlendsAndBreaksTiesByDenseRank(t *testing.T) {
	store := &stubStore{
		dense:  []*index.Hit{hit("a", 0.9), hit("b", 0.5), hit("c", 0.1)},
		sparse: []*index.Hit{hit("c", 10), hit("d", 5)},
	}
	e := newTestEngine(store)
	res := e.Hybrid(context.Background(), "query", 4, 0.5, files)
	require.NoError(t, res.Err)
	require.Equal(t, []string{"content a", "content c", "content b", "content d"}, contents(res))
	require.InDelta(t, 0.5, res.Items[0].Score, 1e-9)
	require.InDelta(t, 0.5, res.Items[1].Score, 1e-9)
	require.InDelta(t, 0.25, res.Items[2].Score, 1e-9)
	require.InDelta(t, 0, res.Items[3].Score, 1e-9)

	res = e.Hybrid(context.Background(), "query", 2, 0.5, files)
	require.NoError(t, res.Err)
	require.Len(t, res.Items, 2)
}

func TestHybrid_EqualScoresNormalizeToOne(t *testing.T) {
	store := &stubStore{
		dense: []*index.Hit{hit("x", 0.3), hit("y", 0.3)},
	}
	e := newTestEngine(store)
	res := e.Hybrid(context.Background(), "query", 5, 0.4, files)
	require.NoError(t, res.Err)
	require.Equal(t, []string{"content x", "content y"}, contents(res))
	for _, it := range res.Items {
		require.InDelta(t, 0.4, it.Score, 1e-9)
	}
}

func TestHybrid_RejectsAlphaOutOfRange(t *testing.T) {
	e := newTestEngine(&stubStore{})
	for _, alpha := range []float64{-0.1, 1.5} {
		res := e.Hybrid(context.Background(), "query", 5, alpha, files)
		require.True(t, errors.Is(res.Err, appErr.ErrInvalidParameter))
	}
}

func TestEmptyFilterNeverTouchesIndex(t *testing.T) {
	store := &stubStore{dense: []*index.Hit{hit("a", 1)}}
	e := newTestEngine(store)
	ctx := context.Background()
	for _, res := range []*Result{
		e.Dense(ctx, "query", 5, nil),
		e.Sparse(ctx, "query", 5, []string{}),
		e.Hybrid(ctx, "query", 5, 0.5, nil),
		e.Keyword(ctx, "query", 5, nil),
		e.Keyword(ctx, "(go AND", 5, nil),
	} {
		require.NoError(t, res.Err)
		require.Empty(t, res.Items)
	}
	require.Equal(t, int32(0), atomic.LoadInt32(&store.calls))
}

func TestValidation(t *testing.T) {
	e := newTestEngine(&stubStore{})
	res := e.Dense(context.Background(), "  ", 5, files)
	require.True(t, errors.Is(res.Err, appErr.ErrMissingInput))
	res = e.Sparse(context.Background(), "query", 0, files)
	require.True(t, errors.Is(res.Err, appErr.ErrInvalidParameter))
	res = e.Keyword(context.Background(), "(go AND", 5, files)
	require.True(t, errors.Is(res.Err, appErr.ErrInvalidQuery))
}

func TestCompare_IsolatesFailures(t *testing.T) {
	store := &stubStore{
		dense:       []*index.Hit{hit("a", 0.9)},
		keyword:     []*index.Hit{hit("k", 2)},
		panicSparse: true,
	}
	e := newTestEngine(store)
	out := e.Compare(context.Background(), "query", 3, files)
	require.Len(t, out, 4)
	require.NoError(t, out[StrategyDense].Err)
	require.NoError(t, out[StrategyKeyword].Err)
	require.Error(t, out[StrategySparse].Err)
	require.Error(t, out[StrategyHybrid].Err)
	require.Equal(t, []string{"content a"}, contents(out[StrategyDense]))

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	var decoded map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded[StrategySparse], 1)
	require.Contains(t, decoded[StrategySparse][0]["error"], "sparse backend exploded")
	require.Equal(t, "content k", decoded[StrategyKeyword][0]["content"])
}

func TestTimeoutBecomesError(t *testing.T) {
	store := &stubStore{block: true}
	e := newTestEngine(store, WithTimeout(20*time.Millisecond))
	res := e.Dense(context.Background(), "query", 5, files)
	require.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	require.Nil(t, res.Items)
}

func TestEndToEndWithMemoryIndex(t *testing.T) {
	emb := embed.NewEmbedder(embed.NewHashingProvider(32), "test")
	store := index.NewMemory(32)
	ctx := context.Background()
	texts := map[string]string{
		"r1": "goroutines communicate over channels",
		"r2": "the index stores dense vectors",
		"r3": "channels block until a receiver is ready",
	}
	var records []*index.Record
	for id, text := range texts {
		vec, err := emb.Embed(ctx, text, embed.TaskDocument)
		require.NoError(t, err)
		records = append(records, &index.Record{
			ID: id, UploadID: "f1", Content: text, Vector: vec,
			Metadata: map[string]interface{}{"file_id": "f1"},
		})
	}
	require.NoError(t, store.Upsert(ctx, records))

	e := NewEngine(store, emb)
	res := e.Keyword(ctx, `channels AND NOT goroutines`, 5, files)
	require.NoError(t, res.Err)
	require.Equal(t, []string{texts["r3"]}, contents(res))

	res = e.Sparse(ctx, "channels", 5, files)
	require.NoError(t, res.Err)
	require.Len(t, res.Items, 2)

	res = e.Hybrid(ctx, "channels", 2, 0.5, []string{"other"})
	require.NoError(t, res.Err)
	require.Empty(t, res.Items)
}
