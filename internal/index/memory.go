package index

import (
	"context"
	"math"
	"sync"

	"github.com/xxxsen/docseek/internal/pkg/textutil"
	"github.com/xxxsen/docseek/internal/query"
)

func init() {
	Register("memory", func(dimension int, args interface{}) (Store, error) {
		return NewMemory(dimension), nil
	})
}

type memoryEntry struct {
	record *Record
	sparse *termBag
	doc    *query.Document
}

// memoryStore keeps everything in process: cosine similarity for dense
// search, BM25 over the filtered set for sparse and boolean search.
type memoryStore struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]*memoryEntry
}

func NewMemory(dimension int) Store {
	return &memoryStore{dimension: dimension, entries: make(map[string]*memoryEntry)}
}

func (s *memoryStore) Upsert(ctx context.Context, records []*Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkDimension(s.dimension, records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		tokens := textutil.Tokenize(r.Content)
		s.entries[r.ID] = &memoryEntry{
			record: cloneRecord(r),
			sparse: &termBag{tf: textutil.TermFrequencies(tokens), length: len(tokens)},
			doc:    query.NewDocument(r.Content),
		}
	}
	return nil
}

func (s *memoryStore) filtered(uploadIDs []string) []*memoryEntry {
	set := uploadSet(uploadIDs)
	out := make([]*memoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if set != nil {
			if _, ok := set[e.record.UploadID]; !ok {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

func (s *memoryStore) DenseSearch(ctx context.Context, vector []float32, limit int, uploadIDs []string) ([]*Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := s.filtered(uploadIDs)
	hits := make([]*Hit, 0, len(candidates))
	for _, e := range candidates {
		hits = append(hits, toHit(e.record, cosine(vector, e.record.Vector)))
	}
	return sortHits(hits, limit), nil
}

func (s *memoryStore) SparseSearch(ctx context.Context, text string, limit int, uploadIDs []string) ([]*Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := distinct(textutil.Tokenize(text))
	if len(terms) == 0 {
		return []*Hit{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := s.filtered(uploadIDs)
	docs := make([]termCounter, len(candidates))
	for i, e := range candidates {
		docs[i] = e.sparse
	}
	scores := bm25Scores(docs, terms)
	hits := make([]*Hit, 0, len(candidates))
	for i, e := range candidates {
		if scores[i] <= 0 {
			continue
		}
		hits = append(hits, toHit(e.record, scores[i]))
	}
	return sortHits(hits, limit), nil
}

func (s *memoryStore) KeywordSearch(ctx context.Context, q *query.Node, limit int, uploadIDs []string) ([]*Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	candidates := s.filtered(uploadIDs)
	docs := make([]termCounter, len(candidates))
	for i, e := range candidates {
		docs[i] = e.doc
	}
	scores := bm25Scores(docs, q.PositiveTerms())
	hits := make([]*Hit, 0)
	for i, e := range candidates {
		if !q.Eval(e.doc) {
			continue
		}
		hits = append(hits, toHit(e.record, scores[i]))
	}
	return sortHits(hits, limit), nil
}

func (s *memoryStore) DeleteByUpload(ctx context.Context, uploadID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, e := range s.entries {
		if e.record.UploadID == uploadID {
			delete(s.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memoryStore) Close() error {
	return nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func distinct(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func cloneRecord(r *Record) *Record {
	meta := make(map[string]interface{}, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = v
	}
	vec := make([]float32, len(r.Vector))
	copy(vec, r.Vector)
	return &Record{ID: r.ID, UploadID: r.UploadID, Content: r.Content, Vector: vec, Metadata: meta}
}

func toHit(r *Record, score float64) *Hit {
	meta := make(map[string]interface{}, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = v
	}
	return &Hit{ID: r.ID, Content: r.Content, Metadata: meta, Score: score}
}
