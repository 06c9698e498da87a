package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/xxxsen/docseek/internal/config"
	"github.com/xxxsen/docseek/internal/query"
)

// Lazy builds the configured backend on first use and rebuilds it when the
// configuration fingerprint changes. It is itself a Store.
type Lazy struct {
	mu      sync.Mutex
	cfg     config.IndexConfig
	key     string
	store   Store
	builder func(config.IndexConfig) (Store, error)
}

func NewLazy(cfg config.IndexConfig) *Lazy {
	return &Lazy{cfg: cfg, builder: New}
}

func NewLazyWithBuilder(cfg config.IndexConfig, builder func(config.IndexConfig) (Store, error)) *Lazy {
	return &Lazy{cfg: cfg, builder: builder}
}

func fingerprint(cfg config.IndexConfig) string {
	data, _ := json.Marshal(cfg)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (l *Lazy) Get() (Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := fingerprint(l.cfg)
	if l.store != nil && l.key == key {
		return l.store, nil
	}
	if l.store != nil {
		_ = l.store.Close()
		l.store = nil
	}
	store, err := l.builder(l.cfg)
	if err != nil {
		return nil, err
	}
	l.store = store
	l.key = key
	return store, nil
}

// Reconfigure swaps the configuration; the backend is rebuilt on next use.
func (l *Lazy) Reconfigure(cfg config.IndexConfig) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

// Reset drops the built backend so the next call builds a fresh one.
func (l *Lazy) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	l.key = ""
	return err
}

func (l *Lazy) Upsert(ctx context.Context, records []*Record) error {
	s, err := l.Get()
	if err != nil {
		return err
	}
	return s.Upsert(ctx, records)
}

func (l *Lazy) DenseSearch(ctx context.Context, vector []float32, limit int, uploadIDs []string) ([]*Hit, error) {
	s, err := l.Get()
	if err != nil {
		return nil, err
	}
	return s.DenseSearch(ctx, vector, limit, uploadIDs)
}

func (l *Lazy) SparseSearch(ctx context.Context, text string, limit int, uploadIDs []string) ([]*Hit, error) {
	s, err := l.Get()
	if err != nil {
		return nil, err
	}
	return s.SparseSearch(ctx, text, limit, uploadIDs)
}

func (l *Lazy) KeywordSearch(ctx context.Context, q *query.Node, limit int, uploadIDs []string) ([]*Hit, error) {
	s, err := l.Get()
	if err != nil {
		return nil, err
	}
	return s.KeywordSearch(ctx, q, limit, uploadIDs)
}

func (l *Lazy) DeleteByUpload(ctx context.Context, uploadID string) (int, error) {
	s, err := l.Get()
	if err != nil {
		return 0, err
	}
	return s.DeleteByUpload(ctx, uploadID)
}

func (l *Lazy) Close() error {
	return l.Reset()
}
