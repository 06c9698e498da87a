package index

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docseek/internal/config"
	"github.com/xxxsen/docseek/internal/query"
)

func TestPGVectorStore(t *testing.T) {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	store, err := New(config.IndexConfig{
		Type:      "pgvector",
		Dimension: 3,
		Data:      map[string]interface{}{"dsn": dsn, "table": "passages_test"},
	})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	_, err = store.DeleteByUpload(ctx, "pg-u1")
	require.NoError(t, err)

	require.NoError(t, store.Upsert(ctx, []*Record{
		{ID: "pg-a", UploadID: "pg-u1", Content: "go channels and goroutines", Vector: []float32{1, 0, 0}, Metadata: map[string]interface{}{"chunk_index": 0}},
		{ID: "pg-b", UploadID: "pg-u1", Content: "go modules and tooling", Vector: []float32{0, 1, 0}, Metadata: map[string]interface{}{"chunk_index": 1}},
	}))

	hits, err := store.DenseSearch(ctx, []float32{1, 0, 0}, 1, []string{"pg-u1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "pg-a", hits[0].ID)

	hits, err = store.SparseSearch(ctx, "tooling", 5, []string{"pg-u1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "pg-b", hits[0].ID)

	q, err := query.Parse("go NOT modules")
	require.NoError(t, err)
	hits, err = store.KeywordSearch(ctx, q, 5, []string{"pg-u1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "pg-a", hits[0].ID)

	n, err := store.DeleteByUpload(ctx, "pg-u1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
