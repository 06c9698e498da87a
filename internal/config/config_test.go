package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, 24, cfg.Staging.RetentionHours)
	require.Equal(t, "*/30 * * * *", cfg.Staging.CleanupSpec)
	require.Equal(t, "memory", cfg.Index.Type)
	require.Equal(t, 1000, cfg.Splitter.ChunkSize)
	require.Equal(t, 200, cfg.Splitter.ChunkOverlap)
	require.Equal(t, 4, cfg.Retrieval.CandidateFactor)
	require.Len(t, cfg.Embed.Providers, 1)
	require.Equal(t, "hashing", cfg.Embed.Providers[0].Provider)
}

func TestLoad_Pluggable(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"port": 9000,
		"index": {"type": "qdrant", "dimension": 384, "data": {"addr": "localhost:6334", "collection": "docs"}},
		"embed": {"providers": [{"name": "local", "provider": "ollama", "model": "nomic-embed-text", "data": {"host": "http://localhost:11434"}}]},
		"splitter": {"chunk_size": 500, "chunk_overlap": 0},
		"archive": {"type": "local", "data": {"dir": "/tmp/archive"}}
	}`))
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, 384, cfg.Index.Dimension)
	data, ok := cfg.Index.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "docs", data["collection"])
	require.Equal(t, 0, cfg.Splitter.ChunkOverlap)
	require.Equal(t, "ollama", cfg.Embed.Providers[0].Provider)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []string{
		`{"index": {"type": "badger"}}`,
		`{"splitter": {"chunk_size": 100, "chunk_overlap": 100}}`,
		`{"archive": {"type": "ftp"}}`,
		`{"embed": {"providers": [{"name": "x"}]}}`,
		`{"port": 70000}`,
		`not json`,
	}
	for _, c := range cases {
		_, err := Load(writeConfig(t, c))
		require.Error(t, err, c)
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
