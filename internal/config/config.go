package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port        int              `json:"port"`
	CORSOrigins []string         `json:"cors_origins"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Staging     StagingConfig    `json:"staging"`
	Index       IndexConfig      `json:"index"`
	Embed       EmbedConfig      `json:"embed"`
	Splitter    SplitterConfig   `json:"splitter"`
	Ingest      IngestConfig     `json:"ingest"`
	Retrieval   RetrievalConfig  `json:"retrieval"`
	Archive     ArchiveConfig    `json:"archive"`
}

type StagingConfig struct {
	Dir            string `json:"dir"`
	RetentionHours int    `json:"retention_hours"`
	CleanupSpec    string `json:"cleanup_spec"`
	KeepOnSuccess  bool   `json:"keep_on_success"`
	MaxChunkBytes  int64  `json:"max_chunk_bytes"`
}

// IndexConfig selects the index backend; Data is decoded by the backend factory.
type IndexConfig struct {
	Type      string      `json:"type"`
	Dimension int         `json:"dimension"`
	Data      interface{} `json:"data"`
}

type EmbedConfig struct {
	Providers       []EmbedProviderConfig `json:"providers"`
	CacheSize       int                   `json:"cache_size"`
	CacheTTLSeconds int                   `json:"cache_ttl_seconds"`
}

type EmbedProviderConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type SplitterConfig struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

type IngestConfig struct {
	BatchSize int `json:"batch_size"`
	Workers   int `json:"workers"`
}

type RetrievalConfig struct {
	TimeoutSeconds  int `json:"timeout_seconds"`
	CandidateFactor int `json:"candidate_factor"`
	DefaultLimit    int `json:"default_limit"`
}

// ArchiveConfig enables copying merged originals to a file store. Empty Type disables it.
type ArchiveConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Staging.Dir == "" {
		cfg.Staging.Dir = "./data/staging"
	}
	if cfg.Staging.RetentionHours == 0 {
		cfg.Staging.RetentionHours = 24
	}
	if cfg.Staging.MaxChunkBytes == 0 {
		cfg.Staging.MaxChunkBytes = 64 * 1024 * 1024
	}
	if cfg.Staging.CleanupSpec == "" {
		cfg.Staging.CleanupSpec = "*/30 * * * *"
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "memory"
	}
	if cfg.Index.Dimension == 0 {
		cfg.Index.Dimension = 768
	}
	if len(cfg.Embed.Providers) == 0 {
		cfg.Embed.Providers = []EmbedProviderConfig{{Name: "hashing", Provider: "hashing"}}
	}
	if cfg.Embed.CacheSize == 0 {
		cfg.Embed.CacheSize = 1024
	}
	if cfg.Embed.CacheTTLSeconds == 0 {
		cfg.Embed.CacheTTLSeconds = 3600
	}
	if cfg.Splitter.ChunkSize == 0 {
		cfg.Splitter.ChunkSize = 1000
		if cfg.Splitter.ChunkOverlap == 0 {
			cfg.Splitter.ChunkOverlap = 200
		}
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 64
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Retrieval.TimeoutSeconds == 0 {
		cfg.Retrieval.TimeoutSeconds = 30
	}
	if cfg.Retrieval.CandidateFactor == 0 {
		cfg.Retrieval.CandidateFactor = 4
	}
	if cfg.Retrieval.DefaultLimit == 0 {
		cfg.Retrieval.DefaultLimit = 5
	}
}

func validate(cfg *Config) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port out of range: %d", cfg.Port)
	}
	if cfg.Staging.RetentionHours < 0 {
		return fmt.Errorf("staging.retention_hours must not be negative")
	}
	switch strings.ToLower(cfg.Index.Type) {
	case "memory", "pgvector", "qdrant":
	default:
		return fmt.Errorf("index.type must be memory, pgvector or qdrant")
	}
	if cfg.Index.Dimension < 0 {
		return fmt.Errorf("index.dimension must be positive")
	}
	for i, p := range cfg.Embed.Providers {
		if strings.TrimSpace(p.Provider) == "" {
			return fmt.Errorf("embed.providers[%d].provider is required", i)
		}
	}
	if cfg.Splitter.ChunkSize < 0 {
		return fmt.Errorf("splitter.chunk_size must be positive")
	}
	if cfg.Splitter.ChunkOverlap < 0 || cfg.Splitter.ChunkOverlap >= cfg.Splitter.ChunkSize {
		return fmt.Errorf("splitter.chunk_overlap must be in [0, chunk_size)")
	}
	if cfg.Ingest.BatchSize < 0 || cfg.Ingest.Workers < 0 {
		return fmt.Errorf("ingest.batch_size and ingest.workers must be positive")
	}
	if cfg.Retrieval.CandidateFactor < 1 {
		return fmt.Errorf("retrieval.candidate_factor must be at least 1")
	}
	switch strings.ToLower(cfg.Archive.Type) {
	case "", "local", "s3":
	default:
		return fmt.Errorf("archive.type must be empty, local or s3")
	}
	return nil
}
