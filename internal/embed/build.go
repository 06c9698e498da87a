package embed

import (
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/docseek/internal/config"
)

// Build assembles the configured providers into one cached fallback embedder.
// Every provider must serve the same model as the first.
// The hashing provider inherits the index dimension unless configured.
func Build(cfg config.EmbedConfig, dimension int) (IEmbedder, error) {
	entries := make([]EmbedderEntry, 0, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		data := pc.Data
		if data == nil && strings.EqualFold(pc.Provider, "hashing") {
			data = map[string]interface{}{"dimension": dimension}
		}
		provider, err := NewProvider(pc.Provider, data)
		if err != nil {
			return nil, fmt.Errorf("init embed provider %d: %w", i, err)
		}
		name := pc.Name
		if name == "" {
			name = pc.Provider
		}
		entry := EmbedderEntry{Name: name, Embedder: NewEmbedder(provider, pc.Model)}
		if len(entries) > 0 && entry.Embedder.ModelName() != entries[0].Embedder.ModelName() {
			return nil, fmt.Errorf("embed provider %d serves %s, fallback providers must serve %s",
				i, entry.Embedder.ModelName(), entries[0].Embedder.ModelName())
		}
		entries = append(entries, entry)
	}
	e := NewGroupEmbedder(entries)
	if e == nil {
		return nil, fmt.Errorf("no embed provider configured")
	}
	return WrapLruCache(e, cfg.CacheSize, time.Duration(cfg.CacheTTLSeconds)*time.Second), nil
}
