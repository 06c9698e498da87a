package embed

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

type groupEmbedder struct {
	items []EmbedderEntry
}

// NewGroupEmbedder tries each embedder in order until one succeeds. Vectors
// from different models are not comparable, so entries whose model differs
// from the first one are left out of the group.
func NewGroupEmbedder(items []EmbedderEntry) IEmbedder {
	kept := make([]EmbedderEntry, 0, len(items))
	for _, item := range items {
		if item.Embedder == nil {
			continue
		}
		if len(kept) > 0 && item.Embedder.ModelName() != kept[0].Embedder.ModelName() {
			logutil.GetLogger(context.Background()).Warn("embedder skipped, model differs from primary",
				zap.String("name", item.Name),
				zap.String("model", item.Embedder.ModelName()),
				zap.String("primary_model", kept[0].Embedder.ModelName()),
			)
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) == 0 {
		return nil
	}
	if len(kept) == 1 {
		return kept[0].Embedder
	}
	return &groupEmbedder{items: kept}
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var lastErr error
	for i, item := range g.items {
		res, err := item.Embedder.Embed(ctx, text, taskType)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	return nil, lastErr
}

func (g *groupEmbedder) ModelName() string {
	return g.items[0].Embedder.ModelName()
}
