package embed

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const defaultOllamaHost = "http://localhost:11434"

type ollamaConfig struct {
	Host           string `json:"host"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxRetries     int    `json:"max_retries"`
}

type ollamaProvider struct {
	client     *api.Client
	maxRetries int
	baseDelay  time.Duration
}

func init() {
	Register("ollama", createOllamaFactory)
}

func createOllamaFactory(args interface{}) (IProvider, error) {
	cfg := &ollamaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = defaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host: %w", err)
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	return &ollamaProvider{
		client:     api.NewClient(u, httpClient),
		maxRetries: cfg.MaxRetries,
		baseDelay:  time.Second,
	}, nil
}

func (p *ollamaProvider) Name() string {
	return "ollama"
}

// Embed retries with exponential backoff; ollama ignores the task type.
func (p *ollamaProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	req := &api.EmbeddingRequest{Model: model, Prompt: text}
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		resp, err := p.client.Embeddings(ctx, req)
		if err == nil {
			if len(resp.Embedding) == 0 {
				return nil, fmt.Errorf("ollama returned an empty embedding")
			}
			out := make([]float32, len(resp.Embedding))
			for i, v := range resp.Embedding {
				out[i] = float32(v)
			}
			return out, nil
		}
		lastErr = err
		delay := time.Duration(math.Pow(2, float64(attempt))) * p.baseDelay
		logutil.GetLogger(ctx).Warn("ollama embedding attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.maxRetries),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("ollama embedding failed after %d attempts: %w", p.maxRetries, lastErr)
}
