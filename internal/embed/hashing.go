package embed

import (
	"context"
	"math"

	"github.com/xxxsen/docseek/internal/pkg/textutil"
)

const defaultHashingDimension = 768

type hashingConfig struct {
	Dimension int `json:"dimension"`
}

// hashingProvider is an offline feature hashing embedder over unigrams and
// bigrams. Vectors are L2 normalized so cosine equals dot product.
type hashingProvider struct {
	dimension int
}

func init() {
	Register("hashing", createHashingFactory)
}

func createHashingFactory(args interface{}) (IProvider, error) {
	cfg := &hashingConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = defaultHashingDimension
	}
	return &hashingProvider{dimension: cfg.Dimension}, nil
}

func NewHashingProvider(dimension int) IProvider {
	if dimension <= 0 {
		dimension = defaultHashingDimension
	}
	return &hashingProvider{dimension: dimension}
}

func (p *hashingProvider) Name() string {
	return "hashing"
}

func (p *hashingProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, p.dimension)
	tokens := textutil.Tokenize(text)
	for i, tok := range tokens {
		p.add(vec, tok, 1)
		if i > 0 {
			p.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (p *hashingProvider) add(vec []float32, feature string, weight float32) {
	h := textutil.TermHash(feature)
	idx := int(h % uint32(p.dimension))
	if h&(1<<31) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
