package retrieval

import (
	"encoding/json"

	"github.com/xxxsen/docseek/internal/model"
)

const (
	StrategyDense   = "dense"
	StrategySparse  = "sparse"
	StrategyHybrid  = "hybrid"
	StrategyKeyword = "keyword"
)

// Result is the outcome of one strategy: either items or an error, never both.
type Result struct {
	Strategy string
	Items    []*model.SearchResult
	Err      error
}

func (r *Result) OK() bool {
	return r.Err == nil
}

type errorItem struct {
	Error string `json:"error"`
}

// MarshalJSON renders the item list, or a single {"error": ...} element.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal([]errorItem{{Error: r.Err.Error()}})
	}
	if r.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Items)
}
