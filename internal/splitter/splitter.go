package splitter

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docseek/internal/model"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

type Splitter struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, appErr.Invalidf("chunk size must be positive")
	}
	if overlap < 0 || overlap >= size {
		return nil, appErr.Invalidf("chunk overlap must be in [0, %d)", size)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Split cuts every unit into windows of at most size runes that start step
// runes apart, where step is size minus overlap. Passage numbering runs across
// all units of the upload.
func (s *Splitter) Split(ctx context.Context, units []*model.Unit) []*model.Passage {
	passages := make([]*model.Passage, 0, len(units))
	for _, unit := range units {
		for _, window := range s.windows(unit.Text) {
			passages = append(passages, &model.Passage{
				Content:    window,
				Provenance: unit.Provenance,
				Source:     unit.Source,
			})
		}
	}
	for i, p := range passages {
		p.ChunkIndex = i
		p.TotalChunks = len(passages)
	}
	logutil.GetLogger(ctx).Debug("split units into passages",
		zap.Int("units", len(units)),
		zap.Int("passages", len(passages)),
		zap.Int("size", s.size),
		zap.Int("overlap", s.overlap),
	)
	return passages
}

func (s *Splitter) windows(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	step := s.size - s.overlap
	out := make([]string, 0, len(runes)/step+1)
	for start := 0; ; start += step {
		end := start + s.size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
