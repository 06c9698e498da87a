package index

import (
	"math"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type termCounter interface {
	Count(term string) int
	Len() int
}

type termBag struct {
	tf     map[string]int
	length int
}

func (b *termBag) Count(term string) int {
	return b.tf[term]
}

func (b *termBag) Len() int {
	return b.length
}

// bm25Scores scores each doc against terms using the docs themselves as the corpus.
func bm25Scores(docs []termCounter, terms []string) []float64 {
	scores := make([]float64, len(docs))
	if len(docs) == 0 || len(terms) == 0 {
		return scores
	}
	var total int
	for _, d := range docs {
		total += d.Len()
	}
	avgLen := float64(total) / float64(len(docs))
	if avgLen == 0 {
		avgLen = 1
	}
	n := float64(len(docs))
	for _, term := range terms {
		df := 0
		for _, d := range docs {
			if d.Count(term) > 0 {
				df++
			}
		}
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		for i, d := range docs {
			tf := float64(d.Count(term))
			if tf == 0 {
				continue
			}
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(d.Len())/avgLen))
			scores[i] += idf * norm
		}
	}
	return scores
}
