package textutil

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"
)

var stopwords = buildStopwords(
	"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at",
	"by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that",
	"these", "those", "from", "into", "about", "so", "than", "too", "very", "can", "will", "just",
)

func buildStopwords(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Words lower-cases text and splits it on anything that is not a letter or digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokenize is Words without stopwords; it is the term stream used for sparse scoring.
func Tokenize(text string) []string {
	words := Words(text)
	out := words[:0]
	for _, w := range words {
		if _, ok := stopwords[w]; ok {
			continue
		}
		out = append(out, w)
	}
	return out
}

func IsStopword(word string) bool {
	_, ok := stopwords[word]
	return ok
}

func TermFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}

// TermHash maps a term onto the sparse vector index space.
func TermHash(term string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return h.Sum32()
}

// SparseVector encodes text as hashed term frequencies, sorted by index.
func SparseVector(text string) ([]uint32, []float32) {
	tf := TermFrequencies(Tokenize(text))
	merged := make(map[uint32]float32, len(tf))
	for term, n := range tf {
		merged[TermHash(term)] += float32(n)
	}
	indices := make([]uint32, 0, len(merged))
	for idx := range merged {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = merged[idx]
	}
	return indices, values
}
