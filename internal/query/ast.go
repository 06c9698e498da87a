package query

import (
	"strings"

	"github.com/xxxsen/docseek/internal/pkg/textutil"
)

type Kind int

const (
	KindTerm Kind = iota
	KindPhrase
	KindAnd
	KindOr
	KindNot
)

type Node struct {
	Kind     Kind
	Terms    []string
	Children []*Node
}

// Document is a tokenized text prepared for repeated evaluation.
type Document struct {
	tokens    []string
	positions map[string][]int
}

func NewDocument(text string) *Document {
	tokens := textutil.Words(text)
	positions := make(map[string][]int, len(tokens))
	for i, t := range tokens {
		positions[t] = append(positions[t], i)
	}
	return &Document{tokens: tokens, positions: positions}
}

func (d *Document) Tokens() []string {
	return d.tokens
}

func (d *Document) Len() int {
	return len(d.tokens)
}

func (d *Document) Count(term string) int {
	return len(d.positions[term])
}

func (d *Document) hasPhrase(terms []string) bool {
	for _, start := range d.positions[terms[0]] {
		if start+len(terms) > len(d.tokens) {
			continue
		}
		matched := true
		for i := 1; i < len(terms); i++ {
			if d.tokens[start+i] != terms[i] {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func (n *Node) Eval(d *Document) bool {
	switch n.Kind {
	case KindTerm:
		return d.Count(n.Terms[0]) > 0
	case KindPhrase:
		return d.hasPhrase(n.Terms)
	case KindAnd:
		for _, c := range n.Children {
			if !c.Eval(d) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range n.Children {
			if c.Eval(d) {
				return true
			}
		}
		return false
	case KindNot:
		return !n.Children[0].Eval(d)
	}
	return false
}

// PositiveTerms lists the distinct terms not under negation, in query order.
func (n *Node) PositiveTerms() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 4)
	n.collect(false, seen, &out)
	return out
}

func (n *Node) collect(negated bool, seen map[string]struct{}, out *[]string) {
	switch n.Kind {
	case KindTerm, KindPhrase:
		if negated {
			return
		}
		for _, t := range n.Terms {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			*out = append(*out, t)
		}
	case KindNot:
		n.Children[0].collect(!negated, seen, out)
	default:
		for _, c := range n.Children {
			c.collect(negated, seen, out)
		}
	}
}

// TSQuery renders the tree in postgres to_tsquery syntax. Terms only carry
// letters and digits, so they are quoted without escaping.
func (n *Node) TSQuery() string {
	switch n.Kind {
	case KindTerm:
		return "'" + n.Terms[0] + "'"
	case KindPhrase:
		parts := make([]string, 0, len(n.Terms))
		for _, t := range n.Terms {
			parts = append(parts, "'"+t+"'")
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return "(" + strings.Join(parts, " <-> ") + ")"
	case KindNot:
		return "!" + n.Children[0].TSQuery()
	case KindAnd, KindOr:
		sep := " & "
		if n.Kind == KindOr {
			sep = " | "
		}
		parts := make([]string, 0, len(n.Children))
		for _, c := range n.Children {
			parts = append(parts, c.TSQuery())
		}
		return "(" + strings.Join(parts, sep) + ")"
	}
	return ""
}

func (n *Node) String() string {
	switch n.Kind {
	case KindTerm:
		return n.Terms[0]
	case KindPhrase:
		return `"` + strings.Join(n.Terms, " ") + `"`
	case KindNot:
		return "NOT " + n.Children[0].String()
	case KindAnd, KindOr:
		sep := " AND "
		if n.Kind == KindOr {
			sep = " OR "
		}
		parts := make([]string, 0, len(n.Children))
		for _, c := range n.Children {
			parts = append(parts, c.String())
		}
		return "(" + strings.Join(parts, sep) + ")"
	}
	return ""
}
