package query

import (
	"unicode"
	"unicode/utf8"

	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokPhrase
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(input string) ([]token, error) {
	tokens := make([]token, 0, 8)
	i := 0
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, pos: i})
			i += size
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, pos: i})
			i += size
		case r == '"':
			start := i
			i += size
			end := -1
			for j := i; j < len(input); j++ {
				if input[j] == '"' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, &appErr.InvalidQueryError{Pos: start, Reason: "unterminated quote"}
			}
			tokens = append(tokens, token{kind: tokPhrase, text: input[i:end], pos: start})
			i = end + 1
		default:
			start := i
			for i < len(input) {
				r, size = utf8.DecodeRuneInString(input[i:])
				if unicode.IsSpace(r) || r == '(' || r == ')' || r == '"' {
					break
				}
				i += size
			}
			tokens = append(tokens, wordToken(input[start:i], start))
		}
	}
	return tokens, nil
}

// wordToken recognizes operators only in upper case; anything else is a search term.
func wordToken(text string, pos int) token {
	switch text {
	case "AND":
		return token{kind: tokAnd, text: text, pos: pos}
	case "OR":
		return token{kind: tokOr, text: text, pos: pos}
	case "NOT":
		return token{kind: tokNot, text: text, pos: pos}
	}
	return token{kind: tokWord, text: text, pos: pos}
}
