package query

import (
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
	"github.com/xxxsen/docseek/internal/pkg/textutil"
)

// Parse compiles a boolean keyword query.
//
//	or      := and ( OR and )*
//	and     := unary ( [AND] unary )*
//	unary   := NOT unary | primary
//	primary := TERM | "PHRASE" | ( or )
func Parse(input string) (*Node, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, &appErr.InvalidQueryError{Pos: 0, Reason: "empty query"}
	}
	p := &parser{tokens: tokens, end: len(input)}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok {
		if tok.kind == tokRParen {
			return nil, &appErr.InvalidQueryError{Pos: tok.pos, Reason: "unbalanced parenthesis"}
		}
		return nil, &appErr.InvalidQueryError{Pos: tok.pos, Reason: "unexpected token"}
	}
	if len(node.PositiveTerms()) == 0 {
		return nil, &appErr.InvalidQueryError{Pos: 0, Reason: "query has no positive terms"}
	}
	return node, nil
}

type parser struct {
	tokens []token
	idx    int
	end    int
}

func (p *parser) peek() (token, bool) {
	if p.idx >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.idx], true
}

func (p *parser) next() token {
	tok := p.tokens[p.idx]
	p.idx++
	return tok
}

func (p *parser) parseOr() (*Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []*Node{left}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOr {
			break
		}
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &Node{Kind: KindOr, Children: children}, nil
}

func (p *parser) parseAnd() (*Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []*Node{left}
	for {
		tok, ok := p.peek()
		if !ok {
			break
		}
		if tok.kind == tokAnd {
			p.next()
		} else if !startsOperand(tok) {
			break
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &Node{Kind: KindAnd, Children: children}, nil
}

func startsOperand(tok token) bool {
	switch tok.kind {
	case tokWord, tokPhrase, tokLParen, tokNot:
		return true
	}
	return false
}

func (p *parser) parseUnary() (*Node, error) {
	tok, ok := p.peek()
	if ok && tok.kind == tokNot {
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindNot, Children: []*Node{child}}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (*Node, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, &appErr.InvalidQueryError{Pos: p.end, Reason: "dangling operator"}
	}
	switch tok.kind {
	case tokWord:
		p.next()
		return termNode(tok)
	case tokPhrase:
		p.next()
		words := textutil.Words(tok.text)
		if len(words) == 0 {
			return nil, &appErr.InvalidQueryError{Pos: tok.pos, Reason: "empty phrase"}
		}
		return &Node{Kind: KindPhrase, Terms: words}, nil
	case tokLParen:
		p.next()
		if nt, ok := p.peek(); ok && nt.kind == tokRParen {
			return nil, &appErr.InvalidQueryError{Pos: nt.pos, Reason: "empty group"}
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, &appErr.InvalidQueryError{Pos: tok.pos, Reason: "unbalanced parenthesis"}
		}
		p.next()
		return inner, nil
	case tokRParen:
		return nil, &appErr.InvalidQueryError{Pos: tok.pos, Reason: "unbalanced parenthesis"}
	default:
		return nil, &appErr.InvalidQueryError{Pos: tok.pos, Reason: "dangling operator"}
	}
}

// termNode normalizes a bare word the same way documents are tokenized. A word
// that splits into several tokens, like "e-mail", is matched as a phrase.
func termNode(tok token) (*Node, error) {
	words := textutil.Words(tok.text)
	switch len(words) {
	case 0:
		return nil, &appErr.InvalidQueryError{Pos: tok.pos, Reason: "term has no searchable characters"}
	case 1:
		return &Node{Kind: KindTerm, Terms: words}, nil
	}
	return &Node{Kind: KindPhrase, Terms: words}, nil
}
