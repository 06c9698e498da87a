package loader

import (
	"context"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/xxxsen/docseek/internal/model"
)

func init() {
	Register(LoaderFunc(loadMarkdown), ".md", ".markdown")
}

// loadMarkdown keeps the readable text of every top level block, code included,
// and drops markup.
func loadMarkdown(ctx context.Context, path string) ([]*model.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, loadFailed(err, "read markdown file")
	}
	reader := text.NewReader(data)
	doc := goldmark.New().Parser().Parse(reader)
	blocks := make([]string, 0, 16)
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		var txt string
		switch n := node.(type) {
		case *ast.FencedCodeBlock:
			txt = blockLines(n, data)
		case *ast.CodeBlock:
			txt = blockLines(n, data)
		default:
			txt = inlineText(n, data)
		}
		if txt = strings.TrimSpace(txt); txt != "" {
			blocks = append(blocks, txt)
		}
	}
	return []*model.Unit{{Text: strings.Join(blocks, "\n\n"), Source: sourceMeta(path)}}, nil
}

func blockLines(n ast.Node, source []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(source))
	}
	return sb.String()
}

func inlineText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Type() == ast.TypeBlock && node != n && sb.Len() > 0 {
				sb.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			sb.WriteString(blockLines(node, source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
