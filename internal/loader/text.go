package loader

import (
	"context"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/docseek/internal/model"
)

func init() {
	Register(LoaderFunc(loadText), ".txt", ".text", ".log")
}

func loadText(ctx context.Context, path string) ([]*model.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, loadFailed(err, "read text file")
	}
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return []*model.Unit{{Text: text, Source: sourceMeta(path)}}, nil
}
