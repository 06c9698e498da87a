package loader

import (
	"context"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/xxxsen/docseek/internal/model"
)

func init() {
	Register(LoaderFunc(loadPDF), ".pdf")
}

// loadPDF yields one unit per page that carries text.
func loadPDF(ctx context.Context, path string) ([]*model.Unit, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, loadFailed(err, "open pdf")
	}
	defer f.Close()
	units := make([]*model.Unit, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return nil, loadFailed(err, "read pdf page %d", i)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		units = append(units, &model.Unit{
			Text:   content,
			Source: sourceMeta(path, "page", strconv.Itoa(i)),
		})
	}
	return units, nil
}
