package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xxxsen/docseek/internal/model"
)

func init() {
	Register(LoaderFunc(loadJSON), ".json")
	Register(LoaderFunc(loadCSV), ".csv")
}

func loadJSON(ctx context.Context, path string) ([]*model.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, loadFailed(err, "read json file")
	}
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(data), "", "  "); err != nil {
		return nil, loadFailed(err, "parse json")
	}
	return []*model.Unit{{Text: out.String(), Source: sourceMeta(path)}}, nil
}

// loadCSV yields one unit per data row rendered as "header: value" lines.
func loadCSV(ctx context.Context, path string) ([]*model.Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, loadFailed(err, "open csv file")
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []*model.Unit{}, nil
	}
	if err != nil {
		return nil, loadFailed(err, "read csv header")
	}
	units := make([]*model.Unit, 0, 64)
	for row := 1; ; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, loadFailed(err, "read csv row %d", row)
		}
		lines := make([]string, 0, len(record))
		for i, value := range record {
			key := "column_" + strconv.Itoa(i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				key = strings.TrimSpace(header[i])
			}
			lines = append(lines, key+": "+value)
		}
		units = append(units, &model.Unit{
			Text:   strings.Join(lines, "\n"),
			Source: sourceMeta(path, "row", strconv.Itoa(row)),
		})
	}
	return units, nil
}
