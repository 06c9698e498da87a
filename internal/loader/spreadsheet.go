package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/xxxsen/docseek/internal/model"
)

func init() {
	Register(LoaderFunc(loadSpreadsheet), ".xlsx", ".xlsm")
	Register(LoaderFunc(loadLegacySpreadsheet), ".xls")
}

// loadSpreadsheet yields one unit per non-empty sheet, cells tab separated.
func loadSpreadsheet(ctx context.Context, path string) ([]*model.Unit, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, loadFailed(err, "open spreadsheet")
	}
	defer f.Close()
	sheets := f.GetSheetList()
	units := make([]*model.Unit, 0, len(sheets))
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, loadFailed(err, "read sheet %s", sheet)
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		units = append(units, &model.Unit{
			Text:   strings.Join(lines, "\n"),
			Source: sourceMeta(path, "sheet", sheet),
		})
	}
	return units, nil
}

// loadLegacySpreadsheet reads BIFF workbooks; the parser panics on some corrupt
// files, which is reported as a load failure.
func loadLegacySpreadsheet(ctx context.Context, path string) (units []*model.Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			units, err = nil, loadFailed(fmt.Errorf("%v", r), "parse xls")
		}
	}()
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, loadFailed(err, "open xls")
	}
	units = make([]*model.Unit, 0, wb.NumSheets())
	for i := 0; i < wb.NumSheets(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}
		lines := make([]string, 0, int(sheet.MaxRow)+1)
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				continue
			}
			cells := make([]string, 0, row.LastCol())
			for c := 0; c < row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			line := strings.TrimRight(strings.Join(cells, "\t"), "\t ")
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		units = append(units, &model.Unit{
			Text:   strings.Join(lines, "\n"),
			Source: sourceMeta(path, "sheet", sheet.Name),
		})
	}
	return units, nil
}
