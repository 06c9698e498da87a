package loader

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/xxxsen/docseek/internal/model"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func writeZip(t *testing.T, name string, parts map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for k, v := range parts {
		w, err := zw.Create(k)
		require.NoError(t, err)
		_, err = w.Write([]byte(v))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func testDispatcher() *Dispatcher {
	d := NewDispatcher()
	d.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return d
}

func TestDispatcher_StampsProvenance(t *testing.T) {
	p := writeFile(t, "notes.TXT", "hello world")
	units, err := testDispatcher().Load(context.Background(), p, ".TXT", model.Provenance{UploadID: "u1", FileName: "notes.TXT"})
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Equal(t, "hello world", units[0].Text)
	require.Equal(t, model.Provenance{
		UploadID:      "u1",
		FileName:      "notes.TXT",
		FileExtension: ".txt",
		ProcessedAt:   "2026-01-02T03:04:05Z",
	}, units[0].Provenance)
	require.Equal(t, "notes.TXT", units[0].Source["source"])
}

func TestDispatcher_UnsupportedFormat(t *testing.T) {
	for _, ext := range []string{".doc", ".ppt", ".exe", ""} {
		p := writeFile(t, "file"+ext, "data")
		units, err := testDispatcher().Load(context.Background(), p, ext, model.Provenance{UploadID: "u1"})
		require.Nil(t, units)
		require.True(t, errors.Is(err, appErr.ErrUnsupportedFormat), ext)
	}
}

func TestLoadMarkdown(t *testing.T) {
	p := writeFile(t, "a.md", "# Title\n\nSome *bold* text.\n\n- item one\n- item two\n\n```go\nfmt.Println(1)\n```\n")
	units, err := testDispatcher().Load(context.Background(), p, ".md", model.Provenance{UploadID: "u1"})
	require.NoError(t, err)
	require.Len(t, units, 1)
	text := units[0].Text
	require.Contains(t, text, "Title")
	require.Contains(t, text, "Some bold text.")
	require.Contains(t, text, "item one")
	require.Contains(t, text, "fmt.Println(1)")
	require.NotContains(t, text, "*bold*")
	require.NotContains(t, text, "#")
}

func TestLoadCSV(t *testing.T) {
	p := writeFile(t, "people.csv", "name,age\nalice,30\nbob,41\n")
	units, err := testDispatcher().Load(context.Background(), p, ".csv", model.Provenance{UploadID: "u1"})
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Equal(t, "name: alice\nage: 30", units[0].Text)
	require.Equal(t, "1", units[0].Source["row"])
	require.Equal(t, "name: bob\nage: 41", units[1].Text)
	require.Equal(t, "2", units[1].Source["row"])
}

func TestLoadJSON(t *testing.T) {
	p := writeFile(t, "doc.json", `{"a":1,"b":["x","y"]}`)
	units, err := testDispatcher().Load(context.Background(), p, ".json", model.Provenance{UploadID: "u1"})
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Equal(t, "{\n  \"a\": 1,\n  \"b\": [\n    \"x\",\n    \"y\"\n  ]\n}", units[0].Text)

	bad := writeFile(t, "bad.json", `{"a":`)
	_, err = testDispatcher().Load(context.Background(), bad, ".json", model.Provenance{UploadID: "u1"})
	require.True(t, errors.Is(err, appErr.ErrProcessingFailed))
}

func TestLoadDocx(t *testing.T) {
	body := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>First paragraph</w:t></w:r></w:p>
<w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph</w:t></w:r></w:p>
</w:body></w:document>`
	p := writeZip(t, "a.docx", map[string]string{"word/document.xml": body})
	units, err := testDispatcher().Load(context.Background(), p, ".docx", model.Provenance{UploadID: "u1"})
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Equal(t, "First paragraph\nSecond paragraph", units[0].Text)
}

func TestLoadPptx(t *testing.T) {
	slide := func(text string) string {
		return `<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	p := writeZip(t, "deck.pptx", map[string]string{
		"ppt/slides/slide10.xml": slide("tenth"),
		"ppt/slides/slide2.xml":  slide("second"),
		"ppt/slides/slide1.xml":  slide("first"),
	})
	units, err := testDispatcher().Load(context.Background(), p, ".pptx", model.Provenance{UploadID: "u1"})
	require.NoError(t, err)
	require.Len(t, units, 3)
	got := make([]string, 0, 3)
	for _, u := range units {
		got = append(got, u.Source["slide"]+"="+u.Text)
	}
	require.Equal(t, []string{"1=first", "2=second", "10=tenth"}, got)
}

func TestLoadSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "qty"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "apple"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 3))
	_, err := f.NewSheet("Empty")
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(p))
	require.NoError(t, f.Close())

	units, err := testDispatcher().Load(context.Background(), p, ".xlsx", model.Provenance{UploadID: "u1"})
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Equal(t, "Sheet1", units[0].Source["sheet"])
	require.Equal(t, "name\tqty\napple\t3", units[0].Text)
}

func TestLoadPDF_Corrupt(t *testing.T) {
	p := writeFile(t, "broken.pdf", "not a pdf")
	_, err := testDispatcher().Load(context.Background(), p, ".pdf", model.Provenance{UploadID: "u1"})
	require.True(t, errors.Is(err, appErr.ErrProcessingFailed))
}

func TestSupportedExtensions(t *testing.T) {
	exts := strings.Join(SupportedExtensions(), ",")
	for _, ext := range []string{".txt", ".md", ".pdf", ".xlsx", ".docx", ".pptx", ".json", ".csv"} {
		require.Contains(t, exts, ext)
	}
	require.NotContains(t, exts, ".doc,")
}

func TestLoadLegacySpreadsheet_CorruptFile(t *testing.T) {
	p := writeFile(t, "old.xls", "not a compound document")
	units, err := testDispatcher().Load(context.Background(), p, ".XLS", model.Provenance{UploadID: "u1"})
	require.Nil(t, units)
	require.Error(t, err)
	require.False(t, errors.Is(err, appErr.ErrUnsupportedFormat))
	require.True(t, errors.Is(err, appErr.ErrProcessingFailed))
}

func TestLoaders_HonorCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cases := map[string]string{
		".txt":  writeFile(t, "a.txt", "hello"),
		".md":   writeFile(t, "a.md", "# hello"),
		".json": writeFile(t, "a.json", `{"a": 1}`),
		".csv":  writeFile(t, "a.csv", "h\nv\n"),
		".docx": writeZip(t, "a.docx", map[string]string{"word/document.xml": "<w:document/>"}),
	}
	for ext, p := range cases {
		units, err := testDispatcher().Load(ctx, p, ext, model.Provenance{UploadID: "u1"})
		require.Nil(t, units, ext)
		require.True(t, errors.Is(err, context.Canceled), ext)
	}
}
