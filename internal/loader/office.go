package loader

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xxxsen/docseek/internal/model"
)

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func init() {
	Register(LoaderFunc(loadDocx), ".docx")
	Register(LoaderFunc(loadPptx), ".pptx")
}

func loadDocx(ctx context.Context, p string) ([]*model.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, loadFailed(err, "open docx")
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		content, err := readOfficeXML(f, "p")
		if err != nil {
			return nil, loadFailed(err, "read docx body")
		}
		return []*model.Unit{{Text: content, Source: sourceMeta(p)}}, nil
	}
	return nil, loadFailed(errors.New("word/document.xml not found"), "read docx")
}

// loadPptx yields one unit per slide in slide number order.
func loadPptx(ctx context.Context, p string) ([]*model.Unit, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, loadFailed(err, "open pptx")
	}
	defer zr.Close()
	type slide struct {
		num  int
		file *zip.File
	}
	slides := make([]slide, 0, len(zr.File))
	for _, f := range zr.File {
		m := slidePattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })
	units := make([]*model.Unit, 0, len(slides))
	for _, s := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := readOfficeXML(s.file, "p")
		if err != nil {
			return nil, loadFailed(err, "read %s", path.Base(s.file.Name))
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		units = append(units, &model.Unit{
			Text:   content,
			Source: sourceMeta(p, "slide", strconv.Itoa(s.num)),
		})
	}
	return units, nil
}

// readOfficeXML collects the text runs of an OOXML part, one line per paragraph.
func readOfficeXML(f *zip.File, paragraph string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	dec := xml.NewDecoder(rc)
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteString("\t")
			case "br":
				sb.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case paragraph:
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
