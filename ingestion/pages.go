package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/fabfab/hearings-ai/document"
)

// PageSource turns a document payload into ordered pages of text.
type PageSource interface {
	ExtractPages(ctx context.Context, data []byte) ([]document.Page, error)
}

// DocumentFormat enumerates supported payload formats.
type DocumentFormat string

const (
	FormatUnknown DocumentFormat = ""
	FormatPDF     DocumentFormat = "pdf"
	FormatText    DocumentFormat = "text"
)

// DetectFormat infers a format from a file extension.
func DetectFormat(path string) DocumentFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FormatPDF
	case ".txt", ".text":
		return FormatText
	default:
		return FormatUnknown
	}
}

// PageSourceFor picks a page source for filename.
func PageSourceFor(filename string) (PageSource, error) {
	switch DetectFormat(filename) {
	case FormatPDF:
		return PDFPageSource{}, nil
	case FormatText:
		return TextPageSource{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported format for %q", ErrPageExtraction, filepath.Base(filename))
	}
}

// PDFPageSource reads the text layer of each PDF page. Pages without text are
// skipped but keep their page numbers.
type PDFPageSource struct{}

func (PDFPageSource) ExtractPages(ctx context.Context, data []byte) (pages []document.Page, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("%w: malformed pdf: %v", ErrPageExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrPageExtraction, err)
	}

	total := reader.NumPage()
	pages = make([]document.Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrPageExtraction, i, err)
		}
		text = normalizePlainText(text)
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, document.Page{Index: i, Text: text})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no text layer in %d pages", ErrPageExtraction, total)
	}
	return pages, nil
}

// TextPageSource treats form feeds as page breaks.
type TextPageSource struct{}

func (TextPageSource) ExtractPages(_ context.Context, data []byte) ([]document.Page, error) {
	content := normalizePlainText(string(data))
	pages := make([]document.Page, 0)
	for i, text := range strings.Split(content, "\f") {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, document.Page{Index: i + 1, Text: text})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: empty text", ErrPageExtraction)
	}
	return pages, nil
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// ExtractTitle returns the first non-empty line of the first page, or
// fallback.
func ExtractTitle(pages []document.Page, fallback string) string {
	if len(pages) > 0 {
		for _, line := range strings.Split(pages[0].Text, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				if runes := []rune(trimmed); len(runes) > 200 {
					trimmed = string(runes[:200])
				}
				return trimmed
			}
		}
	}
	return fallback
}
