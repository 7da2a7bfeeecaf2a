package ingestion

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"citeline/chunk"
)

// supportedExtensions lists the document formats ingestion accepts.
var supportedExtensions = map[string]bool{
	".md":  true,
	".txt": true,
	".pdf": true,
}

func Supported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Pages extracts the text of a document as a sequence of pages. Text formats
// produce page number 0 unless the file carries form feed page breaks; PDFs
// are numbered 1-based.
func Pages(path string, data []byte) ([]chunk.Page, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return pdfPages(data)
	case ".md", ".txt":
		return textPages(string(data)), nil
	default:
		return nil, fmt.Errorf("unsupported document format: %s", filepath.Ext(path))
	}
}

func textPages(content string) []chunk.Page {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	if !strings.Contains(content, "\f") {
		return []chunk.Page{{Number: 0, Text: content}}
	}

	parts := strings.Split(content, "\f")
	pages := make([]chunk.Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, chunk.Page{Number: i + 1, Text: part})
	}
	return pages
}

func pdfPages(data []byte) ([]chunk.Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	total := reader.NumPage()
	pages := make([]chunk.Page, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single corrupt page should not sink the document.
			continue
		}
		pages = append(pages, chunk.Page{Number: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf contains no extractable text")
	}
	return pages, nil
}

// ExtractTitle returns the first markdown heading, or the fallback when the
// document has none.
func ExtractTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if title := strings.TrimSpace(strings.TrimLeft(trimmed, "#")); title != "" {
				return title
			}
		}
	}
	return fallback
}
