package ingest

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// readPDF extracts page text and splits each page into paragraphs.
func readPDF(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var paragraphs []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		paragraphs = append(paragraphs, splitParagraphs(text)...)
	}
	return paragraphs, nil
}
