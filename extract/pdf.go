// Package extract reads PDF documents into plain-text page segments and
// structured tables. Extraction is a pure read of the file; callers decide
// what to do with a failed document.
package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Table is a set of normalized rows extracted from one page. Cells are
// trimmed strings; a missing cell is an empty string.
type Table struct {
	Page int
	Rows [][]string
}

// Document is the extraction result for a single PDF.
type Document struct {
	Pages  []string
	Tables []Table
}

// ReadPDF extracts per-page text and candidate tables from the file at path.
func ReadPDF(path string) (*Document, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer file.Close()

	doc := &Document{}
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract text from page %d of %s: %w", pageNum, path, err)
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			doc.Pages = append(doc.Pages, trimmed)
		}

		for _, rows := range detectTables(page.Content().Text) {
			table := Table{Page: pageNum, Rows: normalizeRows(rows)}
			if tableIsBlank(table.Rows) {
				continue
			}
			doc.Tables = append(doc.Tables, table)
		}
	}

	return doc, nil
}
