package extract

import (
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	// Text fragments on the same line rarely drift more than a couple of
	// points vertically; fragments further apart than cellGap horizontally
	// are treated as separate cells.
	lineTolerance = 2.0
	cellGap       = 18.0
)

// CellJoin separates cells when a table is rendered as retrievable text.
const CellJoin = " | "

// detectTables reconstructs tabular regions from positioned page text.
// Fragments are grouped into lines by Y coordinate, lines into cells by
// horizontal gaps, and consecutive multi-cell lines form one table.
func detectTables(texts []pdf.Text) [][][]string {
	lines := groupLines(texts)

	var tables [][][]string
	var current [][]string
	for _, line := range lines {
		cells := splitCells(line)
		if len(cells) >= 2 {
			current = append(current, cells)
			continue
		}
		if len(current) >= 2 {
			tables = append(tables, current)
		}
		current = nil
	}
	if len(current) >= 2 {
		tables = append(tables, current)
	}

	return tables
}

func groupLines(texts []pdf.Text) [][]pdf.Text {
	sorted := append([]pdf.Text(nil), texts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var lines [][]pdf.Text
	for _, t := range sorted {
		if t.S == "" {
			continue
		}
		if len(lines) > 0 {
			last := lines[len(lines)-1]
			if last[0].Y-t.Y <= lineTolerance {
				lines[len(lines)-1] = append(last, t)
				continue
			}
		}
		lines = append(lines, []pdf.Text{t})
	}

	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
	}

	return lines
}

func splitCells(line []pdf.Text) []string {
	var cells []string
	var cell strings.Builder
	var lastEnd float64

	for i, t := range line {
		if i > 0 && t.X-lastEnd > cellGap {
			cells = append(cells, cell.String())
			cell.Reset()
		}
		cell.WriteString(t.S)
		lastEnd = t.X + t.W
	}
	if cell.Len() > 0 {
		cells = append(cells, cell.String())
	}

	return cells
}

func normalizeRows(rows [][]string) [][]string {
	normalized := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = strings.TrimSpace(cell)
		}
		normalized[i] = cells
	}
	return normalized
}

func tableIsBlank(rows [][]string) bool {
	for _, row := range rows {
		for _, cell := range row {
			if cell != "" {
				return false
			}
		}
	}
	return true
}

// FormatTable renders normalized rows as newline-separated lines with cells
// joined by CellJoin. A table whose every cell is blank renders as "".
func FormatTable(rows [][]string) string {
	normalized := normalizeRows(rows)
	if tableIsBlank(normalized) {
		return ""
	}

	lines := make([]string, len(normalized))
	for i, row := range normalized {
		lines[i] = strings.Join(row, CellJoin)
	}
	return strings.Join(lines, "\n")
}
