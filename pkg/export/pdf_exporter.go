package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders datasets into a basic tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	}

	pdf.SetFont("Arial", "B", 10)
	colWidth := 190.0 / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			value := row[header]
			pdf.CellFormat(colWidth, 7, value, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// Grid is a two-dimensional layout such as a weekly timetable: one column per day,
// one row per time band.
type Grid struct {
	Corner  string
	Columns []string
	Rows    []GridRow
}

// GridRow holds the label and one cell per column. Cell lines are stacked.
type GridRow struct {
	Label string
	Cells [][]string
}

// RenderGrid draws the grid on landscape pages, growing each row to fit its tallest cell.
func (e *PDFExporter) RenderGrid(grid Grid, title string) ([]byte, error) {
	if len(grid.Columns) == 0 {
		return nil, fmt.Errorf("pdf grid requires at least one column")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}

	const labelWidth, lineHeight = 24.0, 4.5
	colWidth := (277.0 - labelWidth) / float64(len(grid.Columns))

	header := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		pdf.CellFormat(labelWidth, 8, grid.Corner, "1", 0, "C", true, 0, "")
		for _, col := range grid.Columns {
			pdf.CellFormat(colWidth, 8, col, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
	header()

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	pdf.SetFont("Arial", "", 7)
	for _, row := range grid.Rows {
		lines := 1
		for _, cell := range row.Cells {
			if len(cell) > lines {
				lines = len(cell)
			}
		}
		height := float64(lines)*lineHeight + 2
		if pdf.GetY()+height > pageHeight-bottom {
			pdf.AddPage()
			header()
			pdf.SetFont("Arial", "", 7)
		}

		x, y := pdf.GetXY()
		pdf.SetFont("Arial", "B", 8)
		pdf.Rect(x, y, labelWidth, height, "D")
		pdf.SetXY(x, y+1)
		pdf.CellFormat(labelWidth, lineHeight, row.Label, "", 0, "C", false, 0, "")
		pdf.SetFont("Arial", "", 7)

		for i := range grid.Columns {
			cx := x + labelWidth + float64(i)*colWidth
			pdf.Rect(cx, y, colWidth, height, "D")
			if i >= len(row.Cells) {
				continue
			}
			for n, line := range row.Cells[i] {
				pdf.SetXY(cx+1, y+1+float64(n)*lineHeight)
				pdf.CellFormat(colWidth-2, lineHeight, line, "", 0, "L", false, 0, "")
			}
		}
		pdf.SetXY(x, y+height)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf grid: %w", err)
	}
	return buf.Bytes(), nil
}
