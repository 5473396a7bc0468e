package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// Dataset defines tabular export content. Each row is keyed by header.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

const utf8BOM = "\xEF\xBB\xBF"

// CSVOption customises a CSVExporter.
type CSVOption func(*CSVExporter)

// WithComma switches the field separator, e.g. ';' for locales that use a decimal comma.
func WithComma(r rune) CSVOption {
	return func(e *CSVExporter) { e.comma = r }
}

// WithBOM prefixes the output with a UTF-8 byte order mark so spreadsheet
// apps read teacher and room names with their accents intact.
func WithBOM() CSVOption {
	return func(e *CSVExporter) { e.bom = true }
}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct {
	comma rune
	bom   bool
}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter(opts ...CSVOption) *CSVExporter {
	e := &CSVExporter{comma: ','}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render produces CSV bytes for the dataset. Headers must be unique and every
// row key must name a header, so a renamed column fails loudly instead of
// exporting blank cells.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	known := make(map[string]struct{}, len(data.Headers))
	for _, header := range data.Headers {
		if _, dup := known[header]; dup {
			return nil, fmt.Errorf("csv header %q listed twice", header)
		}
		known[header] = struct{}{}
	}

	buf := &bytes.Buffer{}
	if e.bom {
		buf.WriteString(utf8BOM)
	}
	writer := csv.NewWriter(buf)
	writer.Comma = e.comma
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for n, row := range data.Rows {
		for key := range row {
			if _, ok := known[key]; !ok {
				return nil, fmt.Errorf("csv row %d has unknown column %q", n+1, key)
			}
		}
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = escapeCell(row[header])
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// escapeCell quotes text that a spreadsheet would evaluate as a formula.
// Plain numbers pass through.
func escapeCell(value string) string {
	if value == "" || !strings.ContainsRune("=+-@\t\r", rune(value[0])) {
		return value
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}
	return "'" + value
}
