// Package transfer imports rows into tables from CSV and XLSX files and
// exports tables as CSV, XLSX and JSON documents.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/grebion/tables/internal/events"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/tabular"
)

// Supported formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatJSON = "json"
)

// Sort step between imported lines.
const lineSortStep = 100

var (
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	ErrUnsupportedFormat   = errors.New("unsupported format")
)

// Service moves table data in and out of files.
type Service struct {
	tables *service.TableService
	events events.Publisher
	logger *slog.Logger
}

// New creates a transfer service. A nil publisher or logger is replaced by a
// no-op publisher and slog.Default.
func New(tables *service.TableService, pub events.Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tables: tables, events: pub, logger: logger}
}

// ImportResult summarizes an import. Errors name the 1-based source line of
// every row that was rejected.
type ImportResult struct {
	ImportedRows int      `json:"imported_rows"`
	TotalLines   int      `json:"total_lines"`
	SkippedLines int      `json:"skipped_lines"`
	Errors       []string `json:"errors"`
}

// ExportResult summarizes an export.
type ExportResult struct {
	ExportedRows int `json:"exported_rows"`
}

// lookupEncoding resolves an encoding name. UTF-8 yields a nil encoding.
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-")) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "windows-1251", "cp1251":
		return charmap.Windows1251, nil
	case "koi8-r", "koi8r":
		return charmap.KOI8R, nil
	case "iso-8859-5":
		return charmap.ISO8859_5, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
}

// decodeReader converts r to UTF-8. A UTF-8 byte order mark is dropped.
func decodeReader(r io.Reader, name string) (io.Reader, error) {
	enc, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// encodeWriter converts UTF-8 written to the result into the named
// encoding. Characters the encoding lacks are replaced. For UTF-8 the
// writer is wrapped so it never satisfies io.Closer; a converting writer
// must be closed to flush.
func encodeWriter(w io.Writer, name string) (io.Writer, error) {
	enc, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return struct{ io.Writer }{w}, nil
	}
	return encoding.ReplaceUnsupported(enc.NewEncoder()).Writer(w), nil
}

// MapHeaders returns, for every header, the index of the column it fills or
// -1. A header matches a column code exactly, then a code ignoring case,
// then a title ignoring case. Each column is filled at most once.
func MapHeaders(headers []string, cols []model.SchemaColumn) []int {
	mapping := make([]int, len(headers))
	used := make(map[int]bool, len(cols))

	match := func(h string, eq func(model.SchemaColumn, string) bool) int {
		for i, c := range cols {
			if !used[i] && eq(c, h) {
				return i
			}
		}
		return -1
	}
	matchers := []func(model.SchemaColumn, string) bool{
		func(c model.SchemaColumn, h string) bool { return c.Code == h },
		func(c model.SchemaColumn, h string) bool { return strings.EqualFold(c.Code, h) },
		func(c model.SchemaColumn, h string) bool { return strings.EqualFold(c.Title, h) },
	}

	for i := range mapping {
		mapping[i] = -1
	}
	for _, eq := range matchers {
		for i, h := range headers {
			if mapping[i] >= 0 {
				continue
			}
			if idx := match(strings.TrimSpace(h), eq); idx >= 0 {
				mapping[i] = idx
				used[idx] = true
			}
		}
	}
	return mapping
}

func positionalMapping(cols []model.SchemaColumn) []int {
	mapping := make([]int, len(cols))
	for i := range mapping {
		mapping[i] = i
	}
	return mapping
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// importRecords maps, coerces and validates records and inserts the valid
// ones in one bulk transaction. Invalid rows are skipped and reported.
func (s *Service) importRecords(ctx context.Context, tableID int64, records [][]string, hasHeader, skipEmpty bool, format string) (*ImportResult, error) {
	_, cols, err := s.tables.TableColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, tabular.NewValidationError("columns", tabular.CodeEmptyColumns, fmt.Sprintf("table %d has no columns", tableID))
	}

	res := &ImportResult{TotalLines: len(records), Errors: []string{}}
	var mapping []int
	if !hasHeader {
		mapping = positionalMapping(cols)
	}

	var inputs []service.RowInput
	for i, rec := range records {
		line := i + 1
		if i == 0 && hasHeader {
			mapping = MapHeaders(rec, cols)
			continue
		}
		if skipEmpty && blankRecord(rec) {
			res.SkippedLines++
			continue
		}

		data := make(map[string]interface{})
		for j, raw := range rec {
			if j >= len(mapping) || mapping[j] < 0 {
				continue
			}
			col := cols[mapping[j]]
			if v := tabular.CoerceImported(col, raw); v != nil {
				data[col.Code] = v
			}
		}
		if skipEmpty && len(data) == 0 {
			res.SkippedLines++
			continue
		}

		clean, err := tabular.ValidateRowData(cols, data, false)
		if err != nil {
			res.SkippedLines++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %s", line, err.Error()))
			continue
		}
		inputs = append(inputs, service.RowInput{Data: clean, Sort: line * lineSortStep})
	}

	if len(inputs) > 0 {
		if _, err := s.tables.BulkInsertRows(ctx, tableID, inputs); err != nil {
			return nil, err
		}
	}
	res.ImportedRows = len(inputs)

	s.logger.Info("table imported",
		"table_id", tableID,
		"format", format,
		"imported", res.ImportedRows,
		"skipped", res.SkippedLines,
	)
	s.events.Publish(ctx, events.Event{Type: events.TableImported, TableID: tableID, Meta: map[string]interface{}{
		"format":   format,
		"imported": res.ImportedRows,
		"skipped":  res.SkippedLines,
	}})
	return res, nil
}

// exportRecords returns the header and one record per row in row order.
func (s *Service) exportRecords(ctx context.Context, tableID int64, formatted bool) ([]string, [][]string, error) {
	_, cols, err := s.tables.TableColumns(ctx, tableID)
	if err != nil {
		return nil, nil, err
	}
	page, err := s.tables.ListRows(ctx, tableID, service.RowQuery{})
	if err != nil {
		return nil, nil, err
	}

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Title
	}

	records := make([][]string, len(page.Rows))
	for i, r := range page.Rows {
		rec := make([]string, len(cols))
		for j, c := range cols {
			rec[j] = cellText(c, r.Data[c.Code], formatted)
		}
		records[i] = rec
	}
	return header, records, nil
}

// cellText renders a stored value for a file cell. Raw values stay
// re-importable: lists are joined with commas.
func cellText(col model.SchemaColumn, v interface{}, formatted bool) string {
	if v == nil {
		return ""
	}
	if formatted {
		return tabular.FormatValue(col, v)
	}
	text, err := tabular.ConvertValue(v, col.Type, model.TypeText)
	if err != nil {
		return tabular.ToString(v)
	}
	return tabular.ToString(text)
}
