package transfer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"unicode/utf8"
)

// CSVOptions controls CSV import.
type CSVOptions struct {
	Delimiter string // default ";"
	Enclosure string // only `"` is supported
	Encoding  string // UTF-8, windows-1251, koi8-r or iso-8859-5
	HasHeader bool
	SkipEmpty bool
}

// DefaultCSVOptions returns the import defaults.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{Delimiter: ";", Enclosure: `"`, Encoding: "UTF-8", HasHeader: true, SkipEmpty: true}
}

// CSVExportOptions controls CSV export.
type CSVExportOptions struct {
	Delimiter     string
	Encoding      string
	IncludeHeader bool
	Formatted     bool
}

// DefaultCSVExportOptions returns the export defaults.
func DefaultCSVExportOptions() CSVExportOptions {
	return CSVExportOptions{Delimiter: ";", Encoding: "UTF-8", IncludeHeader: true}
}

func delimiterRune(d string) (rune, error) {
	if d == "" {
		return ';', nil
	}
	if d == `\t` || d == "tab" {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(d)
	if size != len(d) || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("invalid delimiter %q", d)
	}
	return r, nil
}

// ImportCSV reads rows from a CSV stream into a table.
func (s *Service) ImportCSV(ctx context.Context, tableID int64, r io.Reader, opts CSVOptions) (*ImportResult, error) {
	if opts.Enclosure != "" && opts.Enclosure != `"` {
		return nil, fmt.Errorf("unsupported enclosure %q", opts.Enclosure)
	}
	delim, err := delimiterRune(opts.Delimiter)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeReader(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(decoded)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var records [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, rec)
	}
	return s.importRecords(ctx, tableID, records, opts.HasHeader, opts.SkipEmpty, FormatCSV)
}

// ExportCSV writes a table as CSV. The header holds the column titles.
func (s *Service) ExportCSV(ctx context.Context, tableID int64, w io.Writer, opts CSVExportOptions) (*ExportResult, error) {
	delim, err := delimiterRune(opts.Delimiter)
	if err != nil {
		return nil, err
	}
	header, records, err := s.exportRecords(ctx, tableID, opts.Formatted)
	if err != nil {
		return nil, err
	}
	out, err := encodeWriter(w, opts.Encoding)
	if err != nil {
		return nil, err
	}

	cw := csv.NewWriter(out)
	cw.Comma = delim
	if opts.IncludeHeader {
		if err := cw.Write(header); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	if err := cw.WriteAll(records); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	if enc, ok := out.(io.Closer); ok {
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("flush encoder: %w", err)
		}
	}
	return &ExportResult{ExportedRows: len(records)}, nil
}
