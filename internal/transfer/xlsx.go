package transfer

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// XLSXOptions controls XLSX import.
type XLSXOptions struct {
	SheetIndex int
	HasHeader  bool
	SkipEmpty  bool
}

// DefaultXLSXOptions returns the import defaults.
func DefaultXLSXOptions() XLSXOptions {
	return XLSXOptions{HasHeader: true, SkipEmpty: true}
}

// exportSheet names the single sheet of an exported workbook.
const exportSheet = "Data"

// ImportXLSX reads rows from one sheet of a workbook into a table.
func (s *Service) ImportXLSX(ctx context.Context, tableID int64, r io.Reader, opts XLSXOptions) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(sheets) {
		return nil, fmt.Errorf("sheet index %d out of range (workbook has %d sheets)", opts.SheetIndex, len(sheets))
	}
	records, err := f.GetRows(sheets[opts.SheetIndex])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[opts.SheetIndex], err)
	}
	return s.importRecords(ctx, tableID, records, opts.HasHeader, opts.SkipEmpty, FormatXLSX)
}

// ExportXLSX writes a table as a workbook with one sheet. The first row holds
// the column titles.
func (s *Service) ExportXLSX(ctx context.Context, tableID int64, w io.Writer, formatted bool) (*ExportResult, error) {
	header, records, err := s.exportRecords(ctx, tableID, formatted)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("open sheet writer: %w", err)
	}
	writeRow := func(n int, values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, n)
		if err != nil {
			return err
		}
		row := make([]interface{}, len(values))
		for i, v := range values {
			row[i] = v
		}
		return sw.SetRow(cell, row)
	}

	if err := writeRow(1, header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		if err := writeRow(i+2, rec); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return &ExportResult{ExportedRows: len(records)}, nil
}
