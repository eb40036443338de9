package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/query"
	"github.com/grebion/tables/internal/tabular"
)

// TableMatrix is a legacy table read from its cells: one entry per row,
// mapping column codes to decoded values.
type TableMatrix struct {
	Columns []model.Column `json:"columns"`
	Rows    []MatrixRow    `json:"rows"`
}

// MatrixRow is one row of a TableMatrix.
type MatrixRow struct {
	RowID     int64                  `json:"row_id"`
	Sort      int                    `json:"sort"`
	Values    map[string]interface{} `json:"values"`
	Formatted map[string]string      `json:"formatted"`
}

// encodeCellValue renders a validated value as the stored cell text.
// Strings and numbers are stored as text; booleans, lists and objects as
// JSON.
func encodeCellValue(v interface{}) string {
	switch v.(type) {
	case bool, []string, []interface{}, map[string]interface{}:
		b, err := json.Marshal(v)
		if err == nil {
			return string(b)
		}
	}
	return tabular.ToString(v)
}

// decodeCellValue reverses encodeCellValue for a column of type t. Only
// booleans, lists and objects are stored as JSON; text stays text even
// when it happens to parse.
func decodeCellValue(t model.ColumnType, raw string) interface{} {
	if raw == "" {
		return nil
	}
	switch t {
	case model.TypeBoolean, model.TypeMultiselect, model.TypeJSON:
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
	case model.TypeNumber, model.TypeFile:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case model.TypeFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

// cellTarget loads a row and a legacy column and checks they belong to the
// same table.
func (s *TableService) cellTarget(ctx context.Context, rowID, columnID int64) (*model.Row, *model.Column, error) {
	row, err := s.store.GetRow(ctx, rowID)
	if err != nil {
		return nil, nil, err
	}
	col, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return nil, nil, err
	}
	if col.TableID != row.TableID {
		return nil, nil, tabular.NewValidationError(col.Code, tabular.CodeUnknownColumn,
			fmt.Sprintf("column %d does not belong to table %d", columnID, row.TableID))
	}
	return row, col, nil
}

// SetCellValue validates value against a legacy column and stores it as a
// cell with its formatted display text. The row's data is kept in sync.
func (s *TableService) SetCellValue(ctx context.Context, rowID, columnID int64, value interface{}) (*model.Cell, error) {
	row, col, err := s.cellTarget(ctx, rowID, columnID)
	if err != nil {
		return nil, err
	}
	def := col.Definition()
	clean, err := tabular.ValidateFieldValue(def, value)
	if err != nil {
		return nil, tabular.NewValidationError(col.Code, tabular.CodeInvalidValue, fmt.Sprintf("column '%s': %s", col.Code, err.Error()))
	}

	cell := &model.Cell{
		RowID:          rowID,
		ColumnID:       columnID,
		Value:          encodeCellValue(clean),
		FormattedValue: tabular.FormatValue(def, clean),
	}
	if err := s.store.UpsertCell(ctx, cell); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRowCell(ctx, rowID, col.Code, clean); err != nil {
		return nil, err
	}
	s.rowsChanged(ctx, row.TableID, rowID, "cell", 0)
	return cell, nil
}

// GetCellValue returns the decoded value of a cell. A missing cell yields
// nil.
func (s *TableService) GetCellValue(ctx context.Context, rowID, columnID int64) (interface{}, error) {
	_, col, err := s.cellTarget(ctx, rowID, columnID)
	if err != nil {
		return nil, err
	}
	cell, err := s.store.GetCell(ctx, rowID, columnID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return decodeCellValue(col.Type, cell.Value), nil
}

// GetTableMatrix assembles a legacy table from its rows and cells.
func (s *TableService) GetTableMatrix(ctx context.Context, tableID int64) (*TableMatrix, error) {
	if _, err := s.getTable(ctx, tableID); err != nil {
		return nil, err
	}
	cols, err := s.store.ListColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListRows(ctx, tableID)
	if err != nil {
		return nil, err
	}
	cells, err := s.store.ListCellsByTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]model.Column, len(cols))
	for _, c := range cols {
		byID[c.ID] = c
	}

	m := &TableMatrix{Columns: cols, Rows: make([]MatrixRow, len(rows))}
	index := make(map[int64]int, len(rows))
	for i, r := range rows {
		m.Rows[i] = MatrixRow{RowID: r.ID, Sort: r.Sort, Values: map[string]interface{}{}, Formatted: map[string]string{}}
		index[r.ID] = i
	}
	for _, c := range cells {
		i, ok := index[c.RowID]
		col, known := byID[c.ColumnID]
		if !ok || !known {
			continue
		}
		m.Rows[i].Values[col.Code] = decodeCellValue(col.Type, c.Value)
		m.Rows[i].Formatted[col.Code] = c.FormattedValue
	}
	return m, nil
}

// SearchCells returns the cells of a table whose raw or formatted value
// contains term.
func (s *TableService) SearchCells(ctx context.Context, tableID int64, term string) ([]model.Cell, error) {
	if _, err := s.getTable(ctx, tableID); err != nil {
		return nil, err
	}
	term, err := query.SanitizeSearchTerm(term)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if fp, ok := query.DetectSQLi(term); ok {
		s.logger.Warn("search term resembles SQL injection", "table_id", tableID, "fingerprint", fp)
	}
	if term == "" {
		return []model.Cell{}, nil
	}
	return s.store.SearchCells(ctx, tableID, term)
}
