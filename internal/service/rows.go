package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/grebion/tables/internal/cache"
	"github.com/grebion/tables/internal/events"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/query"
	"github.com/grebion/tables/internal/tabular"
)

// ErrInvalidQuery wraps filter, order and field selection errors.
var ErrInvalidQuery = errors.New("invalid query")

// Move directions of MoveRow.
const (
	MoveUp   = "up"
	MoveDown = "down"
)

// RowQuery selects rows of a table. Filter, Order and Fields use the query
// package grammar.
type RowQuery struct {
	Filter string
	Order  string
	Fields string
	Limit  int
	Offset int
}

// RowPage is one page of a row query. Total counts the rows matching the
// filter before paging.
type RowPage struct {
	Rows   []model.Row `json:"rows"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// RowInput is one row of a bulk insert. A zero Sort is assigned
// automatically.
type RowInput struct {
	Data map[string]interface{} `json:"data"`
	Sort int                    `json:"sort,omitempty"`
}

// RowUpdate is one entry of a bulk update; Data is merged into the row.
type RowUpdate struct {
	ID   int64                  `json:"id"`
	Data map[string]interface{} `json:"data"`
}

// allRows returns every row of a table in row order, through the cache.
func (s *TableService) allRows(ctx context.Context, tableID int64) ([]model.Row, error) {
	return cache.Remember(ctx, s.cache, tableKey(tableID, "rows"), []string{cache.TableTag(tableID)}, func() ([]model.Row, error) {
		return s.store.ListRows(ctx, tableID)
	})
}

func (s *TableService) rowsChanged(ctx context.Context, tableID, rowID int64, action string, count int) {
	if rowID != 0 {
		s.cache.InvalidateTag(ctx, cache.RowTag(rowID))
	}
	s.invalidateTable(ctx, tableID, false)
	meta := map[string]interface{}{"action": action}
	if count > 0 {
		meta["count"] = count
	}
	s.publish(ctx, events.Event{Type: events.RowsChanged, TableID: tableID, RowID: rowID, Meta: meta})
}

// AddRow validates data against the table's effective columns and inserts
// it. A zero sort places the row after the last one.
func (s *TableService) AddRow(ctx context.Context, tableID int64, data map[string]interface{}, sort int) (*model.Row, error) {
	_, cols, err := s.TableColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}
	clean, err := tabular.ValidateRowData(cols, data, false)
	if err != nil {
		return nil, err
	}

	row := &model.Row{TableID: tableID, Sort: sort, Data: clean}
	if err := s.store.CreateRow(ctx, row); err != nil {
		return nil, err
	}
	s.rowsChanged(ctx, tableID, row.ID, "insert", 0)
	return row, nil
}

// GetRow returns a row by id, through the cache. The entry is dropped by
// writes to the row or to its table.
func (s *TableService) GetRow(ctx context.Context, rowID int64) (*model.Row, error) {
	row, err := cache.RememberFunc(ctx, s.cache, "row:"+strconv.FormatInt(rowID, 10),
		func(r model.Row) []string { return []string{cache.RowTag(r.ID), cache.TableTag(r.TableID)} },
		func() (model.Row, error) {
			r, err := s.store.GetRow(ctx, rowID)
			if err != nil {
				return model.Row{}, err
			}
			return *r, nil
		})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// mergeRow validates patch as a partial update of row and returns the
// merged data. Cleared values remove their key; required columns must still
// hold a value afterwards.
func mergeRow(cols []model.SchemaColumn, row *model.Row, patch map[string]interface{}) (map[string]interface{}, error) {
	clean, err := tabular.ValidateRowData(cols, patch, true)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]interface{}, len(row.Data)+len(clean))
	for k, v := range row.Data {
		merged[k] = v
	}
	for k, v := range clean {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	verr := &tabular.ValidationError{}
	for _, c := range cols {
		if c.IsRequired() && tabular.IsEmpty(merged[c.Code]) {
			verr.Add(c.Code, tabular.CodeRequired, fmt.Sprintf("column '%s': value is required", c.Code))
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return merged, nil
}

// UpdateRow changes a row's data. With partial set data is merged into the
// stored values, otherwise it replaces them.
func (s *TableService) UpdateRow(ctx context.Context, rowID int64, data map[string]interface{}, partial bool) (*model.Row, error) {
	row, err := s.store.GetRow(ctx, rowID)
	if err != nil {
		return nil, err
	}
	_, cols, err := s.TableColumns(ctx, row.TableID)
	if err != nil {
		return nil, err
	}

	if partial {
		row.Data, err = mergeRow(cols, row, data)
	} else {
		row.Data, err = tabular.ValidateRowData(cols, data, false)
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateRow(ctx, row); err != nil {
		return nil, err
	}
	s.rowsChanged(ctx, row.TableID, row.ID, "update", 0)
	return row, nil
}

// DeleteRow removes a row and its legacy cells.
func (s *TableService) DeleteRow(ctx context.Context, rowID int64) error {
	row, err := s.store.GetRow(ctx, rowID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRow(ctx, rowID); err != nil {
		return err
	}
	s.rowsChanged(ctx, row.TableID, rowID, "delete", 0)
	return nil
}

// ListRows filters, orders, pages and projects the rows of a table.
func (s *TableService) ListRows(ctx context.Context, tableID int64, q RowQuery) (*RowPage, error) {
	if _, err := s.getTable(ctx, tableID); err != nil {
		return nil, err
	}

	pred, err := query.ParseFilter(q.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %v", ErrInvalidQuery, err)
	}
	order, err := query.ParseOrderClause(q.Order)
	if err != nil {
		return nil, fmt.Errorf("%w: order: %v", ErrInvalidQuery, err)
	}
	fields, err := query.ParseFieldSelection(q.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: fields: %v", ErrInvalidQuery, err)
	}

	all, err := s.allRows(ctx, tableID)
	if err != nil {
		return nil, err
	}

	rows := query.FilterRows(all, pred)
	if len(order) > 0 {
		sorted := make([]model.Row, len(rows))
		copy(sorted, rows)
		query.SortRows(sorted, order)
		rows = sorted
	}

	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	page := &RowPage{Total: len(rows), Limit: q.Limit, Offset: q.Offset}
	page.Rows = query.ProjectRows(query.Page(rows, q.Limit, q.Offset), fields)
	return page, nil
}

// BulkInsertRows validates every row and inserts them in one transaction.
// Nothing is written when any row is invalid.
func (s *TableService) BulkInsertRows(ctx context.Context, tableID int64, inputs []RowInput) ([]model.Row, error) {
	_, cols, err := s.TableColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}

	data := make([]map[string]interface{}, len(inputs))
	for i, in := range inputs {
		data[i] = in.Data
	}
	rows, err := validateRows(cols, data)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Sort = inputs[i].Sort
	}

	if err := s.store.BulkInsertRows(ctx, tableID, rows); err != nil {
		return nil, err
	}
	s.rowsChanged(ctx, tableID, 0, "insert", len(rows))
	return rows, nil
}

// BulkUpdateRows merges each update into its row. Invalid updates and rows
// of other tables are reported per id; the valid ones are stored in one
// transaction.
func (s *TableService) BulkUpdateRows(ctx context.Context, tableID int64, updates []RowUpdate) (*model.BulkResult, error) {
	_, cols, err := s.TableColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}

	result := &model.BulkResult{TotalCount: len(updates), Errors: map[int64]string{}}
	var valid []model.Row
	for _, u := range updates {
		row, err := s.store.GetRow(ctx, u.ID)
		if err != nil || row.TableID != tableID {
			result.Errors[u.ID] = "row not found"
			continue
		}
		merged, err := mergeRow(cols, row, u.Data)
		if err != nil {
			result.Errors[u.ID] = err.Error()
			continue
		}
		row.Data = merged
		valid = append(valid, *row)
	}

	if err := s.store.BulkUpdateRows(ctx, valid); err != nil {
		return nil, err
	}
	result.SuccessCount = len(valid)
	result.ErrorCount = len(result.Errors)
	if result.ErrorCount == 0 {
		result.Errors = nil
	}
	if len(valid) > 0 {
		s.rowsChanged(ctx, tableID, 0, "update", len(valid))
	}
	return result, nil
}

// BulkDeleteRows removes rows of a table and returns how many were removed.
func (s *TableService) BulkDeleteRows(ctx context.Context, tableID int64, ids []int64) (int64, error) {
	if _, err := s.getTable(ctx, tableID); err != nil {
		return 0, err
	}
	n, err := s.store.BulkDeleteRows(ctx, tableID, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.rowsChanged(ctx, tableID, 0, "delete", int(n))
	}
	return n, nil
}

// UpdateSort assigns sort values to rows of a table.
func (s *TableService) UpdateSort(ctx context.Context, tableID int64, sorts map[int64]int) error {
	if _, err := s.getTable(ctx, tableID); err != nil {
		return err
	}
	if err := s.store.UpdateRowSorts(ctx, tableID, sorts); err != nil {
		return err
	}
	s.rowsChanged(ctx, tableID, 0, "sort", len(sorts))
	return nil
}

// MoveRow swaps a row with its neighbour in the given direction. It
// reports false when the row is already first or last.
func (s *TableService) MoveRow(ctx context.Context, rowID int64, direction string) (bool, error) {
	if direction != MoveUp && direction != MoveDown {
		return false, tabular.NewValidationError("direction", tabular.CodeInvalidValue,
			fmt.Sprintf("direction must be %q or %q", MoveUp, MoveDown))
	}
	row, err := s.store.GetRow(ctx, rowID)
	if err != nil {
		return false, err
	}
	rows, err := s.store.ListRows(ctx, row.TableID)
	if err != nil {
		return false, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Sort != rows[j].Sort {
			return rows[i].Sort < rows[j].Sort
		}
		return rows[i].ID < rows[j].ID
	})

	idx := -1
	for i := range rows {
		if rows[i].ID == rowID {
			idx = i
			break
		}
	}
	other := idx - 1
	if direction == MoveDown {
		other = idx + 1
	}
	if idx < 0 || other < 0 || other >= len(rows) {
		return false, nil
	}

	a, b := rows[idx], rows[other]
	sorts := map[int64]int{a.ID: b.Sort, b.ID: a.Sort}
	if a.Sort == b.Sort {
		// Equal sorts cannot be swapped; spread them apart instead.
		if direction == MoveUp {
			sorts = map[int64]int{a.ID: b.Sort, b.ID: b.Sort + 1}
		} else {
			sorts = map[int64]int{a.ID: a.Sort + 1, b.ID: a.Sort}
		}
	}
	if err := s.store.UpdateRowSorts(ctx, row.TableID, sorts); err != nil {
		return false, err
	}
	s.rowsChanged(ctx, row.TableID, rowID, "move", 0)
	return true, nil
}

// SetRowCell validates and stores one value of a row. An empty value
// clears it.
func (s *TableService) SetRowCell(ctx context.Context, rowID int64, code string, value interface{}) (interface{}, error) {
	row, err := s.store.GetRow(ctx, rowID)
	if err != nil {
		return nil, err
	}
	_, cols, err := s.TableColumns(ctx, row.TableID)
	if err != nil {
		return nil, err
	}
	col, ok := findColumn(cols, code)
	if !ok {
		return nil, tabular.NewValidationError(code, tabular.CodeUnknownColumn, fmt.Sprintf("column '%s' not found", code))
	}
	clean, err := tabular.ValidateFieldValue(col, value)
	if err != nil {
		c := tabular.CodeInvalidValue
		if tabular.IsEmpty(value) {
			c = tabular.CodeRequired
		}
		return nil, tabular.NewValidationError(code, c, fmt.Sprintf("column '%s': %s", code, err.Error()))
	}
	if err := s.store.UpdateRowCell(ctx, rowID, code, clean); err != nil {
		return nil, err
	}
	s.rowsChanged(ctx, row.TableID, rowID, "update", 0)
	return clean, nil
}

// GetRowCell returns one value of a row.
func (s *TableService) GetRowCell(ctx context.Context, rowID int64, code string) (interface{}, error) {
	row, err := s.GetRow(ctx, rowID)
	if err != nil {
		return nil, err
	}
	_, cols, err := s.TableColumns(ctx, row.TableID)
	if err != nil {
		return nil, err
	}
	if _, ok := findColumn(cols, code); !ok {
		return nil, tabular.NewValidationError(code, tabular.CodeUnknownColumn, fmt.Sprintf("column '%s' not found", code))
	}
	return row.Data[code], nil
}

func findColumn(cols []model.SchemaColumn, code string) (model.SchemaColumn, bool) {
	for _, c := range cols {
		if c.Code == code {
			return c, true
		}
	}
	return model.SchemaColumn{}, false
}

// SearchTable returns rows holding a value that contains term,
// case-insensitively. Terms stored verbatim in the row JSON are narrowed
// down in SQL first.
func (s *TableService) SearchTable(ctx context.Context, tableID int64, term string) ([]model.Row, error) {
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
		return []model.Row{}, nil
	}

	var candidates []model.Row
	if likeSafe(term) {
		candidates, err = s.store.SearchRows(ctx, tableID, term)
	} else {
		candidates, err = s.allRows(ctx, tableID)
	}
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(term)
	found := []model.Row{}
	for _, r := range candidates {
		for _, v := range r.Data {
			if strings.Contains(strings.ToLower(tabular.ToString(v)), needle) {
				found = append(found, r)
				break
			}
		}
	}
	return found, nil
}

// likeSafe reports whether term appears unescaped in encoded row data.
func likeSafe(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || r < 0x20 || r == '"' || r == '\\' {
			return false
		}
	}
	return true
}
