package config

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/grebion/tables/internal/model"
)

// Sort spacing of rows. A table's first row gets FirstRowSort, later rows
// max(sort)+RowSortStep.
const (
	FirstRowSort = 500
	RowSortStep  = 100
)

// rowRecord maps the table_rows columns. Data is stored as one JSON object.
type rowRecord struct {
	ID        int64     `db:"id"`
	TableID   int64     `db:"table_id"`
	Sort      int       `db:"sort"`
	DataJSON  string    `db:"data_json"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r rowRecord) toModel() (model.Row, error) {
	data, err := decodeData(r.DataJSON)
	if err != nil {
		return model.Row{}, fmt.Errorf("decode row %d: %w", r.ID, err)
	}
	return model.Row{
		ID:        r.ID,
		TableID:   r.TableID,
		Sort:      r.Sort,
		Data:      data,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// encodeData writes row data without HTML escaping so substring search
// matches what users typed.
func encodeData(data map[string]interface{}) (string, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func decodeData(raw string) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	if raw == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return data, nil
}

func recordsToRows(records []rowRecord) ([]model.Row, error) {
	rows := make([]model.Row, 0, len(records))
	for _, r := range records {
		row, err := r.toModel()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// nextRowSort returns max(sort)+RowSortStep for the table, or FirstRowSort
// when it has no rows.
func nextRowSort(ctx context.Context, q sqlx.QueryerContext, tableID int64) (int, error) {
	var maxSort sql.NullInt64
	if err := sqlx.GetContext(ctx, q, &maxSort, "SELECT MAX(sort) FROM table_rows WHERE table_id = ?", tableID); err != nil {
		return 0, fmt.Errorf("max row sort: %w", err)
	}
	if !maxSort.Valid {
		return FirstRowSort, nil
	}
	return int(maxSort.Int64) + RowSortStep, nil
}

func insertRow(ctx context.Context, tx *sqlx.Tx, row *model.Row, now time.Time) error {
	data, err := encodeData(row.Data)
	if err != nil {
		return fmt.Errorf("encode row data: %w", err)
	}
	result, err := tx.ExecContext(ctx,
		"INSERT INTO table_rows (table_id, sort, data_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		row.TableID, row.Sort, data, now, now)
	if err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get row id: %w", err)
	}
	row.ID = id
	row.CreatedAt = now
	row.UpdatedAt = now
	return nil
}

// CreateRow inserts a row. A zero Sort is replaced by the next free sort
// value of the table.
func (s *Store) CreateRow(ctx context.Context, row *model.Row) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if row.Sort == 0 {
		if row.Sort, err = nextRowSort(ctx, tx, row.TableID); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	if err := insertRow(ctx, tx, row, now); err != nil {
		return err
	}
	if err := touchTable(ctx, tx, row.TableID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRow returns a row by ID.
func (s *Store) GetRow(ctx context.Context, id int64) (*model.Row, error) {
	var rec rowRecord
	if err := s.db.GetContext(ctx, &rec, "SELECT * FROM table_rows WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get row: %w", err)
	}
	row, err := rec.toModel()
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListRows returns all rows of a table ordered by sort, then id.
func (s *Store) ListRows(ctx context.Context, tableID int64) ([]model.Row, error) {
	var records []rowRecord
	if err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM table_rows WHERE table_id = ? ORDER BY sort, id", tableID); err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	return recordsToRows(records)
}

// ListRowsPage returns one page of rows ordered by sort, then id.
func (s *Store) ListRowsPage(ctx context.Context, tableID int64, limit, offset int) ([]model.Row, error) {
	var records []rowRecord
	if err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM table_rows WHERE table_id = ? ORDER BY sort, id LIMIT ? OFFSET ?",
		tableID, limit, offset); err != nil {
		return nil, fmt.Errorf("list rows page: %w", err)
	}
	return recordsToRows(records)
}

// CountRows returns the number of rows of a table.
func (s *Store) CountRows(ctx context.Context, tableID int64) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM table_rows WHERE table_id = ?", tableID); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// UpdateRow replaces the data and sort of a row.
func (s *Store) UpdateRow(ctx context.Context, row *model.Row) error {
	data, err := encodeData(row.Data)
	if err != nil {
		return fmt.Errorf("encode row data: %w", err)
	}
	row.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		"UPDATE table_rows SET sort = ?, data_json = ?, updated_at = ? WHERE id = ?",
		row.Sort, data, row.UpdatedAt, row.ID)
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	return expectOne(result, "update row")
}

// DeleteRow removes a row and its legacy cells.
func (s *Store) DeleteRow(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM table_cells WHERE row_id = ?", id); err != nil {
		return fmt.Errorf("delete row cells: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM table_rows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	if err := expectOne(result, "delete row"); err != nil {
		return err
	}
	return tx.Commit()
}

// BulkInsertRows inserts rows in one transaction. Rows without a sort get
// consecutive values continuing after the current maximum. IDs and
// timestamps are populated on success.
func (s *Store) BulkInsertRows(ctx context.Context, tableID int64, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	next, err := nextRowSort(ctx, tx, tableID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for i := range rows {
		rows[i].TableID = tableID
		if rows[i].Sort == 0 {
			rows[i].Sort = next
			next += RowSortStep
		}
		if err := insertRow(ctx, tx, &rows[i], now); err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	if err := touchTable(ctx, tx, tableID); err != nil {
		return err
	}
	return tx.Commit()
}

// BulkUpdateRows replaces the data of several rows in one transaction.
func (s *Store) BulkUpdateRows(ctx context.Context, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := updateRows(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

// updateRows rewrites the data of rows and bumps updated_at of the tables
// they belong to.
func updateRows(ctx context.Context, tx *sqlx.Tx, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	ids := make([]int64, len(rows))
	for i := range rows {
		data, err := encodeData(rows[i].Data)
		if err != nil {
			return fmt.Errorf("encode row %d data: %w", rows[i].ID, err)
		}
		result, err := tx.ExecContext(ctx,
			"UPDATE table_rows SET data_json = ?, updated_at = ? WHERE id = ?", data, now, rows[i].ID)
		if err != nil {
			return fmt.Errorf("update row %d: %w", rows[i].ID, err)
		}
		if err := expectOne(result, "update row"); err != nil {
			return fmt.Errorf("row %d: %w", rows[i].ID, err)
		}
		rows[i].UpdatedAt = now
		ids[i] = rows[i].ID
	}

	q, args, err := sqlx.In("UPDATE data_tables SET updated_at = ? WHERE id IN (SELECT table_id FROM table_rows WHERE id IN (?))", now, ids)
	if err != nil {
		return fmt.Errorf("build table touch: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("touch tables: %w", err)
	}
	return nil
}

// BulkDeleteRows removes the given rows of a table and their cells with a
// single DELETE each. It returns the number of rows removed.
func (s *Store) BulkDeleteRows(ctx context.Context, tableID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	q, args, err := sqlx.In("DELETE FROM table_cells WHERE row_id IN (SELECT id FROM table_rows WHERE table_id = ? AND id IN (?))", tableID, ids)
	if err != nil {
		return 0, fmt.Errorf("build cell delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return 0, fmt.Errorf("delete cells: %w", err)
	}

	q, args, err = sqlx.In("DELETE FROM table_rows WHERE table_id = ? AND id IN (?)", tableID, ids)
	if err != nil {
		return 0, fmt.Errorf("build row delete: %w", err)
	}
	result, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("delete rows: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete rows affected: %w", err)
	}
	if err := touchTable(ctx, tx, tableID); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// UpdateRowSorts assigns new sort values with a single UPDATE ... CASE
// statement. Non-positive row ids are skipped.
func (s *Store) UpdateRowSorts(ctx context.Context, tableID int64, sorts map[int64]int) error {
	var (
		cases strings.Builder
		args  []interface{}
		ids   []interface{}
	)
	for id, sort := range sorts {
		if id <= 0 {
			continue
		}
		cases.WriteString(" WHEN ? THEN ?")
		args = append(args, id, sort)
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	q := "UPDATE table_rows SET sort = CASE id" + cases.String() + " END, updated_at = ?" +
		" WHERE table_id = ? AND id IN (" + placeholders + ")"
	args = append(args, time.Now().UTC(), tableID)
	args = append(args, ids...)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("update row sorts: %w", err)
	}
	if err := touchTable(ctx, tx, tableID); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceRows deletes every row of a table and inserts rows with sort
// values 100, 200, ... in their given order.
func (s *Store) ReplaceRows(ctx context.Context, tableID int64, rows []model.Row) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := replaceRows(ctx, tx, tableID, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceRows(ctx context.Context, tx *sqlx.Tx, tableID int64, rows []model.Row) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM table_cells WHERE row_id IN (SELECT id FROM table_rows WHERE table_id = ?)", tableID); err != nil {
		return fmt.Errorf("delete cells: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM table_rows WHERE table_id = ?", tableID); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}

	now := time.Now().UTC()
	for i := range rows {
		rows[i].TableID = tableID
		rows[i].Sort = (i + 1) * RowSortStep
		if err := insertRow(ctx, tx, &rows[i], now); err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	return touchTable(ctx, tx, tableID)
}

// SearchRows returns rows whose stored JSON contains term.
func (s *Store) SearchRows(ctx context.Context, tableID int64, term string) ([]model.Row, error) {
	var records []rowRecord
	if err := s.db.SelectContext(ctx, &records,
		`SELECT * FROM table_rows WHERE table_id = ? AND data_json LIKE ? ESCAPE '\' ORDER BY sort, id`,
		tableID, likePattern(term)); err != nil {
		return nil, fmt.Errorf("search rows: %w", err)
	}
	return recordsToRows(records)
}

// GetRowCell returns one value of a row's data. A missing key yields nil.
func (s *Store) GetRowCell(ctx context.Context, rowID int64, code string) (interface{}, error) {
	row, err := s.GetRow(ctx, rowID)
	if err != nil {
		return nil, err
	}
	return row.Data[code], nil
}

// UpdateRowCell sets one key of a row's data. A nil value removes the key.
func (s *Store) UpdateRowCell(ctx context.Context, rowID int64, code string, value interface{}) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var rec struct {
		TableID  int64  `db:"table_id"`
		DataJSON string `db:"data_json"`
	}
	if err := tx.GetContext(ctx, &rec, "SELECT table_id, data_json FROM table_rows WHERE id = ?", rowID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get row data: %w", err)
	}
	data, err := decodeData(rec.DataJSON)
	if err != nil {
		return fmt.Errorf("decode row %d: %w", rowID, err)
	}
	if value == nil {
		delete(data, code)
	} else {
		data[code] = value
	}
	encoded, err := encodeData(data)
	if err != nil {
		return fmt.Errorf("encode row data: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE table_rows SET data_json = ?, updated_at = ? WHERE id = ?",
		encoded, time.Now().UTC(), rowID); err != nil {
		return fmt.Errorf("update row cell: %w", err)
	}
	if err := touchTable(ctx, tx, rec.TableID); err != nil {
		return err
	}
	return tx.Commit()
}
