package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/grebion/tables/internal/model"
)

// columnRow maps the table_columns columns. Settings are stored as JSON.
type columnRow struct {
	ID           int64     `db:"id"`
	TableID      int64     `db:"table_id"`
	Code         string    `db:"code"`
	Type         string    `db:"type"`
	Title        string    `db:"title"`
	Sort         int       `db:"sort"`
	SettingsJSON string    `db:"settings_json"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func columnRowFromModel(c *model.Column) (columnRow, error) {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return columnRow{}, fmt.Errorf("marshal column settings: %w", err)
	}
	typ := string(c.Type)
	if typ == "" {
		typ = string(model.TypeText)
	}
	return columnRow{
		ID:           c.ID,
		TableID:      c.TableID,
		Code:         c.Code,
		Type:         typ,
		Title:        c.Title,
		Sort:         c.Sort,
		SettingsJSON: string(settings),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}, nil
}

func (r columnRow) toModel() (model.Column, error) {
	var settings model.ColumnSettings
	if r.SettingsJSON != "" && r.SettingsJSON != "{}" {
		if err := json.Unmarshal([]byte(r.SettingsJSON), &settings); err != nil {
			return model.Column{}, fmt.Errorf("unmarshal column %d settings: %w", r.ID, err)
		}
	}
	return model.Column{
		ID:        r.ID,
		TableID:   r.TableID,
		Code:      r.Code,
		Type:      model.ColumnType(r.Type),
		Title:     r.Title,
		Sort:      r.Sort,
		Settings:  settings,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// CreateColumn inserts a legacy column. A zero Sort is replaced by
// max(sort)+100 of the table, or DefaultColumnSort for its first column.
func (s *Store) CreateColumn(ctx context.Context, c *model.Column) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	if c.Sort == 0 {
		var maxSort sql.NullInt64
		if err := s.db.GetContext(ctx, &maxSort, "SELECT MAX(sort) FROM table_columns WHERE table_id = ?", c.TableID); err != nil {
			return fmt.Errorf("max column sort: %w", err)
		}
		c.Sort = model.DefaultColumnSort
		if maxSort.Valid {
			c.Sort = int(maxSort.Int64) + 100
		}
	}

	row, err := columnRowFromModel(c)
	if err != nil {
		return err
	}

	const q = `INSERT INTO table_columns (table_id, code, type, title, sort, settings_json, created_at, updated_at)
		VALUES (:table_id, :code, :type, :title, :sort, :settings_json, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("column code %q: %w", c.Code, ErrConflict)
		}
		return fmt.Errorf("insert column: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get column id: %w", err)
	}
	c.ID = id
	c.Type = model.ColumnType(row.Type)
	return nil
}

// GetColumn returns a legacy column by ID.
func (s *Store) GetColumn(ctx context.Context, id int64) (*model.Column, error) {
	var row columnRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM table_columns WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get column: %w", err)
	}
	c, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListColumns returns the legacy columns of a table ordered by sort, then id.
func (s *Store) ListColumns(ctx context.Context, tableID int64) ([]model.Column, error) {
	var rows []columnRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM table_columns WHERE table_id = ? ORDER BY sort, id", tableID); err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}

	cols := make([]model.Column, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// UpdateColumn updates a legacy column. The UpdatedAt field is refreshed
// automatically.
func (s *Store) UpdateColumn(ctx context.Context, c *model.Column) error {
	return updateColumn(ctx, s.db, c)
}

// UpdateColumnWithRows stores a changed column together with the rows
// rewritten for it in one transaction.
func (s *Store) UpdateColumnWithRows(ctx context.Context, c *model.Column, rows []model.Row) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := updateColumn(ctx, tx, c); err != nil {
		return err
	}
	if err := updateRows(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func updateColumn(ctx context.Context, ex namedExecer, c *model.Column) error {
	c.UpdatedAt = time.Now().UTC()
	row, err := columnRowFromModel(c)
	if err != nil {
		return err
	}

	const q = `UPDATE table_columns SET
		code = :code, type = :type, title = :title, sort = :sort,
		settings_json = :settings_json, updated_at = :updated_at
		WHERE id = :id`

	result, err := ex.NamedExecContext(ctx, q, row)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("column code %q: %w", c.Code, ErrConflict)
		}
		return fmt.Errorf("update column: %w", err)
	}
	return expectOne(result, "update column")
}

// DeleteColumn removes a legacy column and its cells.
func (s *Store) DeleteColumn(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM table_cells WHERE column_id = ?", id); err != nil {
		return fmt.Errorf("delete column cells: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM table_columns WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete column: %w", err)
	}
	if err := expectOne(result, "delete column"); err != nil {
		return err
	}
	return tx.Commit()
}

// ReorderColumns assigns sort values 100, 200, ... to the given column ids
// of a table in one transaction.
func (s *Store) ReorderColumns(ctx context.Context, tableID int64, ids []int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i, id := range ids {
		result, err := tx.ExecContext(ctx,
			"UPDATE table_columns SET sort = ?, updated_at = ? WHERE id = ? AND table_id = ?",
			(i+1)*100, now, id, tableID)
		if err != nil {
			return fmt.Errorf("reorder column %d: %w", id, err)
		}
		if err := expectOne(result, "reorder column"); err != nil {
			return fmt.Errorf("column %d: %w", id, err)
		}
	}
	return tx.Commit()
}
