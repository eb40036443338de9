package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/grebion/tables/internal/model"
)

// UpsertCell stores the value of one (row, column) pair, replacing the
// previous value. The ID and timestamps of c are populated.
func (s *Store) UpsertCell(ctx context.Context, c *model.Cell) error {
	now := time.Now().UTC()
	c.UpdatedAt = now
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}

	const q = `INSERT INTO table_cells (row_id, column_id, value, formatted_value, created_at, updated_at)
		VALUES (:row_id, :column_id, :value, :formatted_value, :created_at, :updated_at)
		ON CONFLICT(row_id, column_id) DO UPDATE SET
			value = excluded.value,
			formatted_value = excluded.formatted_value,
			updated_at = excluded.updated_at`

	if _, err := s.db.NamedExecContext(ctx, q, c); err != nil {
		return fmt.Errorf("upsert cell: %w", err)
	}

	stored, err := s.GetCell(ctx, c.RowID, c.ColumnID)
	if err != nil {
		return err
	}
	*c = *stored
	return nil
}

// GetCell returns the cell of a (row, column) pair.
func (s *Store) GetCell(ctx context.Context, rowID, columnID int64) (*model.Cell, error) {
	var c model.Cell
	if err := s.db.GetContext(ctx, &c,
		"SELECT * FROM table_cells WHERE row_id = ? AND column_id = ?", rowID, columnID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get cell: %w", err)
	}
	return &c, nil
}

// ListCellsByTable returns every cell of a table's rows, ordered by row sort
// and column sort.
func (s *Store) ListCellsByTable(ctx context.Context, tableID int64) ([]model.Cell, error) {
	cells := []model.Cell{}
	const q = `SELECT c.* FROM table_cells c
		JOIN table_rows r ON r.id = c.row_id
		JOIN table_columns col ON col.id = c.column_id
		WHERE r.table_id = ?
		ORDER BY r.sort, r.id, col.sort, col.id`
	if err := s.db.SelectContext(ctx, &cells, q, tableID); err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}
	return cells, nil
}

// DeleteCellsByRow removes every cell of a row.
func (s *Store) DeleteCellsByRow(ctx context.Context, rowID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM table_cells WHERE row_id = ?", rowID); err != nil {
		return fmt.Errorf("delete row cells: %w", err)
	}
	return nil
}

// DeleteCellsByColumn removes every cell of a column.
func (s *Store) DeleteCellsByColumn(ctx context.Context, columnID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM table_cells WHERE column_id = ?", columnID); err != nil {
		return fmt.Errorf("delete column cells: %w", err)
	}
	return nil
}

// SearchCells returns cells of a table whose raw or formatted value
// contains term.
func (s *Store) SearchCells(ctx context.Context, tableID int64, term string) ([]model.Cell, error) {
	cells := []model.Cell{}
	const q = `SELECT c.* FROM table_cells c
		JOIN table_rows r ON r.id = c.row_id
		WHERE r.table_id = ? AND (c.value LIKE ? ESCAPE '\' OR c.formatted_value LIKE ? ESCAPE '\')
		ORDER BY r.sort, r.id, c.column_id`
	pattern := likePattern(term)
	if err := s.db.SelectContext(ctx, &cells, q, tableID, pattern, pattern); err != nil {
		return nil, fmt.Errorf("search cells: %w", err)
	}
	return cells, nil
}
