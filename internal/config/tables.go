package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grebion/tables/internal/model"
)

// TableFilter narrows ListTables and CountTables. Nil pointers and empty
// strings match everything.
type TableFilter struct {
	OwnerType string
	OwnerID   *int64
	SchemaID  *int64
	Limit     int
	Offset    int
}

func (f TableFilter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.OwnerType != "" {
		conds = append(conds, "owner_type = ?")
		args = append(args, f.OwnerType)
	}
	if f.OwnerID != nil {
		conds = append(conds, "owner_id = ?")
		args = append(args, *f.OwnerID)
	}
	if f.SchemaID != nil {
		conds = append(conds, "schema_id = ?")
		args = append(args, *f.SchemaID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// CreateTable inserts a new table instance. The ID, CreatedAt, and UpdatedAt
// fields on t are populated after a successful insert.
func (s *Store) CreateTable(ctx context.Context, t *model.Table) error {
	return insertTable(ctx, s.db, t)
}

func insertTable(ctx context.Context, ex namedExecer, t *model.Table) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	const q = `INSERT INTO data_tables (schema_id, owner_type, owner_id, title, is_draft, created_at, updated_at)
		VALUES (:schema_id, :owner_type, :owner_id, :title, :is_draft, :created_at, :updated_at)`

	result, err := ex.NamedExecContext(ctx, q, t)
	if err != nil {
		return fmt.Errorf("insert table: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get table id: %w", err)
	}
	t.ID = id
	return nil
}

// SaveTableWithRows creates t when its ID is zero or updates it otherwise,
// then replaces all of its rows, in one transaction.
func (s *Store) SaveTableWithRows(ctx context.Context, t *model.Table, rows []model.Row) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if t.ID == 0 {
		err = insertTable(ctx, tx, t)
	} else {
		err = updateTable(ctx, tx, t)
	}
	if err != nil {
		return err
	}
	if err := replaceRows(ctx, tx, t.ID, rows); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTable returns a table instance by ID.
func (s *Store) GetTable(ctx context.Context, id int64) (*model.Table, error) {
	var t model.Table
	if err := s.db.GetContext(ctx, &t, "SELECT * FROM data_tables WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get table: %w", err)
	}
	return &t, nil
}

// ListTables returns table instances matching f, newest first.
func (s *Store) ListTables(ctx context.Context, f TableFilter) ([]model.Table, error) {
	where, args := f.where()
	q := "SELECT * FROM data_tables" + where + " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	tables := []model.Table{}
	if err := s.db.SelectContext(ctx, &tables, q, args...); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// CountTables returns the number of table instances matching f. Limit and
// Offset are ignored.
func (s *Store) CountTables(ctx context.Context, f TableFilter) (int64, error) {
	where, args := f.where()
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM data_tables"+where, args...); err != nil {
		return 0, fmt.Errorf("count tables: %w", err)
	}
	return n, nil
}

// UpdateTable updates the title, schema, owner and draft flag of a table. The UpdatedAt
// field is refreshed automatically.
func (s *Store) UpdateTable(ctx context.Context, t *model.Table) error {
	return updateTable(ctx, s.db, t)
}

func updateTable(ctx context.Context, ex namedExecer, t *model.Table) error {
	t.UpdatedAt = time.Now().UTC()

	const q = `UPDATE data_tables SET
		schema_id = :schema_id, owner_type = :owner_type, owner_id = :owner_id,
		title = :title, is_draft = :is_draft, updated_at = :updated_at
		WHERE id = :id`

	result, err := ex.NamedExecContext(ctx, q, t)
	if err != nil {
		return fmt.Errorf("update table: %w", err)
	}
	return expectOne(result, "update table")
}

// TouchTable bumps updated_at of a table after its rows changed.
func (s *Store) TouchTable(ctx context.Context, id int64) error {
	return touchTable(ctx, s.db, id)
}

func touchTable(ctx context.Context, ex execer, id int64) error {
	if _, err := ex.ExecContext(ctx, "UPDATE data_tables SET updated_at = ? WHERE id = ?", time.Now().UTC(), id); err != nil {
		return fmt.Errorf("touch table: %w", err)
	}
	return nil
}

// SetTableOwner back-fills the owner of a table created ahead of its owning
// entity. The table stops being a draft.
func (s *Store) SetTableOwner(ctx context.Context, id int64, ownerType string, ownerID int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE data_tables SET owner_type = ?, owner_id = ?, is_draft = 0, updated_at = ? WHERE id = ?",
		ownerType, ownerID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set table owner: %w", err)
	}
	return expectOne(result, "set table owner")
}

// DeleteTable removes a table together with its rows, legacy columns and
// cells, and permissions in one transaction.
func (s *Store) DeleteTable(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	steps := []struct {
		what string
		q    string
	}{
		{"cells", "DELETE FROM table_cells WHERE row_id IN (SELECT id FROM table_rows WHERE table_id = ?)"},
		{"rows", "DELETE FROM table_rows WHERE table_id = ?"},
		{"columns", "DELETE FROM table_columns WHERE table_id = ?"},
		{"permissions", "DELETE FROM table_permissions WHERE table_id = ?"},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.q, id); err != nil {
			return fmt.Errorf("delete table %s: %w", step.what, err)
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM data_tables WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete table: %w", err)
	}
	if err := expectOne(result, "delete table"); err != nil {
		return err
	}
	return tx.Commit()
}

// ListOrphanTables returns draft tables that never got an owner and were
// created before olderThan. Tables created directly are never drafts.
func (s *Store) ListOrphanTables(ctx context.Context, olderThan time.Time) ([]model.Table, error) {
	tables := []model.Table{}
	if err := s.db.SelectContext(ctx, &tables,
		"SELECT * FROM data_tables WHERE is_draft = 1 AND owner_id = 0 AND created_at < ? ORDER BY id", olderThan.UTC()); err != nil {
		return nil, fmt.Errorf("list orphan tables: %w", err)
	}
	return tables, nil
}
