package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/grebion/tables/internal/model"
)

// SetTablePermission grants role on a table to a user, replacing any role
// the user already had there.
func (s *Store) SetTablePermission(ctx context.Context, p *model.TablePermission) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO table_permissions (table_id, user_id, role, created_at)
		VALUES (:table_id, :user_id, :role, :created_at)
		ON CONFLICT(table_id, user_id) DO UPDATE SET role = excluded.role`

	if _, err := s.db.NamedExecContext(ctx, q, p); err != nil {
		return fmt.Errorf("set table permission: %w", err)
	}

	stored, err := s.GetTablePermission(ctx, p.TableID, p.UserID)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

// GetTablePermission returns the permission of a user on a table.
func (s *Store) GetTablePermission(ctx context.Context, tableID, userID int64) (*model.TablePermission, error) {
	var p model.TablePermission
	if err := s.db.GetContext(ctx, &p,
		"SELECT * FROM table_permissions WHERE table_id = ? AND user_id = ?", tableID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get table permission: %w", err)
	}
	return &p, nil
}

// DeleteTablePermission revokes a user's role on a table.
func (s *Store) DeleteTablePermission(ctx context.Context, tableID, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM table_permissions WHERE table_id = ? AND user_id = ?", tableID, userID)
	if err != nil {
		return fmt.Errorf("delete table permission: %w", err)
	}
	return expectOne(result, "delete table permission")
}

// ListTablePermissions returns every permission granted on a table.
func (s *Store) ListTablePermissions(ctx context.Context, tableID int64) ([]model.TablePermission, error) {
	perms := []model.TablePermission{}
	if err := s.db.SelectContext(ctx, &perms,
		"SELECT * FROM table_permissions WHERE table_id = ? ORDER BY user_id", tableID); err != nil {
		return nil, fmt.Errorf("list table permissions: %w", err)
	}
	return perms, nil
}

// ListUserTablePermissions returns every permission granted to a user.
func (s *Store) ListUserTablePermissions(ctx context.Context, userID int64) ([]model.TablePermission, error) {
	perms := []model.TablePermission{}
	if err := s.db.SelectContext(ctx, &perms,
		"SELECT * FROM table_permissions WHERE user_id = ? ORDER BY table_id", userID); err != nil {
		return nil, fmt.Errorf("list user table permissions: %w", err)
	}
	return perms, nil
}

// CopyTablePermissions copies every permission of one table onto another.
// Existing roles on the target are overwritten. It returns the number of
// permissions copied.
func (s *Store) CopyTablePermissions(ctx context.Context, fromTableID, toTableID int64) (int64, error) {
	const q = `INSERT INTO table_permissions (table_id, user_id, role, created_at)
		SELECT ?, user_id, role, ? FROM table_permissions WHERE table_id = ?
		ON CONFLICT(table_id, user_id) DO UPDATE SET role = excluded.role`

	result, err := s.db.ExecContext(ctx, q, toTableID, time.Now().UTC(), fromTableID)
	if err != nil {
		return 0, fmt.Errorf("copy table permissions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("copy table permissions rows affected: %w", err)
	}
	return n, nil
}

// DeleteTablePermissions revokes every permission on a table.
func (s *Store) DeleteTablePermissions(ctx context.Context, tableID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM table_permissions WHERE table_id = ?", tableID)
	if err != nil {
		return 0, fmt.Errorf("delete table permissions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
