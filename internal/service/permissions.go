package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/model"
)

// ErrInvalidRole is returned when assigning an unknown role.
var ErrInvalidRole = errors.New("invalid role")

// PermissionService decides who may read, write, delete or administer a
// table. Admin users and the owning user of a USER-owned table always have
// full access; everyone else needs an explicit role.
type PermissionService struct {
	store *config.Store
}

// NewPermissionService creates a PermissionService.
func NewPermissionService(store *config.Store) *PermissionService {
	return &PermissionService{store: store}
}

// TableUser is a user holding a role on a table.
type TableUser struct {
	UserID int64           `json:"user_id"`
	Email  string          `json:"email"`
	Name   string          `json:"name"`
	Role   model.TableRole `json:"role"`
}

// CheckAccess reports whether userID may perform action on tableID.
func (p *PermissionService) CheckAccess(ctx context.Context, userID, tableID int64, action model.Action) (bool, error) {
	if !action.Valid() {
		return false, fmt.Errorf("unknown action %q", action)
	}

	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if !user.IsActive {
		return false, nil
	}
	if user.IsAdmin {
		return true, nil
	}

	t, err := p.store.GetTable(ctx, tableID)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if t.OwnerType == model.OwnerTypeUser && t.OwnerID == userID {
		return true, nil
	}

	perm, err := p.store.GetTablePermission(ctx, tableID, userID)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return perm.Role.Allows(action), nil
}

func (p *PermissionService) CanRead(ctx context.Context, userID, tableID int64) (bool, error) {
	return p.CheckAccess(ctx, userID, tableID, model.ActionRead)
}

func (p *PermissionService) CanWrite(ctx context.Context, userID, tableID int64) (bool, error) {
	return p.CheckAccess(ctx, userID, tableID, model.ActionWrite)
}

func (p *PermissionService) CanDelete(ctx context.Context, userID, tableID int64) (bool, error) {
	return p.CheckAccess(ctx, userID, tableID, model.ActionDelete)
}

func (p *PermissionService) CanAdmin(ctx context.Context, userID, tableID int64) (bool, error) {
	return p.CheckAccess(ctx, userID, tableID, model.ActionAdmin)
}

// AssignRole grants role on a table to a user, replacing any earlier role.
func (p *PermissionService) AssignRole(ctx context.Context, tableID, userID int64, role model.TableRole) (*model.TablePermission, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if _, err := p.store.GetTable(ctx, tableID); err != nil {
		return nil, fmt.Errorf("table %d: %w", tableID, err)
	}
	if _, err := p.store.GetUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("user %d: %w", userID, err)
	}

	perm := &model.TablePermission{TableID: tableID, UserID: userID, Role: role}
	if err := p.store.SetTablePermission(ctx, perm); err != nil {
		return nil, err
	}
	return perm, nil
}

// RemoveUserRole revokes a user's role on a table.
func (p *PermissionService) RemoveUserRole(ctx context.Context, tableID, userID int64) error {
	return p.store.DeleteTablePermission(ctx, tableID, userID)
}

// GetUserRoleForTable returns the role a user holds on a table. The owner of
// a USER-owned table is reported as owner even without a permission row.
// An empty role and no error mean the user has no role.
func (p *PermissionService) GetUserRoleForTable(ctx context.Context, userID, tableID int64) (model.TableRole, error) {
	perm, err := p.store.GetTablePermission(ctx, tableID, userID)
	if err == nil {
		return perm.Role, nil
	}
	if !IsNotFound(err) {
		return "", err
	}

	t, err := p.store.GetTable(ctx, tableID)
	if err != nil {
		return "", fmt.Errorf("table %d: %w", tableID, err)
	}
	if t.OwnerType == model.OwnerTypeUser && t.OwnerID == userID {
		return model.RoleOwner, nil
	}
	return "", nil
}

// GetTableUsers lists the users holding a role on a table.
func (p *PermissionService) GetTableUsers(ctx context.Context, tableID int64) ([]TableUser, error) {
	perms, err := p.store.ListTablePermissions(ctx, tableID)
	if err != nil {
		return nil, err
	}

	users := make([]TableUser, 0, len(perms))
	for _, perm := range perms {
		tu := TableUser{UserID: perm.UserID, Role: perm.Role}
		if u, err := p.store.GetUser(ctx, perm.UserID); err == nil {
			tu.Email = u.Email
			tu.Name = u.Name
		} else if !IsNotFound(err) {
			return nil, err
		}
		users = append(users, tu)
	}
	return users, nil
}

// GetUserTables returns the ids of the tables a user holds a role on,
// together with the tables the user owns. A non-empty action keeps only the
// tables whose role allows it.
func (p *PermissionService) GetUserTables(ctx context.Context, userID int64, action model.Action) ([]int64, error) {
	if action != "" && !action.Valid() {
		return nil, fmt.Errorf("unknown action %q", action)
	}

	seen := make(map[int64]bool)
	var ids []int64

	owned, err := p.store.ListTables(ctx, config.TableFilter{OwnerType: model.OwnerTypeUser, OwnerID: &userID})
	if err != nil {
		return nil, err
	}
	for _, t := range owned {
		seen[t.ID] = true
		ids = append(ids, t.ID)
	}

	perms, err := p.store.ListUserTablePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, perm := range perms {
		if seen[perm.TableID] {
			continue
		}
		if action != "" && !perm.Role.Allows(action) {
			continue
		}
		seen[perm.TableID] = true
		ids = append(ids, perm.TableID)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// CopyPermissions copies every role of one table onto another and returns
// how many were copied.
func (p *PermissionService) CopyPermissions(ctx context.Context, fromTableID, toTableID int64) (int64, error) {
	if _, err := p.store.GetTable(ctx, toTableID); err != nil {
		return 0, fmt.Errorf("table %d: %w", toTableID, err)
	}
	return p.store.CopyTablePermissions(ctx, fromTableID, toTableID)
}

// ClearTablePermissions revokes every role on a table.
func (p *PermissionService) ClearTablePermissions(ctx context.Context, tableID int64) (int64, error) {
	return p.store.DeleteTablePermissions(ctx, tableID)
}
