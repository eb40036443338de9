package handler

import (
	"fmt"
	"net/http"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/server/middleware"
	"github.com/grebion/tables/internal/service"
)

// PermissionHandler manages per-table roles.
type PermissionHandler struct {
	perms *service.PermissionService
}

// NewPermissionHandler creates a new PermissionHandler.
func NewPermissionHandler(perms *service.PermissionService) *PermissionHandler {
	return &PermissionHandler{perms: perms}
}

// ListPermissions returns the users holding a role on a table.
// GET /api/v1/tables/{id}/permissions
func (h *PermissionHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	users, err := h.perms.GetTableUsers(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to list permissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"table_id": id,
		"users":    users,
	})
}

type assignRoleRequest struct {
	UserID int64           `json:"user_id"`
	Role   model.TableRole `json:"role"`
}

// AssignRole grants a role to a user, replacing any earlier role.
// POST /api/v1/tables/{id}/permissions
func (h *PermissionHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req assignRoleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	perm, err := h.perms.AssignRole(r.Context(), id, req.UserID, req.Role)
	if err != nil {
		writeServiceError(w, err, "Failed to assign role")
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

// RevokeRole removes a user's role on a table.
// DELETE /api/v1/tables/{id}/permissions/{userID}
func (h *PermissionHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.perms.RemoveUserRole(r.Context(), id, userID); err != nil {
		writeServiceError(w, err, "Failed to revoke role")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Role of user %d on table %d revoked", userID, id),
	})
}

// CopyPermissions copies every role of this table onto another table. A
// non-admin caller needs admin access to the target as well.
// POST /api/v1/tables/{id}/permissions/copy {"to_table_id": 2}
func (h *PermissionHandler) CopyPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		ToTableID int64 `json:"to_table_id"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.ToTableID == 0 || req.ToTableID == id {
		writeError(w, http.StatusBadRequest, "to_table_id must name another table")
		return
	}
	if p := middleware.GetPrincipal(r.Context()); p != nil && !p.IsAdmin {
		ok, err := h.perms.CanAdmin(r.Context(), p.UserID, req.ToTableID)
		if err != nil {
			writeServiceError(w, err, "Permission check failed")
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, fmt.Sprintf("No admin access to table %d", req.ToTableID))
			return
		}
	}
	n, err := h.perms.CopyPermissions(r.Context(), id, req.ToTableID)
	if err != nil {
		writeServiceError(w, err, "Failed to copy permissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"copied":  n,
	})
}

// MyTables returns the ids of the tables the caller can access, optionally
// limited to one action.
// GET /api/v1/me/tables?action=read|write|delete|admin
func (h *PermissionHandler) MyTables(w http.ResponseWriter, r *http.Request) {
	uid := principalID(r)
	if uid == 0 {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	action := model.Action(queryString(r, "action"))
	if action != "" && !action.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown action %q", action))
		return
	}
	ids, err := h.perms.GetUserTables(r.Context(), uid, action)
	if err != nil {
		writeServiceError(w, err, "Failed to list tables")
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   uid,
		"table_ids": ids,
	})
}
