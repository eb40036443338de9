package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/server/middleware"
	"github.com/grebion/tables/internal/service"
)

// TableHandler serves table instances together with their rows, legacy
// columns and cells. Access to a single table is checked by middleware
// before a handler runs; handlers under a table check that nested rows and
// columns belong to it.
type TableHandler struct {
	tables *service.TableService
	perms  *service.PermissionService
}

// NewTableHandler creates a new TableHandler.
func NewTableHandler(tables *service.TableService, perms *service.PermissionService) *TableHandler {
	return &TableHandler{
		tables: tables,
		perms:  perms,
	}
}

// ListTables returns tables filtered by owner_type, owner_id and schema_id.
// Non-admin callers only see tables they can read.
// GET /api/v1/tables
func (h *TableHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ownerID, err := queryInt64(r, "owner_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	schemaID, err := queryInt64(r, "schema_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f := config.TableFilter{
		OwnerType: queryString(r, "owner_type"),
		OwnerID:   ownerID,
		SchemaID:  schemaID,
		Limit:     clampInt(queryInt(r, "limit", service.DefaultPageSize), 1, service.MaxPageSize),
		Offset:    clampInt(queryInt(r, "offset", 0), 0, 1<<31-1),
	}

	var tables []model.Table
	var total int64
	if p := middleware.GetPrincipal(r.Context()); p != nil && !p.IsAdmin {
		tables, total, err = h.readableTables(r, p.UserID, f)
	} else {
		tables, total, err = h.tables.ListTables(r.Context(), f)
	}
	if err != nil {
		writeServiceError(w, err, "Failed to list tables")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: toResources(tables, tableToMap),
		Meta: &model.ResponseMeta{
			Count:  len(tables),
			Total:  &total,
			Limit:  f.Limit,
			Offset: f.Offset,
			TookMs: float64(time.Since(start).Microseconds()) / 1000.0,
		},
	})
}

// readableTables applies f to the tables userID can read and pages the
// result in memory.
func (h *TableHandler) readableTables(r *http.Request, userID int64, f config.TableFilter) ([]model.Table, int64, error) {
	ids, err := h.perms.GetUserTables(r.Context(), userID, model.ActionRead)
	if err != nil {
		return nil, 0, err
	}
	allowed := make(map[int64]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}

	limit, offset := f.Limit, f.Offset
	f.Limit, f.Offset = 0, 0
	all, _, err := h.tables.ListTables(r.Context(), f)
	if err != nil {
		return nil, 0, err
	}
	var visible []model.Table
	for _, t := range all {
		if allowed[t.ID] {
			visible = append(visible, t)
		}
	}
	total := int64(len(visible))
	if offset >= len(visible) {
		return []model.Table{}, total, nil
	}
	visible = visible[offset:]
	if limit > 0 && limit < len(visible) {
		visible = visible[:limit]
	}
	return visible, total, nil
}

// CreateTable creates a table instance. A non-admin caller that names no
// owner becomes the owning user.
// POST /api/v1/tables
func (h *TableHandler) CreateTable(w http.ResponseWriter, r *http.Request) {
	var in service.TableInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if p := middleware.GetPrincipal(r.Context()); p != nil && !p.IsAdmin && in.OwnerType == "" {
		in.OwnerType = model.OwnerTypeUser
		in.OwnerID = p.UserID
	}

	t, err := h.tables.CreateTable(r.Context(), in)
	if err != nil {
		writeServiceError(w, err, "Failed to create table")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTable returns a table with its effective columns and counts.
// GET /api/v1/tables/{id}
func (h *TableHandler) GetTable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, err := h.tables.GetTableInfo(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to load table")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// UpdateTable changes a table's title, schema or owner.
// PATCH /api/v1/tables/{id}
func (h *TableHandler) UpdateTable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var u service.TableUpdate
	if err := readJSON(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if u.OwnerType != nil || u.OwnerID != nil {
		if !h.requireTableAdmin(w, r, id) {
			return
		}
	}
	t, err := h.tables.UpdateTable(r.Context(), id, u)
	if err != nil {
		writeServiceError(w, err, "Failed to update table")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTable removes a table with its rows, columns, cells and
// permissions.
// DELETE /api/v1/tables/{id}
func (h *TableHandler) DeleteTable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.tables.DeleteTable(r.Context(), id); err != nil {
		writeServiceError(w, err, "Failed to delete table")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// requireTableAdmin writes 403 and returns false unless the caller has
// admin access to the table. Owner fields need it because the owner holds
// every right.
func (h *TableHandler) requireTableAdmin(w http.ResponseWriter, r *http.Request, tableID int64) bool {
	p := middleware.GetPrincipal(r.Context())
	if p == nil || p.IsAdmin {
		return true
	}
	ok, err := h.perms.CanAdmin(r.Context(), p.UserID, tableID)
	if err != nil {
		writeServiceError(w, err, "Permission check failed")
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, fmt.Sprintf("No admin access to table %d", tableID))
		return false
	}
	return true
}

type ownerRequest struct {
	OwnerType string `json:"owner_type"`
	OwnerID   int64  `json:"owner_id"`
}

// SetOwner attaches a table to its owning entity.
// PUT /api/v1/tables/{id}/owner
func (h *TableHandler) SetOwner(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ownerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.tables.SetOwner(r.Context(), id, req.OwnerType, req.OwnerID); err != nil {
		writeServiceError(w, err, "Failed to set owner")
		return
	}
	t, err := h.tables.GetTable(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to load table")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CopyTable duplicates a table, optionally with its rows.
// POST /api/v1/tables/{id}/copy
func (h *TableHandler) CopyTable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := service.CopyOptions{WithData: true}
	if r.ContentLength != 0 {
		if err := readJSON(r, &opts); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}
	t, err := h.tables.CopyTable(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, err, "Failed to copy table")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetStats returns row and column counts of a table.
// GET /api/v1/tables/{id}/stats
func (h *TableHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := h.tables.GetTableStats(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetData returns one page of rows with display values.
// GET /api/v1/tables/{id}/data?page=&limit=
func (h *TableHandler) GetData(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := clampInt(queryInt(r, "page", 1), 1, 1<<31-1)
	limit := clampInt(queryInt(r, "limit", service.DefaultPageSize), 1, service.MaxPageSize)
	data, err := h.tables.GetTableData(r.Context(), id, page, limit)
	if err != nil {
		writeServiceError(w, err, "Failed to load table data")
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func tableToMap(t *model.Table) map[string]interface{} {
	m := map[string]interface{}{
		"id":         t.ID,
		"title":      t.Title,
		"owner_type": t.OwnerType,
		"owner_id":   t.OwnerID,
		"created_at": t.CreatedAt,
		"updated_at": t.UpdatedAt,
	}
	if t.SchemaID != nil {
		m["schema_id"] = *t.SchemaID
	}
	return m
}
