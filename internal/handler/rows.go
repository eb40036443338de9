package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/service"
)

// ListRows filters, orders, pages and projects the rows of a table. The
// response carries an ETag so unchanged pages can be revalidated.
// GET /api/v1/tables/{id}/rows?filter=&order=&fields=&limit=&offset=
func (h *TableHandler) ListRows(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := service.RowQuery{
		Filter: queryString(r, "filter"),
		Order:  queryString(r, "order"),
		Fields: queryString(r, "fields"),
		Limit:  clampInt(queryInt(r, "limit", service.DefaultPageSize), 1, service.MaxPageSize),
		Offset: clampInt(queryInt(r, "offset", 0), 0, 1<<31-1),
	}
	page, err := h.tables.ListRows(r.Context(), id, q)
	if err != nil {
		writeServiceError(w, err, "Failed to query rows")
		return
	}

	total := int64(page.Total)
	writeJSONWithETag(w, r, model.ListResponse{
		Resource: toResources(page.Rows, rowToMap),
		Meta: &model.ResponseMeta{
			Count:  len(page.Rows),
			Total:  &total,
			Limit:  page.Limit,
			Offset: page.Offset,
		},
	})
}

// CreateRows adds one row, or several when the body is an array or a
// {"resource": [...]} envelope. Several rows go in all or nothing.
// POST /api/v1/tables/{id}/rows
func (h *TableHandler) CreateRows(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inputs, single, err := parseRowInputs(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if single {
		row, err := h.tables.AddRow(r.Context(), id, inputs[0].Data, inputs[0].Sort)
		if err != nil {
			writeServiceError(w, err, "Failed to add row")
			return
		}
		writeJSON(w, http.StatusCreated, row)
		return
	}

	rows, err := h.tables.BulkInsertRows(r.Context(), id, inputs)
	if err != nil {
		writeServiceError(w, err, "Failed to insert rows")
		return
	}
	writeJSON(w, http.StatusCreated, model.ListResponse{
		Resource: toResources(rows, rowToMap),
		Meta:     &model.ResponseMeta{Count: len(rows)},
	})
}

// parseRowInputs accepts a single row object, a bare array of rows, or a
// {"resource": [...]} envelope. A single object may carry its values under
// "data" or as top-level keys.
func parseRowInputs(r *http.Request) ([]service.RowInput, bool, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, false, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false, errors.New("empty body")
	}

	if body[0] == '[' {
		var inputs []service.RowInput
		if err := json.Unmarshal(body, &inputs); err != nil {
			return nil, false, err
		}
		if len(inputs) == 0 {
			return nil, false, errors.New("no rows given")
		}
		return inputs, false, nil
	}

	var envelope struct {
		Resource []service.RowInput `json:"resource"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false, err
	}
	if envelope.Resource != nil {
		if len(envelope.Resource) == 0 {
			return nil, false, errors.New("no rows given")
		}
		return envelope.Resource, false, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false, err
	}
	in := service.RowInput{}
	if data, ok := raw["data"].(map[string]interface{}); ok {
		in.Data = data
		if s, ok := raw["sort"].(float64); ok {
			in.Sort = int(s)
		}
	} else {
		in.Data = raw
	}
	return []service.RowInput{in}, true, nil
}

// UpdateRows merges data into several rows; each row succeeds or fails on
// its own.
// PATCH /api/v1/tables/{id}/rows
func (h *TableHandler) UpdateRows(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Resource []service.RowUpdate `json:"resource"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Resource) == 0 {
		writeError(w, http.StatusBadRequest, "No rows given")
		return
	}
	res, err := h.tables.BulkUpdateRows(r.Context(), id, req.Resource)
	if err != nil {
		writeServiceError(w, err, "Failed to update rows")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteRows removes the rows named by ?ids=1,2,3 or {"ids": [...]}.
// DELETE /api/v1/tables/{id}/rows
func (h *TableHandler) DeleteRows(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ids []int64
	if raw := queryString(r, "ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid row id: "+part)
				return
			}
			ids = append(ids, n)
		}
	} else {
		var req struct {
			IDs []int64 `json:"ids"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
		ids = req.IDs
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "No row ids given")
		return
	}

	n, err := h.tables.BulkDeleteRows(r.Context(), id, ids)
	if err != nil {
		writeServiceError(w, err, "Failed to delete rows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"deleted": n,
	})
}

type sortEntry struct {
	ID   int64 `json:"id"`
	Sort int   `json:"sort"`
}

// UpdateSort sets the sort value of several rows.
// PUT /api/v1/tables/{id}/rows/sort
func (h *TableHandler) UpdateSort(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Resource []sortEntry `json:"resource"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	sorts := make(map[int64]int, len(req.Resource))
	for _, e := range req.Resource {
		sorts[e.ID] = e.Sort
	}
	if err := h.tables.UpdateSort(r.Context(), id, sorts); err != nil {
		writeServiceError(w, err, "Failed to update sort")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"updated": len(sorts),
	})
}

// rowInTable loads the {rowID} row and checks it belongs to table {id}. It
// writes the error response itself and returns nil on failure.
func (h *TableHandler) rowInTable(w http.ResponseWriter, r *http.Request) *model.Row {
	tableID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	rowID, err := pathID(r, "rowID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	row, err := h.tables.GetRow(r.Context(), rowID)
	if err != nil {
		writeServiceError(w, err, "Failed to load row")
		return nil
	}
	if row.TableID != tableID {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Row %d not found in table %d", rowID, tableID))
		return nil
	}
	return row
}

// GetRow returns one row.
// GET /api/v1/tables/{id}/rows/{rowID}
func (h *TableHandler) GetRow(w http.ResponseWriter, r *http.Request) {
	if row := h.rowInTable(w, r); row != nil {
		writeJSON(w, http.StatusOK, row)
	}
}

// ReplaceRow replaces the data of a row.
// PUT /api/v1/tables/{id}/rows/{rowID}
func (h *TableHandler) ReplaceRow(w http.ResponseWriter, r *http.Request) {
	h.updateRow(w, r, false)
}

// PatchRow merges data into a row.
// PATCH /api/v1/tables/{id}/rows/{rowID}
func (h *TableHandler) PatchRow(w http.ResponseWriter, r *http.Request) {
	h.updateRow(w, r, true)
}

func (h *TableHandler) updateRow(w http.ResponseWriter, r *http.Request, partial bool) {
	row := h.rowInTable(w, r)
	if row == nil {
		return
	}
	inputs, single, err := parseRowInputs(r)
	if err != nil || !single {
		writeError(w, http.StatusBadRequest, "Expected a single row object")
		return
	}
	updated, err := h.tables.UpdateRow(r.Context(), row.ID, inputs[0].Data, partial)
	if err != nil {
		writeServiceError(w, err, "Failed to update row")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteRow removes one row.
// DELETE /api/v1/tables/{id}/rows/{rowID}
func (h *TableHandler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	row := h.rowInTable(w, r)
	if row == nil {
		return
	}
	if err := h.tables.DeleteRow(r.Context(), row.ID); err != nil {
		writeServiceError(w, err, "Failed to delete row")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      row.ID,
	})
}

// MoveRow swaps a row with its neighbour in the given direction.
// POST /api/v1/tables/{id}/rows/{rowID}/move {"direction": "up"|"down"}
func (h *TableHandler) MoveRow(w http.ResponseWriter, r *http.Request) {
	row := h.rowInTable(w, r)
	if row == nil {
		return
	}
	var req struct {
		Direction string `json:"direction"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Direction != service.MoveUp && req.Direction != service.MoveDown {
		writeError(w, http.StatusBadRequest, `direction must be "up" or "down"`)
		return
	}
	moved, err := h.tables.MoveRow(r.Context(), row.ID, req.Direction)
	if err != nil {
		writeServiceError(w, err, "Failed to move row")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"moved":   moved,
	})
}

// GetRowCell returns the value of one column of a row.
// GET /api/v1/tables/{id}/rows/{rowID}/cells/{code}
func (h *TableHandler) GetRowCell(w http.ResponseWriter, r *http.Request) {
	row := h.rowInTable(w, r)
	if row == nil {
		return
	}
	code := chi.URLParam(r, "code")
	v, err := h.tables.GetRowCell(r.Context(), row.ID, code)
	if err != nil {
		writeServiceError(w, err, "Failed to read cell")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"row_id": row.ID,
		"code":   code,
		"value":  v,
	})
}

// SetRowCell validates and stores the value of one column of a row.
// PUT /api/v1/tables/{id}/rows/{rowID}/cells/{code} {"value": ...}
func (h *TableHandler) SetRowCell(w http.ResponseWriter, r *http.Request) {
	row := h.rowInTable(w, r)
	if row == nil {
		return
	}
	var req struct {
		Value interface{} `json:"value"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	code := chi.URLParam(r, "code")
	v, err := h.tables.SetRowCell(r.Context(), row.ID, code, req.Value)
	if err != nil {
		writeServiceError(w, err, "Failed to write cell")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"row_id": row.ID,
		"code":   code,
		"value":  v,
	})
}

// SearchRows returns the rows with a value containing q.
// GET /api/v1/tables/{id}/search?q=
func (h *TableHandler) SearchRows(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	term := strings.TrimSpace(queryString(r, "q"))
	if term == "" {
		writeError(w, http.StatusBadRequest, "Query parameter q is required")
		return
	}
	rows, err := h.tables.SearchTable(r.Context(), id, term)
	if err != nil {
		writeServiceError(w, err, "Failed to search table")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: toResources(rows, rowToMap),
		Meta:     &model.ResponseMeta{Count: len(rows)},
	})
}

func rowToMap(row *model.Row) map[string]interface{} {
	return map[string]interface{}{
		"id":         row.ID,
		"sort":       row.Sort,
		"data":       row.Data,
		"created_at": row.CreatedAt,
		"updated_at": row.UpdatedAt,
	}
}
