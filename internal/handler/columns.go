package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/service"
)

// ListColumns returns the legacy columns of a table.
// GET /api/v1/tables/{id}/columns
func (h *TableHandler) ListColumns(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cols, err := h.tables.ListColumns(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to list columns")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"table_id": id,
		"columns":  cols,
	})
}

// AddColumn adds a legacy column to a table without a schema.
// POST /api/v1/tables/{id}/columns
func (h *TableHandler) AddColumn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in service.ColumnInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	col, err := h.tables.AddColumn(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, err, "Failed to add column")
		return
	}
	writeJSON(w, http.StatusCreated, col)
}

// columnInTable resolves the {column} route parameter as a column id of
// table {id}. It writes the error response itself and returns nil on
// failure.
func (h *TableHandler) columnInTable(w http.ResponseWriter, r *http.Request) *model.Column {
	tableID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	columnID, err := pathID(r, "column")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	cols, err := h.tables.ListColumns(r.Context(), tableID)
	if err != nil {
		writeServiceError(w, err, "Failed to load columns")
		return nil
	}
	for i := range cols {
		if cols[i].ID == columnID {
			return &cols[i]
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("Column %d not found in table %d", columnID, tableID))
	return nil
}

// UpdateColumn changes a legacy column's title, type, sort or settings.
// PUT /api/v1/tables/{id}/columns/{column}
func (h *TableHandler) UpdateColumn(w http.ResponseWriter, r *http.Request) {
	col := h.columnInTable(w, r)
	if col == nil {
		return
	}
	var p service.ColumnPatch
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	updated, err := h.tables.UpdateColumn(r.Context(), col.ID, p)
	if err != nil {
		writeServiceError(w, err, "Failed to update column")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteColumn removes a legacy column and its values.
// DELETE /api/v1/tables/{id}/columns/{column}
func (h *TableHandler) DeleteColumn(w http.ResponseWriter, r *http.Request) {
	col := h.columnInTable(w, r)
	if col == nil {
		return
	}
	if err := h.tables.DeleteColumn(r.Context(), col.ID); err != nil {
		writeServiceError(w, err, "Failed to delete column")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      col.ID,
		"code":    col.Code,
	})
}

// ReorderColumns sorts legacy columns in the given id order.
// PUT /api/v1/tables/{id}/columns/order {"ids": [...]}
func (h *TableHandler) ReorderColumns(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "No column ids given")
		return
	}
	if err := h.tables.ReorderColumns(r.Context(), id, req.IDs); err != nil {
		writeServiceError(w, err, "Failed to reorder columns")
		return
	}
	cols, err := h.tables.ListColumns(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to list columns")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"table_id": id,
		"columns":  cols,
	})
}

// ConvertColumn rewrites the stored values of one column from one type to
// another. The {column} parameter is the column code here.
// POST /api/v1/tables/{id}/columns/{column}/convert {"from": "...", "to": "..."}
func (h *TableHandler) ConvertColumn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		From model.ColumnType `json:"from"`
		To   model.ColumnType `json:"to"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	code := chi.URLParam(r, "column")
	res, err := h.tables.ConvertColumnValues(r.Context(), id, code, req.From, req.To)
	if err != nil {
		writeServiceError(w, err, "Failed to convert column")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---------------------------------------------------------------------------
// Cells
// ---------------------------------------------------------------------------

// GetMatrix returns the table as rows of cell values keyed by column code.
// GET /api/v1/tables/{id}/cells
func (h *TableHandler) GetMatrix(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.tables.GetTableMatrix(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to load cells")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type cellRequest struct {
	RowID    int64       `json:"row_id"`
	ColumnID int64       `json:"column_id"`
	Value    interface{} `json:"value"`
}

// SetCell stores one cell value of a legacy column.
// PUT /api/v1/tables/{id}/cells {"row_id": 1, "column_id": 2, "value": ...}
func (h *TableHandler) SetCell(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req cellRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	row, err := h.tables.GetRow(r.Context(), req.RowID)
	if err != nil {
		writeServiceError(w, err, "Failed to load row")
		return
	}
	if row.TableID != id {
		writeError(w, http.StatusNotFound, "Row "+strconv.FormatInt(req.RowID, 10)+" not found in table "+strconv.FormatInt(id, 10))
		return
	}
	cell, err := h.tables.SetCellValue(r.Context(), req.RowID, req.ColumnID, req.Value)
	if err != nil {
		writeServiceError(w, err, "Failed to write cell")
		return
	}
	writeJSON(w, http.StatusOK, cell)
}

// SearchCells returns the cells whose value contains q.
// GET /api/v1/tables/{id}/cells/search?q=
func (h *TableHandler) SearchCells(w http.ResponseWriter, r *http.Request) {
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
	cells, err := h.tables.SearchCells(r.Context(), id, term)
	if err != nil {
		writeServiceError(w, err, "Failed to search cells")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"table_id": id,
		"cells":    cells,
	})
}
