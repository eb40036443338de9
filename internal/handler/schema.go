package handler

import (
	"net/http"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/schemadiff"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/tabular"
)

// SchemaHandler serves table schemas: the shared column definitions that
// table instances reference.
type SchemaHandler struct {
	tables *service.TableService
}

// NewSchemaHandler creates a new SchemaHandler.
func NewSchemaHandler(tables *service.TableService) *SchemaHandler {
	return &SchemaHandler{tables: tables}
}

type schemaRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Columns     []model.SchemaColumn `json:"columns"`
}

// ListSchemas returns all schemas.
// GET /api/v1/schemas
func (h *SchemaHandler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	schemas, err := h.tables.ListSchemas(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list schemas")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: toResources(schemas, schemaToMap),
		Meta:     &model.ResponseMeta{Count: len(schemas)},
	})
}

// CreateSchema validates and stores a new schema.
// POST /api/v1/schemas
func (h *SchemaHandler) CreateSchema(w http.ResponseWriter, r *http.Request) {
	var req schemaRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	s, err := h.tables.CreateSchema(r.Context(), req.Name, req.Description, req.Columns)
	if err != nil {
		writeServiceError(w, err, "Failed to create schema")
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// GetSchema returns one schema.
// GET /api/v1/schemas/{id}
func (h *SchemaHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.tables.GetSchema(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to load schema")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// UpdateSchema replaces a schema's name, description and columns. Stored
// values of columns whose type changed are converted, and the response
// reports the diff against the previous revision.
// PUT /api/v1/schemas/{id}
func (h *SchemaHandler) UpdateSchema(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req schemaRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	res, err := h.tables.UpdateSchema(r.Context(), id, req.Name, req.Description, req.Columns)
	if err != nil {
		writeServiceError(w, err, "Failed to update schema")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteSchema removes a schema that no table references.
// DELETE /api/v1/schemas/{id}
func (h *SchemaHandler) DeleteSchema(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.tables.DeleteSchema(r.Context(), id); err != nil {
		writeServiceError(w, err, "Failed to delete schema")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// GetValidationSchema returns the per-column validation rules of a schema.
// GET /api/v1/schemas/{id}/validation
func (h *SchemaHandler) GetValidationSchema(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rules, err := h.tables.GetValidationSchema(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to build validation schema")
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// ListRevisions returns the stored revisions of a schema, newest first.
// GET /api/v1/schemas/{id}/revisions
func (h *SchemaHandler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	revs, err := h.tables.ListSchemaRevisions(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to list revisions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schema_id": id,
		"revisions": revs,
	})
}

// DiffSchema compares a proposed column set against the stored schema
// without saving anything.
// POST /api/v1/schemas/{id}/diff
func (h *SchemaHandler) DiffSchema(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req schemaRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	current, err := h.tables.GetSchema(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "Failed to load schema")
		return
	}
	writeJSON(w, http.StatusOK, schemadiff.Diff(current.Columns, tabular.NormalizeColumns(req.Columns)))
}

func schemaToMap(s *model.TableSchema) map[string]interface{} {
	return map[string]interface{}{
		"id":            s.ID,
		"name":          s.Name,
		"description":   s.Description,
		"columns_count": len(s.Columns),
		"created_at":    s.CreatedAt,
		"updated_at":    s.UpdatedAt,
	}
}
