package handler

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/server/middleware"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/tabular"
)

// Error codes reported by the component actions in addition to the
// validation codes of the tabular package.
const (
	ajaxInvalidTableID  = "INVALID_TABLE_ID"
	ajaxTableNotFound   = "TABLE_NOT_FOUND"
	ajaxInvalidSchemaID = "INVALID_SCHEMA_ID"
	ajaxSchemaNotFound  = "SCHEMA_NOT_FOUND"
	ajaxAccessDenied    = "ACCESS_DENIED"
	ajaxInternal        = "INTERNAL_ERROR"
)

// ajaxDateLayout is the date format of the admin list payloads.
const ajaxDateLayout = "02.01.2006 15:04:05"

// AjaxHandler serves the action-dispatched endpoint used by the admin pages
// and the table editor widgets. Every response is HTTP 200; failures are
// reported through the status field.
type AjaxHandler struct {
	tables *service.TableService
	perms  *service.PermissionService
}

// NewAjaxHandler creates a new AjaxHandler.
func NewAjaxHandler(tables *service.TableService, perms *service.PermissionService) *AjaxHandler {
	return &AjaxHandler{tables: tables, perms: perms}
}

// ajaxParams holds the request parameters of one call, read either from a
// form or from a JSON object.
type ajaxParams map[string]interface{}

func (p ajaxParams) str(keys ...string) string {
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			return strings.TrimSpace(v)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// id returns the first present key as a positive id. Missing keys give 0.
func (p ajaxParams) id(keys ...string) (int64, bool) {
	s := p.str(keys...)
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// decode unmarshals a structured parameter. Form posts carry these as JSON
// strings; JSON bodies carry them inline.
func (p ajaxParams) decode(key string, dst interface{}) error {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	var raw []byte
	if s, isStr := v.(string); isStr {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		raw = []byte(s)
	} else {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, dst)
}

func readAjaxParams(r *http.Request) (ajaxParams, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		p := ajaxParams{}
		if err := readJSON(r, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, err
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, err
	}
	p := ajaxParams{}
	for k, vs := range r.Form {
		if len(vs) > 0 {
			p[k] = vs[0]
		}
	}
	return p, nil
}

// Handle dispatches on the "action" parameter.
// POST /api/v1/ajax
func (h *AjaxHandler) Handle(w http.ResponseWriter, r *http.Request) {
	params, err := readAjaxParams(r)
	if err != nil {
		writeJSON(w, http.StatusOK, model.AjaxResponse{Status: model.AjaxStatusError, Message: "Invalid request: " + err.Error()})
		return
	}

	action := params.str("action")
	var resp model.AjaxResponse
	switch action {
	case "get_tables_list":
		resp = h.tablesList(r, params)
	case "get_table_info":
		resp = h.tableInfo(r, params)
	case "saveTable":
		resp = h.saveTable(r, params)
	case "loadTable":
		resp = h.loadTable(r, params)
	case "saveSchema":
		resp = h.saveSchema(r, params)
	case "loadSchema":
		resp = h.loadSchema(r, params)
	default:
		resp = model.AjaxResponse{Status: model.AjaxStatusError, Message: fmt.Sprintf("Unknown action %q", action)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func isAdmin(r *http.Request) bool {
	p := middleware.GetPrincipal(r.Context())
	return p != nil && p.IsAdmin
}

func ajaxMessage(msg string) model.AjaxResponse {
	return model.AjaxResponse{Status: model.AjaxStatusError, Message: msg}
}

func ajaxFail(code, msg string) model.AjaxResponse {
	return model.AjaxResponse{
		Status: model.AjaxStatusError,
		Errors: []model.AjaxError{{Code: code, Message: msg}},
	}
}

func ajaxData(data map[string]interface{}) model.AjaxResponse {
	return model.AjaxResponse{Status: model.AjaxStatusSuccess, Data: data}
}

// ajaxServiceError converts a service error into component action errors.
// Duplicate codes and titles carry the offending value as custom data.
func ajaxServiceError(err error, notFoundCode string) model.AjaxResponse {
	if verr, ok := service.AsValidation(err); ok {
		out := make([]model.AjaxError, 0, len(verr.Errors))
		for _, fe := range verr.Errors {
			e := model.AjaxError{Code: fe.Code, Message: fe.Message}
			if fe.Field != "" {
				e.CustomData = map[string]interface{}{"FIELD": fe.Field}
			}
			out = append(out, e)
		}
		return model.AjaxResponse{Status: model.AjaxStatusError, Errors: out}
	}
	if service.IsNotFound(err) {
		return ajaxFail(notFoundCode, err.Error())
	}
	return ajaxFail(ajaxInternal, err.Error())
}

// tablesList returns every table with uppercase keys.
func (h *AjaxHandler) tablesList(r *http.Request, _ ajaxParams) model.AjaxResponse {
	if !isAdmin(r) {
		return ajaxMessage("Admin access required")
	}
	tables, _, err := h.tables.ListTables(r.Context(), config.TableFilter{})
	if err != nil {
		return ajaxMessage(err.Error())
	}
	out := make([]map[string]interface{}, len(tables))
	for i, t := range tables {
		out[i] = map[string]interface{}{
			"ID":          t.ID,
			"TITLE":       t.Title,
			"OWNER_TYPE":  t.OwnerType,
			"OWNER_ID":    t.OwnerID,
			"DATE_CREATE": t.CreatedAt.Format(ajaxDateLayout),
			"DATE_MODIFY": t.UpdatedAt.Format(ajaxDateLayout),
		}
	}
	return model.AjaxResponse{Status: model.AjaxStatusSuccess, Tables: out}
}

func (h *AjaxHandler) tableInfo(r *http.Request, p ajaxParams) model.AjaxResponse {
	if !isAdmin(r) {
		return ajaxMessage("Admin access required")
	}
	id, ok := p.id("table_id")
	if !ok || id <= 0 {
		return ajaxMessage("Invalid table id")
	}
	t, err := h.tables.GetTable(r.Context(), id)
	if err != nil {
		if service.IsNotFound(err) {
			return ajaxMessage(fmt.Sprintf("Table %d not found", id))
		}
		return ajaxMessage(err.Error())
	}
	return model.AjaxResponse{Status: model.AjaxStatusSuccess, Table: map[string]interface{}{
		"ID":         t.ID,
		"TITLE":      t.Title,
		"OWNER_TYPE": t.OwnerType,
		"OWNER_ID":   t.OwnerID,
	}}
}

// allowed reports whether the caller may perform action on table id.
func (h *AjaxHandler) allowed(r *http.Request, id int64, action model.Action) (bool, error) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		return false, nil
	}
	if p.IsAdmin {
		return true, nil
	}
	return h.perms.CheckAccess(r.Context(), p.UserID, id, action)
}

func (h *AjaxHandler) saveTable(r *http.Request, p ajaxParams) model.AjaxResponse {
	tableID, ok := p.id("tableId", "table_id")
	if !ok {
		return ajaxFail(ajaxInvalidTableID, "Invalid table id")
	}
	schemaID, ok := p.id("schemaId", "schema_id")
	if !ok || schemaID <= 0 {
		return ajaxFail(ajaxInvalidSchemaID, "Invalid schema id")
	}
	var rows []map[string]interface{}
	if err := p.decode("rows", &rows); err != nil {
		return ajaxFail(tabular.CodeInvalidValue, "rows must be a list of objects: "+err.Error())
	}

	in := service.SaveTableInput{SchemaID: schemaID, Rows: rows}
	if tableID > 0 {
		ok, err := h.allowed(r, tableID, model.ActionWrite)
		if err != nil {
			return ajaxServiceError(err, ajaxTableNotFound)
		}
		if !ok {
			return ajaxFail(ajaxAccessDenied, fmt.Sprintf("No write access to table %d", tableID))
		}
		in.TableID = &tableID
	}

	res, err := h.tables.SaveTable(r.Context(), in)
	if err != nil {
		return ajaxServiceError(err, ajaxTableNotFound)
	}
	if res.Status == service.StatusCreated && !isAdmin(r) {
		if uid := principalID(r); uid != 0 {
			if _, err := h.perms.AssignRole(r.Context(), res.TableID, uid, model.RoleOwner); err != nil {
				return ajaxServiceError(err, ajaxTableNotFound)
			}
		}
	}
	return ajaxData(map[string]interface{}{
		"ID":         res.TableID,
		"NAME":       res.Name,
		"ACTION":     res.Status,
		"ROWS_COUNT": res.RowsCount,
	})
}

func (h *AjaxHandler) loadTable(r *http.Request, p ajaxParams) model.AjaxResponse {
	id, ok := p.id("tableId", "table_id")
	if !ok || id <= 0 {
		return ajaxFail(ajaxInvalidTableID, "Invalid table id")
	}
	allowed, err := h.allowed(r, id, model.ActionRead)
	if err != nil {
		return ajaxServiceError(err, ajaxTableNotFound)
	}
	if !allowed {
		return ajaxFail(ajaxAccessDenied, fmt.Sprintf("No read access to table %d", id))
	}
	t, err := h.tables.LoadTable(r.Context(), id)
	if err != nil {
		return ajaxServiceError(err, ajaxTableNotFound)
	}
	data := map[string]interface{}{
		"ID":   t.ID,
		"NAME": t.Name,
		"ROWS": t.Rows,
	}
	if t.SchemaID != nil {
		data["SCHEMA_ID"] = *t.SchemaID
	}
	return ajaxData(data)
}

func (h *AjaxHandler) saveSchema(r *http.Request, p ajaxParams) model.AjaxResponse {
	if !isAdmin(r) {
		return ajaxFail(ajaxAccessDenied, "Admin access required")
	}
	id, ok := p.id("schemaId", "schema_id")
	if !ok {
		return ajaxFail(ajaxInvalidSchemaID, "Invalid schema id")
	}
	var cols []model.SchemaColumn
	if err := p.decode("columns", &cols); err != nil {
		return ajaxFail(tabular.CodeInvalidColumn, "columns must be a list of objects: "+err.Error())
	}

	var idp *int64
	if id > 0 {
		idp = &id
	}
	res, err := h.tables.SaveSchema(r.Context(), idp, p.str("schemaName", "name"), p.str("schemaDescription", "description"), cols)
	if err != nil {
		return ajaxServiceError(err, ajaxSchemaNotFound)
	}
	action := service.StatusUpdated
	if res.Created {
		action = service.StatusCreated
	}
	return ajaxData(map[string]interface{}{
		"ID":     res.Schema.ID,
		"ACTION": action,
	})
}

func (h *AjaxHandler) loadSchema(r *http.Request, p ajaxParams) model.AjaxResponse {
	id, ok := p.id("schemaId", "schema_id")
	if !ok || id <= 0 {
		return ajaxFail(ajaxInvalidSchemaID, "Invalid schema id")
	}
	sc, err := h.tables.GetSchema(r.Context(), id)
	if err != nil {
		return ajaxServiceError(err, ajaxSchemaNotFound)
	}
	return ajaxData(map[string]interface{}{
		"ID":          sc.ID,
		"NAME":        sc.Name,
		"DESCRIPTION": sc.Description,
		"COLUMNS":     sc.Columns,
	})
}
