package handler

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/server/middleware"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/tabular"
)

// ---------------------------------------------------------------------------
// Permissions
// ---------------------------------------------------------------------------

func TestPermissions(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	sc, tbl := env.seedTable(t)
	other := createTableFor(t, env, sc.ID)
	viewer := env.seedUser(t, "viewer@example.com", false)
	base := fmt.Sprintf("/api/v1/tables/%d/permissions", tbl.ID)

	rr := env.do(t, "POST", base, toJSON(t, map[string]interface{}{"user_id": viewer.ID, "role": "viewer"}))
	assertStatus(t, rr, http.StatusOK)
	var perm model.TablePermission
	decodeJSON(t, rr, &perm)
	if perm.Role != model.RoleViewer || perm.TableID != tbl.ID {
		t.Errorf("unexpected permission: %+v", perm)
	}

	rr = env.do(t, "POST", base, toJSON(t, map[string]interface{}{"user_id": viewer.ID, "role": "boss"}))
	assertStatus(t, rr, http.StatusBadRequest)
	rr = env.do(t, "POST", base, toJSON(t, map[string]interface{}{"role": "viewer"}))
	assertStatus(t, rr, http.StatusBadRequest)
	rr = env.do(t, "POST", base, toJSON(t, map[string]interface{}{"user_id": 999, "role": "viewer"}))
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, "GET", base, nil)
	assertStatus(t, rr, http.StatusOK)
	var listed struct {
		Users []service.TableUser `json:"users"`
	}
	decodeJSON(t, rr, &listed)
	if len(listed.Users) != 1 || listed.Users[0].Email != "viewer@example.com" {
		t.Errorf("unexpected users: %+v", listed.Users)
	}

	rr = env.do(t, "POST", base+"/copy", toJSON(t, map[string]interface{}{"to_table_id": other.ID}))
	assertStatus(t, rr, http.StatusOK)
	var copied map[string]interface{}
	decodeJSON(t, rr, &copied)
	if copied["copied"] != float64(1) {
		t.Errorf("copied = %v", copied["copied"])
	}
	rr = env.do(t, "POST", base+"/copy", toJSON(t, map[string]interface{}{"to_table_id": tbl.ID}))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "DELETE", fmt.Sprintf("%s/%d", base, viewer.ID), nil)
	assertStatus(t, rr, http.StatusOK)
	ok, err := env.perms.CanRead(t.Context(), viewer.ID, tbl.ID)
	if err != nil || ok {
		t.Errorf("revoked viewer should lose access: ok=%v err=%v", ok, err)
	}
	if ok, _ := env.perms.CanRead(t.Context(), viewer.ID, other.ID); !ok {
		t.Error("copied role should still grant access to the other table")
	}
}

func TestMyTables(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	_, tbl := env.seedTable(t)
	editor := env.seedUser(t, "editor@example.com", false)
	if _, err := env.perms.AssignRole(t.Context(), tbl.ID, editor.ID, model.RoleViewer); err != nil {
		t.Fatal(err)
	}

	env.principal = nil
	rr := env.do(t, "GET", "/api/v1/me/tables", nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	env.principal = &middleware.Principal{UserID: editor.ID, Email: editor.Email, Type: middleware.PrincipalJWT}
	rr = env.do(t, "GET", "/api/v1/me/tables", nil)
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		TableIDs []int64 `json:"table_ids"`
	}
	decodeJSON(t, rr, &resp)
	if len(resp.TableIDs) != 1 || resp.TableIDs[0] != tbl.ID {
		t.Errorf("table_ids = %v", resp.TableIDs)
	}

	rr = env.do(t, "GET", "/api/v1/me/tables?action=write", nil)
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &resp)
	if len(resp.TableIDs) != 0 {
		t.Errorf("a viewer has no write access, got %v", resp.TableIDs)
	}

	rr = env.do(t, "GET", "/api/v1/me/tables?action=fly", nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestCopyPermissions_NeedsAdminOnTarget(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	sc, tbl := env.seedTable(t)
	other := createTableFor(t, env, sc.ID)

	u := env.asUser(t, "owner@example.com")
	if _, err := env.perms.AssignRole(t.Context(), tbl.ID, u.ID, model.RoleOwner); err != nil {
		t.Fatal(err)
	}
	rr := env.do(t, "POST", fmt.Sprintf("/api/v1/tables/%d/permissions/copy", tbl.ID),
		toJSON(t, map[string]interface{}{"to_table_id": other.ID}))
	assertStatus(t, rr, http.StatusForbidden)
}

// ---------------------------------------------------------------------------
// Import and export
// ---------------------------------------------------------------------------

func TestImportCSV(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	_, tbl := env.seedTable(t)

	csv := "name;price;qty\nPen;1,5;3\n;2;2\n\nInk;7;1\n"
	rr := env.do(t, "POST", fmt.Sprintf("/api/v1/tables/%d/import", tbl.ID), strings.NewReader(csv))
	assertStatus(t, rr, http.StatusOK)

	var res struct {
		ImportedRows int      `json:"imported_rows"`
		SkippedLines int      `json:"skipped_lines"`
		Errors       []string `json:"errors"`
	}
	decodeJSON(t, rr, &res)
	if res.ImportedRows != 2 {
		t.Errorf("imported_rows = %d, want 2", res.ImportedRows)
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "line 3:") {
		t.Errorf("expected one error on line 3, got %v", res.Errors)
	}

	page, err := env.tables.ListRows(t.Context(), tbl.ID, service.RowQuery{Filter: "name = 'Pen'"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Rows) != 1 || page.Rows[0].Data["price"] != 1.5 {
		t.Errorf("decimal comma should import as 1.5: %+v", page.Rows)
	}
}

func TestImportCSV_Multipart(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	_, tbl := env.seedTable(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "stock.csv")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, "Name,Quantity\nPen,4\nInk,5\n")
	mw.Close()

	req := httptest.NewRequest("POST", fmt.Sprintf("/api/v1/tables/%d/import?delimiter=,", tbl.ID), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"imported_rows":2`) {
		t.Errorf("titles should map to columns: %s", rr.Body.String())
	}
}

func TestImport_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	_, tbl := env.seedTable(t)
	base := fmt.Sprintf("/api/v1/tables/%d/import", tbl.ID)

	rr := env.do(t, "POST", base+"?format=ods", strings.NewReader("x"))
	assertStatus(t, rr, http.StatusBadRequest)
	rr = env.do(t, "POST", base+"?encoding=ebcdic", strings.NewReader("name\nPen\n"))
	assertStatus(t, rr, http.StatusBadRequest)
	rr = env.do(t, "POST", "/api/v1/tables/999/import", strings.NewReader("name\nPen\n"))
	assertStatus(t, rr, http.StatusNotFound)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	_, tbl := env.seedTable(t)
	env.seedRows(t, tbl.ID)
	base := fmt.Sprintf("/api/v1/tables/%d/export", tbl.ID)

	rr := env.do(t, "GET", base, nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv") {
		t.Errorf("content type = %q", rr.Header().Get("Content-Type"))
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, fmt.Sprintf("table_%d.csv", tbl.ID)) {
		t.Errorf("content disposition = %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "Name;Price;Quantity") {
		t.Errorf("unexpected CSV:\n%s", rr.Body.String())
	}

	rr = env.do(t, "GET", base+"?format=json", nil)
	assertStatus(t, rr, http.StatusOK)
	var doc struct {
		Table struct {
			Title string `json:"title"`
		} `json:"table"`
		Rows []interface{} `json:"rows"`
	}
	decodeJSON(t, rr, &doc)
	if doc.Table.Title != "Stock" || len(doc.Rows) != 3 {
		t.Errorf("unexpected document: %+v", doc)
	}

	// The exported document imports back as a new table.
	rr = env.do(t, "POST", "/api/v1/tables/import", bytes.NewReader(rr.Body.Bytes()))
	assertStatus(t, rr, http.StatusCreated)
	var imported model.Table
	decodeJSON(t, rr, &imported)
	stats, err := env.tables.GetTableStats(t.Context(), imported.ID)
	if err != nil {
		t.Fatal(err)
	}
	if imported.ID == tbl.ID || stats.RowsCount != 3 {
		t.Errorf("round trip: table %d with %d rows", imported.ID, stats.RowsCount)
	}

	rr = env.do(t, "GET", base+"?format=pdf", nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

// ---------------------------------------------------------------------------
// Component actions
// ---------------------------------------------------------------------------

type ajaxResult struct {
	Status  string                   `json:"status"`
	Message string                   `json:"message"`
	Tables  []map[string]interface{} `json:"tables"`
	Table   map[string]interface{}   `json:"table"`
	Data    map[string]interface{}   `json:"data"`
	Errors  []model.AjaxError        `json:"errors"`
}

func (e *testEnv) ajax(t *testing.T, form url.Values) ajaxResult {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/ajax", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	assertStatus(t, rr, http.StatusOK)
	var res ajaxResult
	decodeJSON(t, rr, &res)
	return res
}

func (r ajaxResult) firstCode() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Code
}

func TestAjax_SchemaAndTableRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	res := env.ajax(t, url.Values{
		"action":     {"saveSchema"},
		"schemaName": {"Tasks"},
		"columns":    {`[{"code":"task","title":"Task","type":"text","required":true},{"code":"hours","title":"Hours","type":"float"}]`},
	})
	if res.Status != model.AjaxStatusSuccess || res.Data["ACTION"] != service.StatusCreated {
		t.Fatalf("saveSchema: %+v", res)
	}
	schemaID := fmt.Sprint(res.Data["ID"])

	res = env.ajax(t, url.Values{
		"action":   {"saveTable"},
		"schemaId": {schemaID},
		"rows":     {`[{"task":"Design","hours":2.5},{"task":"Build","hours":8}]`},
	})
	if res.Status != model.AjaxStatusSuccess || res.Data["ACTION"] != service.StatusCreated || res.Data["ROWS_COUNT"] != float64(2) {
		t.Fatalf("saveTable: %+v", res)
	}
	tableID := fmt.Sprint(res.Data["ID"])

	res = env.ajax(t, url.Values{
		"action":   {"saveTable"},
		"tableId":  {tableID},
		"schemaId": {schemaID},
		"rows":     {`[{"task":"Ship"}]`},
	})
	if res.Data["ACTION"] != service.StatusUpdated || res.Data["NAME"] != "Tasks #"+tableID {
		t.Fatalf("saveTable update: %+v", res)
	}

	res = env.ajax(t, url.Values{"action": {"loadTable"}, "tableId": {tableID}})
	rows, _ := res.Data["ROWS"].([]interface{})
	if res.Status != model.AjaxStatusSuccess || len(rows) != 1 || fmt.Sprint(res.Data["SCHEMA_ID"]) != schemaID {
		t.Fatalf("loadTable: %+v", res)
	}

	res = env.ajax(t, url.Values{"action": {"loadSchema"}, "schemaId": {schemaID}})
	if res.Data["NAME"] != "Tasks" {
		t.Errorf("loadSchema: %+v", res)
	}

	res = env.ajax(t, url.Values{"action": {"get_tables_list"}})
	if res.Status != model.AjaxStatusSuccess || len(res.Tables) != 1 {
		t.Fatalf("get_tables_list: %+v", res)
	}
	if created, _ := res.Tables[0]["DATE_CREATE"].(string); len(created) != len(ajaxDateLayout) {
		t.Errorf("DATE_CREATE = %q", created)
	}

	res = env.ajax(t, url.Values{"action": {"get_table_info"}, "table_id": {tableID}})
	if res.Table["TITLE"] != "Tasks #"+tableID {
		t.Errorf("get_table_info: %+v", res)
	}
}

func TestAjax_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	sc, _ := env.seedTable(t)
	schemaID := fmt.Sprint(sc.ID)

	tests := []struct {
		name string
		form url.Values
		code string
	}{
		{"missing schema", url.Values{"action": {"saveTable"}, "rows": {`[{"name":"x"}]`}}, ajaxInvalidSchemaID},
		{"unknown schema", url.Values{"action": {"saveTable"}, "schemaId": {"999"}, "rows": {`[{"name":"x"}]`}}, tabular.CodeInvalidSchema},
		{"no rows", url.Values{"action": {"saveTable"}, "schemaId": {schemaID}, "rows": {`[]`}}, tabular.CodeEmptyRows},
		{"bad row", url.Values{"action": {"saveTable"}, "schemaId": {schemaID}, "rows": {`[{"qty":1}]`}}, tabular.CodeRequired},
		{"bad table id", url.Values{"action": {"loadTable"}, "tableId": {"abc"}}, ajaxInvalidTableID},
		{"missing table", url.Values{"action": {"loadTable"}, "tableId": {"999"}}, ajaxTableNotFound},
		{"missing schema load", url.Values{"action": {"loadSchema"}, "schemaId": {"999"}}, ajaxSchemaNotFound},
		{"duplicate code", url.Values{"action": {"saveSchema"}, "schemaName": {"Dup"},
			"columns": {`[{"code":"a","title":"A","type":"text"},{"code":"a","title":"B","type":"text"}]`}}, tabular.CodeDuplicateCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := env.ajax(t, tt.form)
			if res.Status != model.AjaxStatusError {
				t.Fatalf("expected an error, got %+v", res)
			}
			if res.firstCode() != tt.code {
				t.Errorf("code = %q, want %q (%+v)", res.firstCode(), tt.code, res.Errors)
			}
		})
	}

	res := env.ajax(t, url.Values{"action": {"dance"}})
	if res.Status != model.AjaxStatusError || !strings.Contains(res.Message, "dance") {
		t.Errorf("unknown action: %+v", res)
	}
}

func TestAjax_NonAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	sc, foreign := env.seedTable(t)
	env.asUser(t, "user@example.com")
	schemaID := fmt.Sprint(sc.ID)

	res := env.ajax(t, url.Values{"action": {"get_tables_list"}})
	if res.Status != model.AjaxStatusError || res.Message == "" {
		t.Errorf("get_tables_list should be admin only: %+v", res)
	}
	res = env.ajax(t, url.Values{"action": {"saveSchema"}, "schemaName": {"X"}, "columns": {`[{"code":"a","title":"A","type":"text"}]`}})
	if res.firstCode() != ajaxAccessDenied {
		t.Errorf("saveSchema should be admin only: %+v", res)
	}
	res = env.ajax(t, url.Values{"action": {"loadTable"}, "tableId": {fmt.Sprint(foreign.ID)}})
	if res.firstCode() != ajaxAccessDenied {
		t.Errorf("loadTable of a foreign table: %+v", res)
	}

	// A created table belongs to its creator.
	res = env.ajax(t, url.Values{"action": {"saveTable"}, "schemaId": {schemaID}, "rows": {`[{"name":"Mine"}]`}})
	if res.Status != model.AjaxStatusSuccess {
		t.Fatalf("saveTable: %+v", res)
	}
	res = env.ajax(t, url.Values{"action": {"loadTable"}, "tableId": {fmt.Sprint(res.Data["ID"])}})
	if res.Status != model.AjaxStatusSuccess {
		t.Errorf("creator should read the new table: %+v", res)
	}
}

func TestAjax_JSONBody(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	sc, _ := env.seedTable(t)

	rr := env.do(t, "POST", "/api/v1/ajax", toJSON(t, map[string]interface{}{
		"action":    "saveTable",
		"schema_id": sc.ID,
		"rows":      []map[string]interface{}{{"name": "Inline", "qty": 1}},
	}))
	assertStatus(t, rr, http.StatusOK)
	var res ajaxResult
	decodeJSON(t, rr, &res)
	if res.Status != model.AjaxStatusSuccess || res.Data["ROWS_COUNT"] != float64(1) {
		t.Errorf("json body: %+v", res)
	}
}

// ---------------------------------------------------------------------------
// OpenAPI
// ---------------------------------------------------------------------------

func TestServeSpec(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	env.seedTable(t)

	req := httptest.NewRequest("GET", "/openapi.json", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assertStatus(t, rr, http.StatusOK)

	var doc struct {
		OpenAPI string `json:"openapi"`
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
		Components struct {
			Schemas map[string]interface{} `json:"schemas"`
		} `json:"components"`
	}
	decodeJSON(t, rr, &doc)
	if doc.OpenAPI != "3.0.3" {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "https://example.com" {
		t.Errorf("servers = %+v", doc.Servers)
	}
	if _, ok := doc.Components.Schemas["Row_Products"]; !ok {
		t.Errorf("missing Row_Products component")
	}
}
