package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/tabular"
)

// ---------------------------------------------------------------------------
// Schemas
// ---------------------------------------------------------------------------

func TestSchemaCRUD(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	rr := env.do(t, "POST", "/api/v1/schemas", toJSON(t, map[string]interface{}{
		"name":        "Products",
		"description": "catalog",
		"columns":     productColumns(),
	}))
	assertStatus(t, rr, http.StatusCreated)
	var sc model.TableSchema
	decodeJSON(t, rr, &sc)
	if sc.ID == 0 || len(sc.Columns) != 3 {
		t.Fatalf("unexpected schema: %+v", sc)
	}

	rr = env.do(t, "GET", "/api/v1/schemas", nil)
	assertStatus(t, rr, http.StatusOK)
	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 1 || list.Resource[0]["columns_count"] != float64(3) {
		t.Errorf("unexpected list: %v", list.Resource)
	}

	cols := append(productColumns(), model.SchemaColumn{Code: "sku", Title: "SKU", Type: model.TypeText, Sort: 400})
	rr = env.do(t, "PUT", fmt.Sprintf("/api/v1/schemas/%d", sc.ID), toJSON(t, map[string]interface{}{
		"name":    "Products",
		"columns": cols,
	}))
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"sku"`) {
		t.Errorf("update response should report the added column: %s", rr.Body.String())
	}

	rr = env.do(t, "GET", fmt.Sprintf("/api/v1/schemas/%d/revisions", sc.ID), nil)
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "GET", fmt.Sprintf("/api/v1/schemas/%d/validation", sc.ID), nil)
	assertStatus(t, rr, http.StatusOK)
	var rules map[string]interface{}
	decodeJSON(t, rr, &rules)
	if _, ok := rules["name"]; !ok {
		t.Errorf("expected a rule for name: %v", rules)
	}

	rr = env.do(t, "DELETE", fmt.Sprintf("/api/v1/schemas/%d", sc.ID), nil)
	assertStatus(t, rr, http.StatusOK)
	rr = env.do(t, "GET", fmt.Sprintf("/api/v1/schemas/%d", sc.ID), nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestCreateSchema_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	tests := []struct {
		name string
		body map[string]interface{}
		code string
	}{
		{"empty name", map[string]interface{}{"name": "", "columns": productColumns()}, tabular.CodeEmptyName},
		{"no columns", map[string]interface{}{"name": "X"}, tabular.CodeEmptyColumns},
		{"duplicate code", map[string]interface{}{"name": "X", "columns": []model.SchemaColumn{
			{Code: "a", Title: "A", Type: model.TypeText},
			{Code: "a", Title: "B", Type: model.TypeText},
		}}, tabular.CodeDuplicateCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/schemas", toJSON(t, tt.body))
			assertStatus(t, rr, http.StatusUnprocessableEntity)
			found := false
			for _, c := range errorCodes(t, rr) {
				if c == tt.code {
					found = true
				}
			}
			if !found {
				t.Errorf("expected code %s in %s", tt.code, rr.Body.String())
			}
		})
	}
}

func TestDeleteSchema_InUse(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	sc, _ := env.seedTable(t)

	rr := env.do(t, "DELETE", fmt.Sprintf("/api/v1/schemas/%d", sc.ID), nil)
	assertStatus(t, rr, http.StatusConflict)
}

func TestDiffSchema(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	sc, _ := env.seedTable(t)

	cols := productColumns()[:2]
	cols[1].Type = model.TypeText
	rr := env.do(t, "POST", fmt.Sprintf("/api/v1/schemas/%d/diff", sc.ID), toJSON(t, map[string]interface{}{
		"name":    sc.Name,
		"columns": cols,
	}))
	assertStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	if !strings.Contains(body, `"qty"`) || !strings.Contains(body, `"price"`) {
		t.Errorf("diff should mention the removed and retyped columns: %s", body)
	}

	got, err := env.tables.GetSchema(context.Background(), sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Columns) != 3 {
		t.Error("diff must not modify the stored schema")
	}
}

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

func TestTableCRUD(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	sc, _ := env.seedTable(t)

	rr := env.do(t, "POST", "/api/v1/tables", toJSON(t, map[string]interface{}{
		"title":      "Orders",
		"schema_id":  sc.ID,
		"owner_type": "CRM_DEAL",
		"owner_id":   77,
	}))
	assertStatus(t, rr, http.StatusCreated)
	var tbl model.Table
	decodeJSON(t, rr, &tbl)

	rr = env.do(t, "GET", "/api/v1/tables?owner_type=CRM_DEAL&owner_id=77", nil)
	assertStatus(t, rr, http.StatusOK)
	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 1 || list.Meta.Total == nil || *list.Meta.Total != 1 {
		t.Fatalf("owner filter: %+v", list)
	}

	rr = env.do(t, "GET", fmt.Sprintf("/api/v1/tables/%d", tbl.ID), nil)
	assertStatus(t, rr, http.StatusOK)
	var info model.TableInfo
	decodeJSON(t, rr, &info)
	if info.Table.Title != "Orders" || info.ColumnsCount != 3 {
		t.Errorf("unexpected info: %+v", info)
	}

	rr = env.do(t, "PATCH", fmt.Sprintf("/api/v1/tables/%d", tbl.ID), toJSON(t, map[string]interface{}{"title": "Deals"}))
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "PUT", fmt.Sprintf("/api/v1/tables/%d/owner", tbl.ID), toJSON(t, map[string]interface{}{
		"owner_type": "CRM_DEAL",
		"owner_id":   78,
	}))
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &tbl)
	if tbl.OwnerID != 78 || tbl.Title != "Deals" {
		t.Errorf("unexpected table after owner change: %+v", tbl)
	}

	rr = env.do(t, "DELETE", fmt.Sprintf("/api/v1/tables/%d", tbl.ID), nil)
	assertStatus(t, rr, http.StatusOK)
	rr = env.do(t, "GET", fmt.Sprintf("/api/v1/tables/%d", tbl.ID), nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestCreateTable_NonAdminOwnsTable(t *testing.T) {
	env := newTestEnv(t)
	u := env.asUser(t, "user@example.com")

	rr := env.do(t, "POST", "/api/v1/tables", toJSON(t, map[string]interface{}{
		"title":   "Notes",
		"columns": []model.SchemaColumn{{Code: "text", Title: "Text", Type: model.TypeText}},
	}))
	assertStatus(t, rr, http.StatusCreated)
	var tbl model.Table
	decodeJSON(t, rr, &tbl)
	if tbl.OwnerType != model.OwnerTypeUser || tbl.OwnerID != u.ID {
		t.Errorf("expected USER ownership by %d, got %s/%d", u.ID, tbl.OwnerType, tbl.OwnerID)
	}

	// A table owned by someone else stays invisible.
	env.seedTable(t)
	rr = env.do(t, "GET", "/api/v1/tables", nil)
	assertStatus(t, rr, http.StatusOK)
	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 1 || list.Resource[0]["title"] != "Notes" {
		t.Errorf("non-admin should only see own tables, got %v", list.Resource)
	}
}

func TestCopyTableAndStats(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	_, tbl := env.seedTable(t)
	env.seedRows(t, tbl.ID)

	rr := env.do(t, "POST", fmt.Sprintf("/api/v1/tables/%d/copy", tbl.ID), nil)
	assertStatus(t, rr, http.StatusCreated)
	var cp model.Table
	decodeJSON(t, rr, &cp)
	if cp.ID == tbl.ID {
		t.Fatal("copy should be a new table")
	}

	rr = env.do(t, "GET", fmt.Sprintf("/api/v1/tables/%d/stats", cp.ID), nil)
	assertStatus(t, rr, http.StatusOK)
	var stats model.TableStats
	decodeJSON(t, rr, &stats)
	if stats.RowsCount != 3 || stats.ColumnsCount != 3 {
		t.Errorf("copied stats: %+v", stats)
	}

	rr = env.do(t, "POST", fmt.Sprintf("/api/v1/tables/%d/copy", tbl.ID), strings.NewReader(`{"title":"Empty","with_data":false}`))
	assertStatus(t, rr, http.StatusCreated)
	decodeJSON(t, rr, &cp)
	rr = env.do(t, "GET", fmt.Sprintf("/api/v1/tables/%d/stats", cp.ID), nil)
	decodeJSON(t, rr, &stats)
	if stats.RowsCount != 0 || cp.Title != "Empty" {
		t.Errorf("copy without data: %+v %+v", cp, stats)
	}

	rr = env.do(t, "GET", fmt.Sprintf("/api/v1/tables/%d/data?page=1&limit=2", tbl.ID), nil)
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Rows
// ---------------------------------------------------------------------------

func TestRowLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	_, tbl := env.seedTable(t)
	base := fmt.Sprintf("/api/v1/tables/%d/rows", tbl.ID)

	// Single row with values at the top level.
	rr := env.do(t, "POST", base, strings.NewReader(`{"name":"Pen","price":"1.5","qty":3}`))
	assertStatus(t, rr, http.StatusCreated)
	var row model.Row
	decodeJSON(t, rr, &row)
	if row.Data["price"] != 1.5 {
		t.Errorf("price should be coerced to a number, got %#v", row.Data["price"])
	}

	// Several rows go in together.
	rr = env.do(t, "POST", base, toJSON(t, []map[string]interface{}{
		{"data": map[string]interface{}{"name": "Ink", "qty": 2}},
		{"data": map[string]interface{}{"name": "Paper", "qty": 500}},
	}))
	assertStatus(t, rr, http.StatusCreated)

	// A bad row rejects the whole batch.
	rr = env.do(t, "POST", base, toJSON(t, map[string]interface{}{
		"resource": []map[string]interface{}{
			{"data": map[string]interface{}{"name": "Ok"}},
			{"data": map[string]interface{}{"qty": 1}},
		},
	}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, "GET", base+"?filter=qty%20%3E%3D%203&order=qty%20DESC", nil)
	assertStatus(t, rr, http.StatusOK)
	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 2 || *list.Meta.Total != 2 {
		t.Fatalf("filtered rows: %+v", list)
	}
	first := list.Resource[0]["data"].(map[string]interface{})
	if first["name"] != "Paper" {
		t.Errorf("expected Paper first, got %v", first)
	}

	rowPath := fmt.Sprintf("%s/%d", base, row.ID)
	rr = env.do(t, "PATCH", rowPath, toJSON(t, map[string]interface{}{"data": map[string]interface{}{"qty": 9}}))
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &row)
	if row.Data["name"] != "Pen" || row.Data["qty"] != float64(9) {
		t.Errorf("patch should merge: %v", row.Data)
	}

	rr = env.do(t, "PUT", rowPath, toJSON(t, map[string]interface{}{"data": map[string]interface{}{"name": "Pencil"}}))
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &row)
	if _, kept := row.Data["qty"]; kept {
		t.Errorf("put should replace the data: %v", row.Data)
	}

	rr = env.do(t, "PUT", rowPath+"/cells/qty", strings.NewReader(`{"value":"12"}`))
	assertStatus(t, rr, http.StatusOK)
	rr = env.do(t, "GET", rowPath+"/cells/qty", nil)
	assertStatus(t, rr, http.StatusOK)
	var cell map[string]interface{}
	decodeJSON(t, rr, &cell)
	if cell["value"] != float64(12) {
		t.Errorf("cell value = %v", cell["value"])
	}
	rr = env.do(t, "PUT", rowPath+"/cells/nope", strings.NewReader(`{"value":1}`))
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, "POST", rowPath+"/move", strings.NewReader(`{"direction":"sideways"}`))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "GET", fmt.Sprintf("/api/v1/tables/%d/search?q=pap", tbl.ID), nil)
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 1 {
		t.Errorf("search: %v", list.Resource)
	}

	rr = env.do(t, "DELETE", rowPath, nil)
	assertStatus(t, rr, http.StatusOK)
	rr = env.do(t, "GET", rowPath, nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestListRows_ETag(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	_, tbl := env.seedTable(t)
	env.seedRows(t, tbl.ID)
	path := fmt.Sprintf("/api/v1/tables/%d/rows", tbl.ID)

	rr := env.do(t, "GET", path, nil)
	assertStatus(t, rr, http.StatusOK)
	tag := rr.Header().Get("ETag")
	if tag == "" {
		t.Fatal("expected an ETag")
	}

	req, _ := http.NewRequest("GET", path, nil)
	req.Header.Set("If-None-Match", tag)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusNotModified)

	env.seedRows(t, tbl.ID)
	rr = env.do(t, "GET", path, nil)
	if rr.Header().Get("ETag") == tag {
		t.Error("ETag should change when rows change")
	}
}

func TestListRows_BadFilter(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	_, tbl := env.seedTable(t)

	rr := env.do(t, "GET", fmt.Sprintf("/api/v1/tables/%d/rows?filter=price%%20%%3E%%3E%%3E%%201", tbl.ID), nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestBulkRowOperations(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	_, tbl := env.seedTable(t)
	rows := env.seedRows(t, tbl.ID)
	base := fmt.Sprintf("/api/v1/tables/%d/rows", tbl.ID)

	rr := env.do(t, "PATCH", base, toJSON(t, map[string]interface{}{
		"resource": []map[string]interface{}{
			{"id": rows[0].ID, "data": map[string]interface{}{"qty": 1}},
			{"id": rows[1].ID, "data": map[string]interface{}{"qty": "many"}},
		},
	}))
	assertStatus(t, rr, http.StatusOK)
	var res model.BulkResult
	decodeJSON(t, rr, &res)
	if res.SuccessCount != 1 || res.ErrorCount != 1 {
		t.Errorf("bulk update: %+v", res)
	}

	rr = env.do(t, "PUT", base+"/sort", toJSON(t, map[string]interface{}{
		"resource": []map[string]interface{}{{"id": rows[2].ID, "sort": 1}},
	}))
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "DELETE", fmt.Sprintf("%s?ids=%d,%d", base, rows[0].ID, rows[1].ID), nil)
	assertStatus(t, rr, http.StatusOK)
	var del map[string]interface{}
	decodeJSON(t, rr, &del)
	if del["deleted"] != float64(2) {
		t.Errorf("deleted = %v", del["deleted"])
	}

	rr = env.do(t, "DELETE", base+"?ids=1,x", nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestRowOfOtherTableIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	_, a := env.seedTable(t)
	sc, err := env.tables.GetSchema(context.Background(), *a.SchemaID)
	if err != nil {
		t.Fatal(err)
	}
	b := createTableFor(t, env, sc.ID)
	rows := env.seedRows(t, a.ID)

	rr := env.do(t, "GET", fmt.Sprintf("/api/v1/tables/%d/rows/%d", b.ID, rows[0].ID), nil)
	assertStatus(t, rr, http.StatusNotFound)
	rr = env.do(t, "DELETE", fmt.Sprintf("/api/v1/tables/%d/rows/%d", b.ID, rows[0].ID), nil)
	assertStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// Legacy columns and cells
// ---------------------------------------------------------------------------

func TestLegacyColumnsAndCells(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	rr := env.do(t, "POST", "/api/v1/tables", toJSON(t, map[string]interface{}{"title": "Free form"}))
	assertStatus(t, rr, http.StatusCreated)
	var tbl model.Table
	decodeJSON(t, rr, &tbl)
	base := fmt.Sprintf("/api/v1/tables/%d", tbl.ID)

	rr = env.do(t, "POST", base+"/columns", toJSON(t, map[string]interface{}{"code": "city", "type": "text", "title": "City"}))
	assertStatus(t, rr, http.StatusCreated)
	var city model.Column
	decodeJSON(t, rr, &city)
	rr = env.do(t, "POST", base+"/columns", toJSON(t, map[string]interface{}{"code": "pop", "type": "number", "title": "Population"}))
	assertStatus(t, rr, http.StatusCreated)
	var pop model.Column
	decodeJSON(t, rr, &pop)

	rr = env.do(t, "PUT", base+"/columns/order", toJSON(t, map[string]interface{}{"ids": []int64{pop.ID, city.ID}}))
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "POST", base+"/rows", strings.NewReader(`{"city":"Kazan","pop":"1300000"}`))
	assertStatus(t, rr, http.StatusCreated)
	var row model.Row
	decodeJSON(t, rr, &row)

	rr = env.do(t, "PUT", base+"/cells", toJSON(t, map[string]interface{}{"row_id": row.ID, "column_id": city.ID, "value": "Samara"}))
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "GET", base+"/cells/search?q=sam", nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "Samara") {
		t.Errorf("search should find the new value: %s", rr.Body.String())
	}

	rr = env.do(t, "GET", base+"/cells", nil)
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "PUT", fmt.Sprintf("%s/columns/%d", base, city.ID), toJSON(t, map[string]interface{}{"title": "Town"}))
	assertStatus(t, rr, http.StatusOK)
	var renamed model.Column
	decodeJSON(t, rr, &renamed)
	if renamed.Title != "Town" {
		t.Errorf("title = %q", renamed.Title)
	}

	rr = env.do(t, "DELETE", fmt.Sprintf("%s/columns/%d", base, city.ID), nil)
	assertStatus(t, rr, http.StatusOK)
	rr = env.do(t, "DELETE", fmt.Sprintf("%s/columns/%d", base, city.ID), nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func createTableFor(t *testing.T, env *testEnv, schemaID int64) *model.Table {
	t.Helper()
	rr := env.do(t, "POST", "/api/v1/tables", toJSON(t, map[string]interface{}{"title": "Other", "schema_id": schemaID}))
	assertStatus(t, rr, http.StatusCreated)
	var tbl model.Table
	decodeJSON(t, rr, &tbl)
	return &tbl
}
