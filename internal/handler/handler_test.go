package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/connector/sqlite"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/server/middleware"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/transfer"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *config.Store
	authSvc *service.AuthService
	tables  *service.TableService
	perms   *service.PermissionService
	router  chi.Router

	// principal is attached to every request when set.
	principal *middleware.Principal
}

// newTestEnv creates a fresh test environment with an in-memory config store
// and a Chi router with every handler mounted. Authentication middleware is
// replaced by the env's principal.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := connector.NewRegistry()
	registry.RegisterDriver("sqlite", sqlite.New)
	t.Cleanup(registry.CloseAll)

	e := &testEnv{
		store:   store,
		authSvc: service.NewAuthService(store, testJWTSecret),
		tables:  service.NewTableService(store, nil, nil, nil, service.TableOptions{}),
		perms:   service.NewPermissionService(store),
	}
	publish := service.NewPublishService(e.tables, registry)

	sys := NewSystemHandler(store, e.authSvc, publish)
	schemas := NewSchemaHandler(e.tables)
	tables := NewTableHandler(e.tables, e.perms)
	xfer := NewTransferHandler(transfer.New(e.tables, nil, nil))
	perms := NewPermissionHandler(e.perms)
	pub := NewPublishHandler(publish)
	ajax := NewAjaxHandler(e.tables, e.perms)
	spec := NewOpenAPIHandler(e.tables, "test")

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if e.principal != nil {
				r = r.WithContext(middleware.WithPrincipal(r.Context(), e.principal))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/openapi.json", spec.ServeSpec)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/system", func(r chi.Router) {
			r.Post("/login", sys.Login)
			r.Get("/me", sys.Me)
			r.Get("/users", sys.ListUsers)
			r.Post("/users", sys.CreateUser)
			r.Delete("/users/{userID}", sys.DeleteUser)
			r.Get("/api-keys", sys.ListAPIKeys)
			r.Post("/api-keys", sys.CreateAPIKey)
			r.Delete("/api-keys/{keyID}", sys.RevokeAPIKey)
			r.Get("/sources", sys.ListSources)
			r.Post("/sources", sys.CreateSource)
			r.Delete("/sources/{name}", sys.DeleteSource)
			r.Post("/sources/{name}/test", sys.TestSource)
		})
		r.Post("/ajax", ajax.Handle)
		r.Get("/me/tables", perms.MyTables)

		r.Route("/schemas", func(r chi.Router) {
			r.Get("/", schemas.ListSchemas)
			r.Post("/", schemas.CreateSchema)
			r.Get("/{id}", schemas.GetSchema)
			r.Put("/{id}", schemas.UpdateSchema)
			r.Delete("/{id}", schemas.DeleteSchema)
			r.Get("/{id}/validation", schemas.GetValidationSchema)
			r.Get("/{id}/revisions", schemas.ListRevisions)
			r.Post("/{id}/diff", schemas.DiffSchema)
		})

		r.Route("/tables", func(r chi.Router) {
			r.Get("/", tables.ListTables)
			r.Post("/", tables.CreateTable)
			r.Post("/import", xfer.ImportDocument)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", tables.GetTable)
				r.Patch("/", tables.UpdateTable)
				r.Delete("/", tables.DeleteTable)
				r.Put("/owner", tables.SetOwner)
				r.Post("/copy", tables.CopyTable)
				r.Get("/stats", tables.GetStats)
				r.Get("/data", tables.GetData)
				r.Get("/search", tables.SearchRows)

				r.Get("/rows", tables.ListRows)
				r.Post("/rows", tables.CreateRows)
				r.Patch("/rows", tables.UpdateRows)
				r.Delete("/rows", tables.DeleteRows)
				r.Put("/rows/sort", tables.UpdateSort)
				r.Get("/rows/{rowID}", tables.GetRow)
				r.Put("/rows/{rowID}", tables.ReplaceRow)
				r.Patch("/rows/{rowID}", tables.PatchRow)
				r.Delete("/rows/{rowID}", tables.DeleteRow)
				r.Post("/rows/{rowID}/move", tables.MoveRow)
				r.Get("/rows/{rowID}/cells/{code}", tables.GetRowCell)
				r.Put("/rows/{rowID}/cells/{code}", tables.SetRowCell)

				r.Get("/columns", tables.ListColumns)
				r.Post("/columns", tables.AddColumn)
				r.Put("/columns/order", tables.ReorderColumns)
				r.Put("/columns/{column}", tables.UpdateColumn)
				r.Delete("/columns/{column}", tables.DeleteColumn)
				r.Post("/columns/{column}/convert", tables.ConvertColumn)

				r.Get("/cells", tables.GetMatrix)
				r.Put("/cells", tables.SetCell)
				r.Get("/cells/search", tables.SearchCells)

				r.Post("/import", xfer.Import)
				r.Get("/export", xfer.Export)

				r.Get("/permissions", perms.ListPermissions)
				r.Post("/permissions", perms.AssignRole)
				r.Post("/permissions/copy", perms.CopyPermissions)
				r.Delete("/permissions/{userID}", perms.RevokeRole)

				r.Post("/publish", pub.Publish)
			})
		})
	})
	e.router = r
	return e
}

// asAdmin makes every following request come from an admin user.
func (e *testEnv) asAdmin(t *testing.T) *model.User {
	t.Helper()
	u := e.seedUser(t, "admin@example.com", true)
	e.principal = &middleware.Principal{UserID: u.ID, Email: u.Email, IsAdmin: true, Type: middleware.PrincipalJWT}
	return u
}

// asUser makes every following request come from a regular user.
func (e *testEnv) asUser(t *testing.T, email string) *model.User {
	t.Helper()
	u := e.seedUser(t, email, false)
	e.principal = &middleware.Principal{UserID: u.ID, Email: u.Email, Type: middleware.PrincipalJWT}
	return u
}

func (e *testEnv) seedUser(t *testing.T, email string, admin bool) *model.User {
	t.Helper()
	u, err := e.authSvc.CreateUser(context.Background(), email, "Test User", testPassword, admin)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func productColumns() []model.SchemaColumn {
	return []model.SchemaColumn{
		{Code: "name", Title: "Name", Type: model.TypeText, Sort: 100, Required: true},
		{Code: "price", Title: "Price", Type: model.TypeFloat, Sort: 200},
		{Code: "qty", Title: "Quantity", Type: model.TypeNumber, Sort: 300},
	}
}

// seedTable creates a product schema and a table using it.
func (e *testEnv) seedTable(t *testing.T) (*model.TableSchema, *model.Table) {
	t.Helper()
	ctx := context.Background()
	sc, err := e.tables.CreateSchema(ctx, "Products", "catalog", productColumns())
	if err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	tbl, err := e.tables.CreateTable(ctx, service.TableInput{Title: "Stock", SchemaID: &sc.ID, OwnerID: 10})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return sc, tbl
}

func (e *testEnv) seedRows(t *testing.T, tableID int64) []model.Row {
	t.Helper()
	rows, err := e.tables.BulkInsertRows(context.Background(), tableID, []service.RowInput{
		{Data: map[string]interface{}{"name": "Pen", "price": 1.5, "qty": 10}},
		{Data: map[string]interface{}{"name": "Ink", "price": 7.25, "qty": 2}},
		{Data: map[string]interface{}{"name": "Paper", "price": 3, "qty": 500}},
	})
	if err != nil {
		t.Fatalf("BulkInsertRows: %v", err)
	}
	return rows
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// toJSON marshals v into a request body.
func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return bytes.NewBuffer(b)
}

// assertStatus fails the test if the recorder's status code doesn't match.
func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d; body: %s", want, rr.Code, rr.Body.String())
	}
}

// decodeJSON unmarshals the response body into v.
func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response JSON: %v; body: %s", err, rr.Body.String())
	}
}

// errorCodes returns the validation codes carried in an error response.
func errorCodes(t *testing.T, rr *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp struct {
		Error struct {
			Context struct {
				Errors []struct {
					Code string `json:"code"`
				} `json:"errors"`
			} `json:"context"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &resp)
	var out []string
	for _, e := range resp.Error.Context.Errors {
		out = append(out, e.Code)
	}
	return out
}
