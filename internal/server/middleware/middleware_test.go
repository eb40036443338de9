package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/service"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("expected non-empty request ID in context")
		}
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))

	if respID := rr.Header().Get("X-Request-ID"); len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q", respID)
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	rr := httptest.NewRecorder()
	RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "trace-123" {
		t.Errorf("X-Request-ID = %q, want trace-123", got)
	}
}

func TestRequestIDReplacesUnsafeClientID(t *testing.T) {
	for _, id := range []string{"has space", "line\nbreak", strings.Repeat("x", 200)} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", id)
		rr := httptest.NewRecorder()
		RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rr, req)

		if got := rr.Header().Get("X-Request-ID"); got == id || len(got) != 36 {
			t.Errorf("client ID %q should be replaced, got %q", id, got)
		}
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// Logger
// ---------------------------------------------------------------------------

func TestLoggerRecordsStatusAndUser(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		noteUser(r.Context(), 7)
		w.WriteHeader(http.StatusNotFound)
	})
	rr := httptest.NewRecorder()
	Logger(logger)(inner).ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/tables/9", nil))

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"status":404`, `"user_id":7`, `"path":"/api/v1/tables/9"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

type authFixture struct {
	auth   *service.AuthService
	perms  *service.PermissionService
	tables *service.TableService
	admin  *model.User
	viewer *model.User
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &authFixture{
		auth:   service.NewAuthService(store, "middleware-secret"),
		perms:  service.NewPermissionService(store),
		tables: service.NewTableService(store, nil, nil, nil, service.TableOptions{}),
	}
	ctx := context.Background()
	if f.admin, err = f.auth.CreateUser(ctx, "admin@example.com", "Admin", "pw-admin", true); err != nil {
		t.Fatalf("CreateUser admin: %v", err)
	}
	if f.viewer, err = f.auth.CreateUser(ctx, "viewer@example.com", "Viewer", "pw-viewer", false); err != nil {
		t.Fatalf("CreateUser viewer: %v", err)
	}
	return f
}

func principalEcho(got **Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateWithAPIKey(t *testing.T) {
	f := newAuthFixture(t)
	raw, key, err := f.auth.CreateAPIKey(context.Background(), f.viewer.ID, "ci", nil)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	var p *Principal
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-API-Key", raw)
	rr := httptest.NewRecorder()
	Authenticate(f.auth)(principalEcho(&p)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if p == nil || p.UserID != f.viewer.ID || p.Type != PrincipalAPIKey || p.KeyID != key.ID || p.IsAdmin {
		t.Errorf("unexpected principal %+v", p)
	}
}

func TestAuthenticateWithJWT(t *testing.T) {
	f := newAuthFixture(t)
	token, err := f.auth.IssueJWT(context.Background(), f.admin, time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	var p *Principal
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	Authenticate(f.auth)(principalEcho(&p)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if p == nil || p.UserID != f.admin.ID || p.Type != PrincipalJWT || !p.IsAdmin {
		t.Errorf("unexpected principal %+v", p)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	f := newAuthFixture(t)
	cases := map[string]func(*http.Request){
		"no credentials": func(r *http.Request) {},
		"bad key":        func(r *http.Request) { r.Header.Set("X-API-Key", "tables_nope") },
		"bad token":      func(r *http.Request) { r.Header.Set("Authorization", "Bearer not-a-jwt") },
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			setup(req)
			rr := httptest.NewRecorder()
			Authenticate(f.auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("inner handler must not run")
			})).ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
			if !strings.Contains(rr.Body.String(), `"code":401`) {
				t.Errorf("unexpected body %s", rr.Body.String())
			}
		})
	}
}

// ---------------------------------------------------------------------------
// RequireAdmin middleware tests
// ---------------------------------------------------------------------------

func TestRequireAdmin(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	cases := []struct {
		name      string
		principal *Principal
		want      int
	}{
		{"admin", &Principal{UserID: 1, IsAdmin: true, Type: PrincipalJWT}, http.StatusOK},
		{"user", &Principal{UserID: 2, Type: PrincipalAPIKey}, http.StatusForbidden},
		{"anonymous", nil, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/admin", nil)
		if tc.principal != nil {
			req = req.WithContext(WithPrincipal(req.Context(), tc.principal))
		}
		rr := httptest.NewRecorder()
		RequireAdmin()(inner).ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, rr.Code, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Table access
// ---------------------------------------------------------------------------

func TestActionForMethod(t *testing.T) {
	cases := map[string]model.Action{
		http.MethodGet:    model.ActionRead,
		http.MethodPost:   model.ActionWrite,
		http.MethodPut:    model.ActionWrite,
		http.MethodPatch:  model.ActionWrite,
		http.MethodDelete: model.ActionDelete,
	}
	for method, want := range cases {
		if got := ActionForMethod(method); got != want {
			t.Errorf("ActionForMethod(%s) = %s, want %s", method, got, want)
		}
	}
}

func TestRequireTableAccess(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	tbl, err := f.tables.CreateTable(ctx, service.TableInput{Title: "Shared"})
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := f.perms.AssignRole(ctx, tbl.ID, f.viewer.ID, model.RoleViewer); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	r := chi.NewRouter()
	r.Route("/tables/{id}", func(r chi.Router) {
		r.Use(RequireTableAccess(f.perms, ""))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		r.Delete("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	})

	do := func(method, path string, p *Principal) int {
		req := httptest.NewRequest(method, path, nil)
		if p != nil {
			req = req.WithContext(WithPrincipal(req.Context(), p))
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	path := "/tables/" + strconv.FormatInt(tbl.ID, 10) + "/"
	viewer := &Principal{UserID: f.viewer.ID}
	admin := &Principal{UserID: f.admin.ID, IsAdmin: true}

	if got := do("GET", path, viewer); got != http.StatusOK {
		t.Errorf("viewer GET = %d, want 200", got)
	}
	if got := do("DELETE", path, viewer); got != http.StatusForbidden {
		t.Errorf("viewer DELETE = %d, want 403", got)
	}
	if got := do("DELETE", path, admin); got != http.StatusNoContent {
		t.Errorf("admin DELETE = %d, want 204", got)
	}
	if got := do("GET", "/tables/abc/", viewer); got != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", got)
	}
	if got := do("GET", path, nil); got != http.StatusUnauthorized {
		t.Errorf("anonymous = %d, want 401", got)
	}
}
