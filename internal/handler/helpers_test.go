package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/tabular"
	"github.com/grebion/tables/internal/transfer"
)

// ---------------------------------------------------------------------------
// queryInt tests
// ---------------------------------------------------------------------------

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		key        string
		defaultVal int
		want       int
	}{
		{"returns default for missing param", "/test", "limit", 25, 25},
		{"parses integer param", "/test?limit=100", "limit", 25, 100},
		{"returns default for non-integer", "/test?limit=abc", "limit", 25, 25},
		{"parses zero", "/test?offset=0", "offset", 10, 0},
		{"parses negative", "/test?offset=-5", "offset", 0, -5},
		{"returns default for empty value", "/test?limit=", "limit", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryInt(r, tt.key, tt.defaultVal)
			if got != tt.want {
				t.Errorf("queryInt(%q, %d) = %d, want %d", tt.key, tt.defaultVal, got, tt.want)
			}
		})
	}
}

func TestQueryInt64(t *testing.T) {
	r := httptest.NewRequest("GET", "/test?owner_id=42&bad=x", nil)

	got, err := queryInt64(r, "owner_id")
	if err != nil || got == nil || *got != 42 {
		t.Errorf("queryInt64(owner_id) = %v, %v", got, err)
	}
	if got, err := queryInt64(r, "missing"); got != nil || err != nil {
		t.Errorf("missing param should give nil, nil; got %v, %v", got, err)
	}
	if _, err := queryInt64(r, "bad"); err == nil {
		t.Error("expected an error for a non-integer value")
	}
}

// ---------------------------------------------------------------------------
// queryBool tests
// ---------------------------------------------------------------------------

func TestQueryBool(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		defaultVal bool
		want       bool
	}{
		{"true for 'true'", "/test?has_header=true", false, true},
		{"true for '1'", "/test?has_header=1", false, true},
		{"true for 'Y'", "/test?has_header=Y", false, true},
		{"false for 'false'", "/test?has_header=false", true, false},
		{"false for '0'", "/test?has_header=0", true, false},
		{"default for missing", "/test", true, true},
		{"default for empty", "/test?has_header=", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryBool(r, "has_header", tt.defaultVal)
			if got != tt.want {
				t.Errorf("queryBool(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// queryString tests
// ---------------------------------------------------------------------------

func TestQueryString(t *testing.T) {
	tests := []struct {
		name string
		url  string
		key  string
		want string
	}{
		{"returns value", "/test?filter=qty>21", "filter", "qty>21"},
		{"returns empty for missing", "/test", "filter", ""},
		{"returns empty string for empty", "/test?filter=", "filter", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			got := queryString(r, tt.key)
			if got != tt.want {
				t.Errorf("queryString(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// pathID tests
// ---------------------------------------------------------------------------

func TestPathID(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"7", 7, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", tt.raw)
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

			got, err := pathID(r, "id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("pathID(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("pathID(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// clampInt tests
// ---------------------------------------------------------------------------

func TestClampInt(t *testing.T) {
	tests := []struct {
		name string
		val  int
		min  int
		max  int
		want int
	}{
		{"within range", 50, 0, 100, 50},
		{"at min", 0, 0, 100, 0},
		{"at max", 100, 0, 100, 100},
		{"below min clamps to min", -5, 0, 100, 0},
		{"above max clamps to max", 500, 0, 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clampInt(tt.val, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// toResources tests
// ---------------------------------------------------------------------------

func TestToResources(t *testing.T) {
	type item struct{ name string }
	conv := func(i *item) map[string]interface{} { return map[string]interface{}{"name": i.name} }

	result := toResources([]item{{"users"}, {"orders"}}, conv)
	if len(result) != 2 || result[0]["name"] != "users" || result[1]["name"] != "orders" {
		t.Errorf("toResources = %v", result)
	}
	if result := toResources(nil, conv); result == nil || len(result) != 0 {
		t.Errorf("expected an empty non-nil slice, got %#v", result)
	}
}

// ---------------------------------------------------------------------------
// writeError / writeJSON tests
// ---------------------------------------------------------------------------

func TestWriteError(t *testing.T) {
	t.Run("writes JSON error response", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, http.StatusBadRequest, "Invalid input")

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body := w.Body.String()
		if !strings.Contains(body, `"code":400`) {
			t.Errorf("expected code 400 in body: %s", body)
		}
		if !strings.Contains(body, `"message":"Invalid input"`) {
			t.Errorf("expected message in body: %s", body)
		}
	})
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	if !strings.Contains(w.Body.String(), `"hello":"world"`) {
		t.Errorf("expected JSON body, got: %s", w.Body.String())
	}
}

func TestWriteJSONWithETag(t *testing.T) {
	payload := map[string]interface{}{"rows": []int{1, 2, 3}}

	first := httptest.NewRecorder()
	writeJSONWithETag(first, httptest.NewRequest("GET", "/", nil), payload)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	tag := first.Header().Get("ETag")
	if len(tag) < 3 || tag[0] != '"' || tag[len(tag)-1] != '"' {
		t.Fatalf("expected a quoted ETag, got %q", tag)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("If-None-Match", tag)
	second := httptest.NewRecorder()
	writeJSONWithETag(second, r, payload)
	if second.Code != http.StatusNotModified {
		t.Errorf("expected 304 for a matching ETag, got %d", second.Code)
	}
	if second.Body.Len() != 0 {
		t.Errorf("304 must not carry a body, got %q", second.Body.String())
	}

	third := httptest.NewRecorder()
	writeJSONWithETag(third, httptest.NewRequest("GET", "/", nil), map[string]interface{}{"rows": []int{1}})
	if third.Header().Get("ETag") == tag {
		t.Error("different bodies should have different ETags")
	}
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", tabular.NewValidationError("name", tabular.CodeRequired, "name is required"), http.StatusUnprocessableEntity},
		{"not found", fmt.Errorf("table 4: %w", config.ErrNotFound), http.StatusNotFound},
		{"conflict", config.ErrConflict, http.StatusConflict},
		{"target exists", fmt.Errorf("%w: items", connector.ErrTargetExists), http.StatusConflict},
		{"bad query", fmt.Errorf("%w: unknown column", service.ErrInvalidQuery), http.StatusBadRequest},
		{"bad role", service.ErrInvalidRole, http.StatusBadRequest},
		{"bad encoding", transfer.ErrUnsupportedEncoding, http.StatusBadRequest},
		{"unreachable source", errors.New("dial tcp: connection refused"), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, tt.err, "Failed")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	w := httptest.NewRecorder()
	writeServiceError(w, tabular.NewValidationError("name", tabular.CodeRequired, "name is required"), "Failed")
	if codes := errorCodes(t, w); len(codes) != 1 || codes[0] != tabular.CodeRequired {
		t.Errorf("expected the validation code in the context, got %v", codes)
	}
}

func TestClassifyDBError(t *testing.T) {
	tests := []struct {
		msg  string
		want int
	}{
		{"UNIQUE constraint failed: items.id", http.StatusConflict},
		{"pq: null value in column \"name\"", http.StatusBadRequest},
		{"ERROR: schema \"wh\" does not exist", http.StatusBadRequest},
		{"ORA-01918: user does not exist", http.StatusBadRequest},
		{"permission denied for table items", http.StatusBadGateway},
		{"dial tcp: lookup db: no such host", http.StatusBadGateway},
		{"something else", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			status, msg := classifyDBError(errors.New(tt.msg), "Publish failed")
			if status != tt.want {
				t.Errorf("status = %d, want %d", status, tt.want)
			}
			if !strings.HasPrefix(msg, "Publish failed: ") {
				t.Errorf("message should carry the fallback prefix, got %q", msg)
			}
		})
	}
}
