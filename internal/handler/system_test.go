package handler

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grebion/tables/internal/model"
)

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestLogin_ValidCredentials(t *testing.T) {
	env := newTestEnv(t)
	u := env.seedUser(t, "admin@example.com", true)

	rr := env.do(t, "POST", "/api/v1/system/login", toJSON(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	}))
	assertStatus(t, rr, http.StatusOK)

	var resp loginResponse
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("expected a session token")
	}
	if resp.TokenType != "bearer" || resp.UserID != u.ID || !resp.IsAdmin {
		t.Errorf("unexpected login response: %+v", resp)
	}
	if resp.ExpiresIn != int(DefaultTokenTTL.Seconds()) {
		t.Errorf("expires_in = %d", resp.ExpiresIn)
	}

	p, err := env.authSvc.ValidateJWT(context.Background(), resp.Token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if p.UserID != u.ID {
		t.Errorf("token user = %d, want %d", p.UserID, u.ID)
	}
}

func TestLogin_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user@example.com", false)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"wrong password", `{"email":"user@example.com","password":"nope-nope"}`, http.StatusUnauthorized},
		{"unknown email", `{"email":"ghost@example.com","password":"whatever1"}`, http.StatusUnauthorized},
		{"missing password", `{"email":"user@example.com"}`, http.StatusBadRequest},
		{"invalid json", `{not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/system/login", strings.NewReader(tt.body))
			assertStatus(t, rr, tt.want)
		})
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/system/me", nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	u := env.asUser(t, "me@example.com")
	rr = env.do(t, "GET", "/api/v1/system/me", nil)
	assertStatus(t, rr, http.StatusOK)

	var me map[string]interface{}
	decodeJSON(t, rr, &me)
	if me["email"] != u.Email || me["auth_type"] != "jwt" {
		t.Errorf("unexpected me response: %v", me)
	}
	if _, leaked := me["password_hash"]; leaked {
		t.Error("password hash must not be exposed")
	}
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestUserCRUD(t *testing.T) {
	env := newTestEnv(t)
	admin := env.asAdmin(t)

	rr := env.do(t, "POST", "/api/v1/system/users", toJSON(t, map[string]interface{}{
		"email":    "editor@example.com",
		"name":     "Editor",
		"password": "longenough",
	}))
	assertStatus(t, rr, http.StatusCreated)
	var created map[string]interface{}
	decodeJSON(t, rr, &created)
	id := int64(created["id"].(float64))
	if created["is_admin"] != false {
		t.Errorf("new user should not be admin: %v", created)
	}

	rr = env.do(t, "GET", "/api/v1/system/users", nil)
	assertStatus(t, rr, http.StatusOK)
	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 2 {
		t.Errorf("expected 2 users, got %d", len(list.Resource))
	}

	rr = env.do(t, "DELETE", fmt.Sprintf("/api/v1/system/users/%d", admin.ID), nil)
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "DELETE", fmt.Sprintf("/api/v1/system/users/%d", id), nil)
	assertStatus(t, rr, http.StatusOK)

	rr = env.do(t, "DELETE", fmt.Sprintf("/api/v1/system/users/%d", id), nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestCreateUser_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"missing email", map[string]interface{}{"password": "longenough"}, http.StatusBadRequest},
		{"short password", map[string]interface{}{"email": "a@example.com", "password": "short"}, http.StatusBadRequest},
		{"duplicate email", map[string]interface{}{"email": "admin@example.com", "password": "longenough"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/system/users", toJSON(t, tt.body))
			assertStatus(t, rr, tt.want)
		})
	}
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func TestAPIKeyCRUD(t *testing.T) {
	env := newTestEnv(t)
	admin := env.asAdmin(t)

	rr := env.do(t, "POST", "/api/v1/system/api-keys", toJSON(t, map[string]interface{}{"label": "ci"}))
	assertStatus(t, rr, http.StatusCreated)
	var created map[string]interface{}
	decodeJSON(t, rr, &created)

	raw, _ := created["api_key"].(string)
	if raw == "" {
		t.Fatal("expected the plaintext key in the create response")
	}
	if int64(created["user_id"].(float64)) != admin.ID {
		t.Errorf("key should default to the caller, got user_id %v", created["user_id"])
	}
	if _, err := env.authSvc.ValidateAPIKey(context.Background(), raw); err != nil {
		t.Fatalf("created key does not validate: %v", err)
	}

	rr = env.do(t, "GET", "/api/v1/system/api-keys", nil)
	assertStatus(t, rr, http.StatusOK)
	if strings.Contains(rr.Body.String(), raw) {
		t.Error("list must not expose the plaintext key")
	}

	keyID := int64(created["id"].(float64))
	rr = env.do(t, "DELETE", fmt.Sprintf("/api/v1/system/api-keys/%d", keyID), nil)
	assertStatus(t, rr, http.StatusOK)
	if _, err := env.authSvc.ValidateAPIKey(context.Background(), raw); err == nil {
		t.Error("revoked key should no longer validate")
	}
}

func TestCreateAPIKey_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	past := time.Now().Add(-time.Hour)
	rr := env.do(t, "POST", "/api/v1/system/api-keys", toJSON(t, map[string]interface{}{"label": "old", "expires_at": past}))
	assertStatus(t, rr, http.StatusBadRequest)

	rr = env.do(t, "POST", "/api/v1/system/api-keys", toJSON(t, map[string]interface{}{"user_id": 999}))
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, "DELETE", "/api/v1/system/api-keys/abc", nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

func TestSourceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)
	dsn := filepath.Join(t.TempDir(), "warehouse.db")

	rr := env.do(t, "POST", "/api/v1/system/sources", toJSON(t, map[string]interface{}{
		"name":   "warehouse",
		"driver": "sqlite",
		"dsn":    dsn,
	}))
	assertStatus(t, rr, http.StatusCreated)

	rr = env.do(t, "POST", "/api/v1/system/sources", toJSON(t, map[string]interface{}{
		"name":   "other",
		"driver": "db2",
		"dsn":    "x",
	}))
	assertStatus(t, rr, http.StatusUnprocessableEntity)

	rr = env.do(t, "GET", "/api/v1/system/sources", nil)
	assertStatus(t, rr, http.StatusOK)
	var list model.ListResponse
	decodeJSON(t, rr, &list)
	if len(list.Resource) != 1 || list.Resource[0]["name"] != "warehouse" {
		t.Errorf("unexpected sources: %v", list.Resource)
	}

	rr = env.do(t, "POST", "/api/v1/system/sources/warehouse/test", nil)
	assertStatus(t, rr, http.StatusOK)
	var res map[string]interface{}
	decodeJSON(t, rr, &res)
	if res["success"] != true {
		t.Errorf("expected a successful ping: %v", res)
	}

	rr = env.do(t, "POST", "/api/v1/system/sources/missing/test", nil)
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, "DELETE", "/api/v1/system/sources/warehouse", nil)
	assertStatus(t, rr, http.StatusOK)
	rr = env.do(t, "DELETE", "/api/v1/system/sources/warehouse", nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestErrorResponseFormat(t *testing.T) {
	env := newTestEnv(t)
	env.asAdmin(t)

	rr := env.do(t, "GET", "/api/v1/schemas/999", nil)
	assertStatus(t, rr, http.StatusNotFound)

	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error.Code != http.StatusNotFound {
		t.Errorf("error.code = %d, want 404", resp.Error.Code)
	}
	if resp.Error.Message == "" {
		t.Error("expected an error message")
	}
}
