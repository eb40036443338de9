package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/server/middleware"
	"github.com/grebion/tables/internal/service"
)

// DefaultTokenTTL is the lifetime of tokens issued by Login.
const DefaultTokenTTL = 24 * time.Hour

// SystemHandler manages the service's own configuration: users, API keys
// and publish sources.
type SystemHandler struct {
	store    *config.Store
	authSvc  *service.AuthService
	publish  *service.PublishService
	tokenTTL time.Duration
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(store *config.Store, authSvc *service.AuthService, publish *service.PublishService) *SystemHandler {
	return &SystemHandler{
		store:    store,
		authSvc:  authSvc,
		publish:  publish,
		tokenTTL: DefaultTokenTTL,
	}
}

// SetTokenTTL changes the lifetime of tokens issued by Login. Non-positive
// values are ignored.
func (h *SystemHandler) SetTokenTTL(ttl time.Duration) {
	if ttl > 0 {
		h.tokenTTL = ttl
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	IsAdmin   bool   `json:"is_admin"`
}

// Login checks a user's credentials and returns a JWT session token.
// POST /api/v1/system/login
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	token, user, err := h.authSvc.Login(r.Context(), req.Email, req.Password, h.tokenTTL)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
		case errors.Is(err, service.ErrUserInactive):
			writeError(w, http.StatusUnauthorized, "Account is disabled")
		default:
			writeError(w, http.StatusInternalServerError, "Authentication error: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.tokenTTL.Seconds()),
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		IsAdmin:   user.IsAdmin,
	})
}

// Me returns the authenticated user.
// GET /api/v1/system/me
func (h *SystemHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	user, err := h.store.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, err, "Failed to load user")
		return
	}
	m := userToMap(user)
	m["auth_type"] = p.Type
	writeJSON(w, http.StatusOK, m)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// ListUsers returns all users.
// GET /api/v1/system/users
func (h *SystemHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: toResources(users, userToMap),
		Meta:     &model.ResponseMeta{Count: len(users)},
	})
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// CreateUser creates a user account.
// POST /api/v1/system/users
func (h *SystemHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	user, err := h.authSvc.CreateUser(r.Context(), req.Email, req.Name, req.Password, req.IsAdmin)
	if err != nil {
		writeServiceError(w, err, "Failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, userToMap(user))
}

// DeleteUser removes a user. Users cannot delete themselves.
// DELETE /api/v1/system/users/{userID}
func (h *SystemHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if id == principalID(r) {
		writeError(w, http.StatusBadRequest, "Cannot delete the current user")
		return
	}
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		writeServiceError(w, err, "Failed to delete user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("User %d deleted", id),
	})
}

// ---------------------------------------------------------------------------
// API Key management
// ---------------------------------------------------------------------------

// ListAPIKeys returns all API keys without their secrets.
// GET /api/v1/system/api-keys
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list API keys: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: toResources(keys, apiKeyToMap),
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

type createAPIKeyRequest struct {
	UserID    int64      `json:"user_id"`
	Label     string     `json:"label"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateAPIKey generates a key for a user and returns the plaintext key
// exactly once. Without user_id the key is issued to the caller.
// POST /api/v1/system/api-keys
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UserID == 0 {
		req.UserID = principalID(r)
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		writeError(w, http.StatusBadRequest, "expires_at is in the past")
		return
	}

	raw, key, err := h.authSvc.CreateAPIKey(r.Context(), req.UserID, req.Label, req.ExpiresAt)
	if err != nil {
		writeServiceError(w, err, "Failed to create API key")
		return
	}
	m := apiKeyToMap(key)
	m["api_key"] = raw
	writeJSON(w, http.StatusCreated, m)
}

// RevokeAPIKey deactivates an API key by ID.
// DELETE /api/v1/system/api-keys/{keyID}
func (h *SystemHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "keyID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		writeServiceError(w, err, "Failed to revoke API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}

// ---------------------------------------------------------------------------
// Publish sources
// ---------------------------------------------------------------------------

// ListSources returns the publish sources with masked DSNs.
// GET /api/v1/system/sources
func (h *SystemHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.publish.ListSources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sources: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: toResources(sources, sourceToMap),
		Meta:     &model.ResponseMeta{Count: len(sources)},
	})
}

// CreateSource registers a publish source. The connection is opened on
// first use.
// POST /api/v1/system/sources
func (h *SystemHandler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var src model.Source
	if err := readJSON(r, &src); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.publish.AddSource(r.Context(), &src); err != nil {
		writeServiceError(w, err, "Failed to create source")
		return
	}
	m := sourceToMap(&src)
	m["dsn"] = connector.MaskDSN(src.DSN)
	writeJSON(w, http.StatusCreated, m)
}

// DeleteSource removes a publish source and closes its connection.
// DELETE /api/v1/system/sources/{name}
func (h *SystemHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.publish.RemoveSource(r.Context(), name); err != nil {
		writeServiceError(w, err, "Failed to delete source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Source " + name + " deleted",
	})
}

// TestSource connects to a source and pings it.
// POST /api/v1/system/sources/{name}/test
func (h *SystemHandler) TestSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	start := time.Now()
	if err := h.publish.TestSource(r.Context(), name); err != nil {
		if service.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Source not found: "+name)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "Connection successful",
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

// ---------------------------------------------------------------------------
// Serialization helpers (avoid exposing secrets)
// ---------------------------------------------------------------------------

func userToMap(u *model.User) map[string]interface{} {
	m := map[string]interface{}{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"is_admin":   u.IsAdmin,
		"is_active":  u.IsActive,
		"created_at": u.CreatedAt,
		"updated_at": u.UpdatedAt,
	}
	if u.LastLoginAt != nil {
		m["last_login_at"] = u.LastLoginAt
	}
	return m
}

func apiKeyToMap(key *model.APIKey) map[string]interface{} {
	m := map[string]interface{}{
		"id":         key.ID,
		"key_prefix": key.KeyPrefix,
		"label":      key.Label,
		"user_id":    key.UserID,
		"is_active":  key.IsActive,
		"created_at": key.CreatedAt,
	}
	if key.ExpiresAt != nil {
		m["expires_at"] = key.ExpiresAt
	}
	if key.LastUsed != nil {
		m["last_used"] = key.LastUsed
	}
	return m
}

func sourceToMap(src *model.Source) map[string]interface{} {
	m := map[string]interface{}{
		"id":         src.ID,
		"name":       src.Name,
		"label":      src.Label,
		"driver":     src.Driver,
		"dsn":        src.DSN,
		"schema":     src.Schema,
		"is_active":  src.IsActive,
		"pool":       src.Pool,
		"created_at": src.CreatedAt,
		"updated_at": src.UpdatedAt,
	}
	if src.PrivateKeyPath != "" {
		m["private_key_path"] = src.PrivateKeyPath
	}
	return m
}
