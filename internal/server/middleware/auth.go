package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal kinds.
const (
	PrincipalAPIKey = "api_key"
	PrincipalJWT    = "jwt"
)

// Principal is the authenticated user behind a request.
type Principal struct {
	UserID  int64
	Email   string
	IsAdmin bool
	Type    string // PrincipalAPIKey or PrincipalJWT
	KeyID   int64
}

// Authenticate returns an HTTP middleware that resolves the caller from an
// X-API-Key header or, failing that, an "Authorization: Bearer" JWT. A
// request with neither gets a 401.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				p, err := authSvc.ValidateAPIKey(r.Context(), apiKey)
				if err != nil {
					writeAuthError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}
				principal = fromService(p, PrincipalAPIKey)
			}

			if principal == nil {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					p, err := authSvc.ValidateJWT(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
					if err != nil {
						writeAuthError(w, http.StatusUnauthorized, "Invalid token")
						return
					}
					principal = fromService(p, PrincipalJWT)
				}
			}

			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide X-API-Key header or Bearer token.")
				return
			}

			noteUser(r.Context(), principal.UserID)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func fromService(p *service.Principal, kind string) *Principal {
	return &Principal{
		UserID:  p.UserID,
		Email:   p.Email,
		IsAdmin: p.IsAdmin,
		Type:    kind,
		KeyID:   p.KeyID,
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ActionForMethod maps an HTTP method to the table action it needs.
func ActionForMethod(method string) model.Action {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return model.ActionRead
	case http.MethodDelete:
		return model.ActionDelete
	default:
		return model.ActionWrite
	}
}

// RequireTableAccess checks the caller's role on the table named by the
// {id} route parameter. The needed action follows the request method unless
// action is non-empty. Admins pass without a lookup.
func RequireTableAccess(perms *service.PermissionService, action model.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			if principal.IsAdmin {
				next.ServeHTTP(w, r)
				return
			}

			tableID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil || tableID <= 0 {
				writeAuthError(w, http.StatusBadRequest, "Invalid table id")
				return
			}
			need := action
			if need == "" {
				need = ActionForMethod(r.Method)
			}
			ok, err := perms.CheckAccess(r.Context(), principal.UserID, tableID, need)
			if err != nil {
				writeAuthError(w, http.StatusInternalServerError, "Permission check failed")
				return
			}
			if !ok {
				writeAuthError(w, http.StatusForbidden, "No "+string(need)+" access to table "+strconv.FormatInt(tableID, 10))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

// writeAuthError writes the error envelope without importing the handler
// package, which depends on this one.
func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
		"error": map[string]interface{}{"code": status, "message": message},
	})
}
