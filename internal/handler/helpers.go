package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/zeebo/xxh3"

	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/server/middleware"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/transfer"
)

// maxBodyBytes bounds JSON request bodies. Imports have their own limit.
const maxBodyBytes = 8 << 20

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeJSONWithETag writes v with a content hash ETag and answers 304 when
// the client already holds that version.
func writeJSONWithETag(w http.ResponseWriter, r *http.Request, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode response: "+err.Error())
		return
	}
	tag := `"` + strconv.FormatUint(xxh3.Hash(body), 16) + `"`
	w.Header().Set("ETag", tag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(append(body, '\n')) //nolint:errcheck
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// writeServiceError maps an error from the service layer to a response.
// Validation failures carry their field errors in the context.
func writeServiceError(w http.ResponseWriter, err error, fallbackMsg string) {
	if verr, ok := service.AsValidation(err); ok {
		writeError(w, http.StatusUnprocessableEntity, verr.Error(), map[string]interface{}{
			"errors": verr.Errors,
		})
		return
	}
	switch {
	case service.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case service.IsConflict(err), errors.Is(err, connector.ErrTargetExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidQuery),
		errors.Is(err, service.ErrInvalidRole),
		errors.Is(err, connector.ErrInvalidTarget),
		errors.Is(err, transfer.ErrUnsupportedEncoding),
		errors.Is(err, transfer.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		status, msg := classifyDBError(err, fallbackMsg)
		writeError(w, status, msg)
	}
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
}

// pathID parses a positive integer route parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name + ": " + raw)
	}
	return id, nil
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// queryInt64 extracts an optional int64 query parameter.
func queryInt64(r *http.Request, key string) (*int64, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, errors.New("invalid " + key + ": " + val)
	}
	return &n, nil
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryBool extracts a boolean query parameter. A missing parameter yields
// defaultVal.
func queryBool(r *http.Request, key string, defaultVal bool) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "":
		return defaultVal
	case "true", "1", "y", "yes":
		return true
	default:
		return false
	}
}

// principalID returns the caller's user ID, or zero when unauthenticated.
func principalID(r *http.Request) int64 {
	if p := middleware.GetPrincipal(r.Context()); p != nil {
		return p.UserID
	}
	return 0
}

// classifyDBError maps errors reported by a database to HTTP status codes.
// Returns (httpStatus, cleanMessage).
func classifyDBError(err error, fallbackMsg string) (int, string) {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry") ||
		strings.Contains(lower, "violation of unique"):
		return http.StatusConflict, fallbackMsg + ": " + msg

	case strings.Contains(lower, "not null constraint") ||
		strings.Contains(lower, "cannot insert null") ||
		strings.Contains(lower, "null value in column") ||
		strings.Contains(lower, "column cannot be null"):
		return http.StatusBadRequest, fallbackMsg + ": " + msg

	// Remote schema missing on publish.
	case strings.Contains(lower, "schema") && strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "unknown database") ||
		strings.Contains(lower, "ora-01918"):
		return http.StatusBadRequest, fallbackMsg + ": " + msg

	case strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "insufficient privileges"):
		return http.StatusBadGateway, fallbackMsg + ": " + msg

	case strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "i/o timeout"):
		return http.StatusBadGateway, fallbackMsg + ": " + msg

	default:
		return http.StatusInternalServerError, fallbackMsg + ": " + msg
	}
}

// clampInt constrains val to be within [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// toResources converts a slice into the resource array of a ListResponse.
func toResources[T any](items []T, conv func(*T) map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(items))
	for i := range items {
		out[i] = conv(&items[i])
	}
	return out
}
