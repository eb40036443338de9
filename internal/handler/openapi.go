package handler

import (
	"net/http"

	"github.com/grebion/tables/internal/openapi"
	"github.com/grebion/tables/internal/service"
)

// OpenAPIHandler serves the OpenAPI document, generated on each request
// from the current table schemas.
type OpenAPIHandler struct {
	tables  *service.TableService
	version string
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(tables *service.TableService, version string) *OpenAPIHandler {
	return &OpenAPIHandler{tables: tables, version: version}
}

// ServeSpec returns the OpenAPI 3 document. The server URL follows the
// request host.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	schemas, err := h.tables.ListSchemas(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list schemas")
		return
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	doc := openapi.Generate(schemas, scheme+"://"+r.Host, h.version)
	writeJSON(w, http.StatusOK, doc)
}
