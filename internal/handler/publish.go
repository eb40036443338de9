package handler

import (
	"net/http"
	"strings"

	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/service"
)

// PublishHandler copies tables into external databases.
type PublishHandler struct {
	publish *service.PublishService
}

// NewPublishHandler creates a new PublishHandler.
func NewPublishHandler(publish *service.PublishService) *PublishHandler {
	return &PublishHandler{publish: publish}
}

type publishRequest struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Replace   bool   `json:"replace"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// Publish creates target in the named source and copies the table's rows
// into it. An existing target is only dropped when replace is set.
// POST /api/v1/tables/{id}/publish
func (h *PublishHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req publishRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" || strings.TrimSpace(req.Target) == "" {
		writeError(w, http.StatusBadRequest, "source and target are required")
		return
	}

	res, err := h.publish.PublishTable(r.Context(), id, req.Source, req.Target, connector.PublishOptions{
		Replace:   req.Replace,
		BatchSize: req.BatchSize,
	})
	if err != nil {
		writeServiceError(w, err, "Publish failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
