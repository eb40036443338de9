package handler

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/server/middleware"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/transfer"
)

// maxUploadBytes bounds imported files.
const maxUploadBytes = 32 << 20

// TransferHandler imports and exports table data as CSV, XLSX and JSON.
type TransferHandler struct {
	transfer *transfer.Service
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(svc *transfer.Service) *TransferHandler {
	return &TransferHandler{transfer: svc}
}

// Import reads rows into a table from a multipart "file" field or the raw
// request body. Without ?format= the format follows the file extension and
// defaults to CSV. Invalid rows are skipped and reported by line.
// POST /api/v1/tables/{id}/import?format=csv|xlsx
func (h *TransferHandler) Import(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, filename, err := uploadedFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload: "+err.Error())
		return
	}
	defer body.Close()

	format := strings.ToLower(queryString(r, "format"))
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	}
	if format == "" {
		format = transfer.FormatCSV
	}

	var res *transfer.ImportResult
	switch format {
	case transfer.FormatCSV, "txt":
		opts := transfer.DefaultCSVOptions()
		if d := queryString(r, "delimiter"); d != "" {
			opts.Delimiter = d
		}
		if e := queryString(r, "enclosure"); e != "" {
			opts.Enclosure = e
		}
		if enc := queryString(r, "encoding"); enc != "" {
			opts.Encoding = enc
		}
		opts.HasHeader = queryBool(r, "has_header", opts.HasHeader)
		opts.SkipEmpty = queryBool(r, "skip_empty", opts.SkipEmpty)
		res, err = h.transfer.ImportCSV(r.Context(), id, body, opts)
	case transfer.FormatXLSX:
		opts := transfer.DefaultXLSXOptions()
		opts.SheetIndex = queryInt(r, "sheet", 0)
		opts.HasHeader = queryBool(r, "has_header", opts.HasHeader)
		opts.SkipEmpty = queryBool(r, "skip_empty", opts.SkipEmpty)
		res, err = h.transfer.ImportXLSX(r.Context(), id, body, opts)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported import format %q (use csv or xlsx)", format))
		return
	}
	if err != nil {
		_, invalid := service.AsValidation(err)
		if invalid || service.IsNotFound(err) {
			writeServiceError(w, err, "Import failed")
			return
		}
		// Anything else comes from the uploaded content.
		writeError(w, http.StatusBadRequest, "Import failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// uploadedFile returns the multipart "file" part when the request is a
// multipart form and the body otherwise.
func uploadedFile(r *http.Request) (io.ReadCloser, string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, queryString(r, "filename"), nil
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", err
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("missing file field: %w", err)
	}
	return f, hdr.Filename, nil
}

// Export writes a table as CSV, XLSX or a JSON table document.
// GET /api/v1/tables/{id}/export?format=csv|xlsx|json&formatted=&encoding=&delimiter=
func (h *TransferHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format := strings.ToLower(queryString(r, "format"))
	if format == "" {
		format = transfer.FormatCSV
	}
	formatted := queryBool(r, "formatted", false)

	var buf bytes.Buffer
	var contentType string
	switch format {
	case transfer.FormatCSV:
		opts := transfer.DefaultCSVExportOptions()
		if d := queryString(r, "delimiter"); d != "" {
			opts.Delimiter = d
		}
		if enc := queryString(r, "encoding"); enc != "" {
			opts.Encoding = enc
		}
		opts.IncludeHeader = queryBool(r, "include_header", opts.IncludeHeader)
		opts.Formatted = formatted
		_, err = h.transfer.ExportCSV(r.Context(), id, &buf, opts)
		contentType = "text/csv; charset=" + opts.Encoding
	case transfer.FormatXLSX:
		_, err = h.transfer.ExportXLSX(r.Context(), id, &buf, formatted)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case transfer.FormatJSON:
		doc, derr := h.transfer.ExportTable(r.Context(), id)
		if derr != nil {
			writeServiceError(w, derr, "Export failed")
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="table_%d.json"`, id))
		writeJSON(w, http.StatusOK, doc)
		return
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported export format %q (use csv, xlsx or json)", format))
		return
	}
	if err != nil {
		writeServiceError(w, err, "Export failed")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="table_%d.%s"`, id, format))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}

// ImportDocument creates a new table from a JSON table document. The
// owner_type and owner_id query parameters override the document's owner;
// a non-admin caller without an override becomes the owning user.
// POST /api/v1/tables/import
func (h *TransferHandler) ImportDocument(w http.ResponseWriter, r *http.Request) {
	var doc transfer.TableDocument
	if err := readJSON(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid table document: "+err.Error())
		return
	}

	var owner transfer.ImportOwner
	if ot := queryString(r, "owner_type"); ot != "" {
		owner.Type = &ot
	}
	ownerID, err := queryInt64(r, "owner_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner.ID = ownerID
	if p := middleware.GetPrincipal(r.Context()); p != nil && !p.IsAdmin && owner.Type == nil {
		userType := model.OwnerTypeUser
		owner.Type, owner.ID = &userType, &p.UserID
	}

	t, err := h.transfer.ImportTable(r.Context(), &doc, owner)
	if err != nil {
		writeServiceError(w, err, "Import failed")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}
