package model

// ListResponse is the standard envelope for list endpoints, wrapping results
// in a "resource" array with optional pagination metadata.
type ListResponse struct {
	Resource []map[string]interface{} `json:"resource"`
	Meta     *ResponseMeta            `json:"meta,omitempty"`
}

// ResponseMeta contains pagination and timing information for list responses.
type ResponseMeta struct {
	Count      int     `json:"count"`
	Total      *int64  `json:"total,omitempty"`
	Limit      int     `json:"limit"`
	Offset     int     `json:"offset"`
	NextCursor string  `json:"next_cursor,omitempty"`
	TookMs     float64 `json:"took_ms"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// AjaxResponse is the envelope used by the admin AJAX compatibility endpoint.
// Admin actions put their payload under Tables or Table; component actions
// use Data and Errors.
type AjaxResponse struct {
	Status  string                   `json:"status"`
	Message string                   `json:"message,omitempty"`
	Tables  []map[string]interface{} `json:"tables,omitempty"`
	Table   map[string]interface{}   `json:"table,omitempty"`
	Data    interface{}              `json:"data,omitempty"`
	Errors  []AjaxError              `json:"errors,omitempty"`
}

// AjaxError is a single error entry of a failed component action.
type AjaxError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	CustomData map[string]interface{} `json:"customData,omitempty"`
}

// Ajax status values.
const (
	AjaxStatusSuccess = "success"
	AjaxStatusError   = "error"
)
