package tabular

import "strings"

// Error codes carried by FieldError.
const (
	CodeEmptyName      = "EMPTY_NAME"
	CodeNameTooLong    = "NAME_TOO_LONG"
	CodeEmptyColumns   = "EMPTY_COLUMNS"
	CodeInvalidColumn  = "INVALID_COLUMN"
	CodeInvalidType    = "INVALID_TYPE"
	CodeInvalidCode    = "INVALID_CODE"
	CodeDuplicateCode  = "DUPLICATE_CODE"
	CodeDuplicateTitle = "DUPLICATE_TITLE"
	CodeUnknownColumn  = "UNKNOWN_COLUMN"
	CodeInvalidValue   = "INVALID_VALUE"
	CodeRequired       = "REQUIRED"
	CodeInvalidSchema  = "INVALID_SCHEMA"
	CodeEmptyRows      = "EMPTY_ROWS"
)

// FieldError describes one failed check. Field is a column code, a column
// title, or empty for errors about the whole document.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError aggregates every failed check of one operation.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

// Add records a failed check.
func (e *ValidationError) Add(field, code, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Code: code, Message: message})
}

// Err returns e when it holds errors and nil otherwise.
func (e *ValidationError) Err() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// First returns the first recorded error.
func (e *ValidationError) First() FieldError {
	if len(e.Errors) == 0 {
		return FieldError{}
	}
	return e.Errors[0]
}

func single(field, code, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Code: code, Message: message}}}
}

// NewValidationError returns a ValidationError holding one failed check.
func NewValidationError(field, code, message string) *ValidationError {
	return single(field, code, message)
}
