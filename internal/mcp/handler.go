package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/tabular"
)

// requireString returns a non-empty string argument.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || strings.TrimSpace(val) == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// requireID returns a positive id argument. JSON numbers arrive as float64.
func requireID(request mcp.CallToolRequest, key string) (int64, error) {
	val, err := request.RequireInt(key)
	if err != nil {
		return 0, fmt.Errorf("missing required parameter %q", key)
	}
	if val <= 0 {
		return 0, fmt.Errorf("parameter %q must be a positive id", key)
	}
	return int64(val), nil
}

// optionalID returns a positive id argument, or nil when it is absent or not
// positive.
func optionalID(request mcp.CallToolRequest, key string) *int64 {
	if val := request.GetInt(key, 0); val > 0 {
		id := int64(val)
		return &id
	}
	return nil
}

func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

func optionalInt(request mcp.CallToolRequest, key string, defaultVal int) int {
	return request.GetInt(key, defaultVal)
}

// optionalFields joins a string array argument into the comma list the row
// query expects.
func optionalFields(request mcp.CallToolRequest, key string) string {
	return strings.Join(request.GetStringSlice(key, nil), ",")
}

// paging reads limit and offset, clamping limit to [1, maxLimit].
func paging(request mcp.CallToolRequest, defaultLimit, maxLimit int) (limit, offset int) {
	limit = clamp(request.GetInt("limit", defaultLimit), 1, maxLimit)
	offset = max(request.GetInt("offset", 0), 0)
	return limit, offset
}

// getObjectArg returns an object argument, or nil when it is absent or not
// an object.
func getObjectArg(request mcp.CallToolRequest, key string) map[string]interface{} {
	m, _ := request.GetArguments()[key].(map[string]interface{})
	return m
}

// successJSON returns data as indented JSON text.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError reports a failure to the agent without ending the session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError turns a service error into a tool error. Validation errors
// list every failed field; other errors follow the formatted message.
func serviceError(err error, format string, args ...interface{}) (*mcp.CallToolResult, error) {
	var verr *tabular.ValidationError
	if errors.As(err, &verr) {
		lines := make([]string, len(verr.Errors))
		for i, fe := range verr.Errors {
			lines[i] = "  - " + fe.Message
		}
		return toolError("Validation failed:\n%s", strings.Join(lines, "\n"))
	}
	if service.IsNotFound(err) {
		return toolError("Not found: %v", err)
	}
	res, _ := toolError(format, args...)
	res.Content = append(res.Content, mcp.NewTextContent(err.Error()))
	return res, nil
}

func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
