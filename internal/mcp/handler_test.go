package mcp

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name     string
		val      int
		min      int
		max      int
		expected int
	}{
		{"value in range", 5, 1, 10, 5},
		{"value below min", -3, 1, 10, 1},
		{"value above max", 15, 1, 10, 10},
		{"value equals min", 1, 1, 10, 1},
		{"value equals max", 10, 1, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clamp(tt.val, tt.min, tt.max)
			if got != tt.expected {
				t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.val, tt.min, tt.max, got, tt.expected)
			}
		})
	}
}

func toolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func TestRequireID(t *testing.T) {
	tests := []struct {
		name    string
		args    map[string]interface{}
		want    int64
		wantErr bool
	}{
		{"json number", map[string]interface{}{"table_id": float64(7)}, 7, false},
		{"missing", map[string]interface{}{}, 0, true},
		{"zero", map[string]interface{}{"table_id": float64(0)}, 0, true},
		{"negative", map[string]interface{}{"table_id": float64(-2)}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := requireID(toolRequest("get_table", tt.args), "table_id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("requireID error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("requireID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetObjectArg(t *testing.T) {
	req := toolRequest("add_row", map[string]interface{}{
		"data":  map[string]interface{}{"name": "Pen"},
		"other": "text",
	})
	if m := getObjectArg(req, "data"); m == nil || m["name"] != "Pen" {
		t.Errorf("getObjectArg(data) = %v", m)
	}
	if m := getObjectArg(req, "other"); m != nil {
		t.Errorf("a string argument should give nil, got %v", m)
	}
	if m := getObjectArg(req, "missing"); m != nil {
		t.Errorf("a missing argument should give nil, got %v", m)
	}
}

func TestRequireString(t *testing.T) {
	req := toolRequest("search_table", map[string]interface{}{"term": "pen", "empty": ""})
	if v, err := requireString(req, "term"); err != nil || v != "pen" {
		t.Errorf("requireString(term) = %q, %v", v, err)
	}
	if _, err := requireString(req, "empty"); err == nil {
		t.Error("an empty string should be rejected")
	}
	if _, err := requireString(req, "missing"); err == nil {
		t.Error("a missing string should be rejected")
	}
}

func TestOptionalID(t *testing.T) {
	req := toolRequest("list_tables", map[string]interface{}{"schema_id": float64(3), "owner_id": float64(0)})
	if id := optionalID(req, "schema_id"); id == nil || *id != 3 {
		t.Errorf("optionalID(schema_id) = %v", id)
	}
	if id := optionalID(req, "owner_id"); id != nil {
		t.Errorf("a zero id should give nil, got %d", *id)
	}
	if id := optionalID(req, "missing"); id != nil {
		t.Errorf("a missing id should give nil, got %d", *id)
	}
}

func TestPaging(t *testing.T) {
	tests := []struct {
		name       string
		args       map[string]interface{}
		limit, off int
	}{
		{"defaults", map[string]interface{}{}, 25, 0},
		{"explicit", map[string]interface{}{"limit": float64(10), "offset": float64(20)}, 10, 20},
		{"limit capped", map[string]interface{}{"limit": float64(5000)}, 1000, 0},
		{"negative offset", map[string]interface{}{"offset": float64(-4)}, 25, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, off := paging(toolRequest("query_rows", tt.args), 25, 1000)
			if limit != tt.limit || off != tt.off {
				t.Errorf("paging = (%d, %d), want (%d, %d)", limit, off, tt.limit, tt.off)
			}
		})
	}
}
