package tabular

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/grebion/tables/internal/model"
)

var codePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ParseSchema decodes the persisted {"columns":[...]} document.
func ParseSchema(raw string) ([]model.SchemaColumn, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var doc model.SchemaDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return doc.Columns, nil
}

// EncodeSchema produces the persisted document for cols.
func EncodeSchema(cols []model.SchemaColumn) (string, error) {
	if cols == nil {
		cols = []model.SchemaColumn{}
	}
	b, err := json.Marshal(model.SchemaDocument{Columns: cols})
	if err != nil {
		return "", fmt.Errorf("encode schema: %w", err)
	}
	return string(b), nil
}

// NormalizeColumns trims codes and titles, resolves type aliases, generates
// missing codes from titles and assigns sort values to columns that have
// none. The input is not modified.
func NormalizeColumns(cols []model.SchemaColumn) []model.SchemaColumn {
	out := make([]model.SchemaColumn, len(cols))
	for i, c := range cols {
		c.Code = strings.TrimSpace(c.Code)
		c.Title = strings.TrimSpace(c.Title)
		if c.Code == "" && c.Title != "" {
			c.Code = GenerateCode(c.Title)
		}
		if t, ok := NormalizeType(string(c.Type)); ok {
			c.Type = t
		} else if strings.TrimSpace(string(c.Type)) == "" {
			c.Type = model.TypeText
		}
		if c.Sort == 0 {
			c.Sort = (i + 1) * 100
		}
		out[i] = c
	}
	return out
}

// ValidateColumns checks a column set: every column needs a code, a title
// and a known type; codes must be lowercase identifiers; codes and titles
// must be unique.
func ValidateColumns(cols []model.SchemaColumn) error {
	if len(cols) == 0 {
		return single("", CodeEmptyColumns, "schema must define at least one column")
	}

	verr := &ValidationError{}
	codes := make(map[string]bool, len(cols))
	titles := make(map[string]bool, len(cols))

	for i, c := range cols {
		if c.Code == "" || c.Title == "" || c.Type == "" {
			verr.Add(c.Code, CodeInvalidColumn, fmt.Sprintf("column %d: code, title and type are required", i+1))
			continue
		}
		if len(c.Code) > model.MaxColumnCodeLen || !codePattern.MatchString(c.Code) {
			verr.Add(c.Code, CodeInvalidCode, fmt.Sprintf("column code %q must match [a-z0-9_] and be at most %d characters", c.Code, model.MaxColumnCodeLen))
		}
		if utf8.RuneCountInString(c.Title) > model.MaxColumnTitleLen {
			verr.Add(c.Code, CodeInvalidColumn, fmt.Sprintf("column title of %q is longer than %d characters", c.Code, model.MaxColumnTitleLen))
		}
		if !IsValidType(c.Type) {
			verr.Add(c.Code, CodeInvalidType, fmt.Sprintf("column %q has unsupported type %q", c.Code, c.Type))
		}
		if codes[c.Code] {
			verr.Add(c.Code, CodeDuplicateCode, fmt.Sprintf("duplicate column code %q", c.Code))
		}
		codes[c.Code] = true

		key := strings.ToLower(c.Title)
		if titles[key] {
			verr.Add(c.Title, CodeDuplicateTitle, fmt.Sprintf("duplicate column title %q", c.Title))
		}
		titles[key] = true
	}
	return verr.Err()
}

// ValidateTableName checks a schema or table name.
func ValidateTableName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return single("name", CodeEmptyName, "name is required")
	}
	if utf8.RuneCountInString(name) > model.MaxTableTitleLen {
		return single("name", CodeNameTooLong, fmt.Sprintf("name must be at most %d characters", model.MaxTableTitleLen))
	}
	return nil
}

// ValidCode reports whether code is a valid column code.
func ValidCode(code string) bool {
	return code != "" && len(code) <= model.MaxColumnCodeLen && codePattern.MatchString(code)
}

// SortColumns orders columns by sort value, keeping the input order for ties.
func SortColumns(cols []model.SchemaColumn) []model.SchemaColumn {
	out := make([]model.SchemaColumn, len(cols))
	copy(out, cols)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sort < out[j].Sort })
	return out
}

// FieldRule is the per-column entry of a validation schema.
type FieldRule struct {
	Type     model.ColumnType      `json:"type"`
	Title    string                `json:"title"`
	Settings *model.ColumnSettings `json:"settings,omitempty"`
	Options  model.Options         `json:"options,omitempty"`
	Required bool                  `json:"required"`
}

// BuildValidationSchema maps each column code to its rule, for clients that
// validate before submitting.
func BuildValidationSchema(cols []model.SchemaColumn) map[string]FieldRule {
	out := make(map[string]FieldRule, len(cols))
	for _, c := range cols {
		out[c.Code] = FieldRule{
			Type:     c.Type,
			Title:    c.Title,
			Settings: c.Settings,
			Options:  c.ChoiceOptions(),
			Required: c.IsRequired(),
		}
	}
	return out
}
