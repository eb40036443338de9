// Package tabular implements the typed value rules of table columns:
// normalization of column types, schema validation, per-type value
// validation, display formatting, conversion between types and coercion of
// imported text.
package tabular

import (
	"strings"

	"github.com/grebion/tables/internal/model"
)

// Types lists every supported column type in display order.
var Types = []model.ColumnType{
	model.TypeText,
	model.TypeNumber,
	model.TypeFloat,
	model.TypeDate,
	model.TypeDateTime,
	model.TypeFile,
	model.TypeBoolean,
	model.TypeSelect,
	model.TypeMultiselect,
	model.TypeEmail,
	model.TypeURL,
	model.TypePhone,
	model.TypeJSON,
}

// typeAliases maps legacy type names onto the canonical set.
var typeAliases = map[string]model.ColumnType{
	"string":  model.TypeText,
	"integer": model.TypeNumber,
	"int":     model.TypeNumber,
	"double":  model.TypeFloat,
	"bool":    model.TypeBoolean,
}

// NormalizeType resolves aliases and reports whether the result is a known
// column type. Matching is case-insensitive.
func NormalizeType(t string) (model.ColumnType, bool) {
	t = strings.ToLower(strings.TrimSpace(t))
	if alias, ok := typeAliases[t]; ok {
		return alias, true
	}
	ct := model.ColumnType(t)
	return ct, IsValidType(ct)
}

// IsValidType reports whether t is one of the canonical column types.
func IsValidType(t model.ColumnType) bool {
	for _, known := range Types {
		if known == t {
			return true
		}
	}
	return false
}

// IsChoice reports whether values of t are constrained by options.
func IsChoice(t model.ColumnType) bool {
	return t == model.TypeSelect || t == model.TypeMultiselect
}

// IsNumeric reports whether t stores numbers.
func IsNumeric(t model.ColumnType) bool {
	return t == model.TypeNumber || t == model.TypeFloat
}

// TypeLabels are the human readable names shown by the CLI and API.
var TypeLabels = map[model.ColumnType]string{
	model.TypeText:        "Text",
	model.TypeNumber:      "Number",
	model.TypeFloat:       "Decimal number",
	model.TypeDate:        "Date",
	model.TypeDateTime:    "Date and time",
	model.TypeFile:        "File",
	model.TypeBoolean:     "Yes/No",
	model.TypeSelect:      "List",
	model.TypeMultiselect: "Multiple choice list",
	model.TypeEmail:       "Email",
	model.TypeURL:         "URL",
	model.TypePhone:       "Phone",
	model.TypeJSON:        "JSON",
}
