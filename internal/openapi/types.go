package openapi

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/grebion/tables/internal/model"
)

// TypeMapping maps a column type to an OpenAPI type/format pair.
type TypeMapping struct {
	Type   string // OpenAPI type: string, integer, number, boolean, object, array
	Format string // OpenAPI format: date, email, uri, etc.
}

// columnTypeToOpenAPI maps column types to OpenAPI types. Datetimes are
// stored as "YYYY-MM-DD HH:MM:SS", which is not RFC 3339, so they get a
// pattern instead of the date-time format.
var columnTypeToOpenAPI = map[model.ColumnType]TypeMapping{
	model.TypeText:        {"string", ""},
	model.TypeNumber:      {"integer", "int64"},
	model.TypeFloat:       {"number", "double"},
	model.TypeDate:        {"string", "date"},
	model.TypeDateTime:    {"string", ""},
	model.TypeFile:        {"string", ""},
	model.TypeBoolean:     {"boolean", ""},
	model.TypeSelect:      {"string", ""},
	model.TypeMultiselect: {"array", ""},
	model.TypeEmail:       {"string", "email"},
	model.TypeURL:         {"string", "uri"},
	model.TypePhone:       {"string", ""},
	model.TypeJSON:        {"object", ""},
}

const dateTimePattern = `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`

// MapColumnType converts a column type to an OpenAPI type mapping.
// Unknown types fall back to {"string", ""}.
func MapColumnType(t model.ColumnType) TypeMapping {
	if m, ok := columnTypeToOpenAPI[model.ColumnType(strings.ToLower(strings.TrimSpace(string(t))))]; ok {
		return m
	}
	return TypeMapping{"string", ""}
}

// columnSchema builds the property schema of one column, carrying its
// options and numeric and length constraints.
func columnSchema(col model.SchemaColumn) *openapi3.Schema {
	m := MapColumnType(col.Type)
	s := &openapi3.Schema{
		Type:   &openapi3.Types{m.Type},
		Format: m.Format,
		Title:  col.Title,
	}
	if !col.IsRequired() {
		s.Nullable = true
	}

	options := col.ChoiceOptions()
	switch col.Type {
	case model.TypeDateTime:
		s.Pattern = dateTimePattern
	case model.TypeSelect:
		if len(options) > 0 {
			s.Enum = enumValues(options)
		}
	case model.TypeMultiselect:
		item := openapi3.NewStringSchema()
		if len(options) > 0 {
			item.Enum = enumValues(options)
		}
		s.Items = &openapi3.SchemaRef{Value: item}
	}

	if st := col.Settings; st != nil {
		if st.MaxLength > 0 && m.Type == "string" {
			n := uint64(st.MaxLength)
			s.MaxLength = &n
		}
		if m.Type == "integer" || m.Type == "number" {
			s.Min = st.MinValue
			s.Max = st.MaxValue
		}
	}
	return s
}

func enumValues(opts model.Options) []interface{} {
	out := make([]interface{}, len(opts))
	for i, v := range opts.Values() {
		out[i] = v
	}
	return out
}
