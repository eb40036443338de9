package openapi

import (
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/grebion/tables/internal/model"
)

// Generate builds the OpenAPI document of the HTTP API. Each table schema
// contributes a Row_<name> component describing the data of its rows.
func Generate(schemas []model.TableSchema, baseURL, version string) *openapi3.T {
	if version == "" {
		version = "1.0.0"
	}
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Tables API",
			Description: "REST API for schema-driven tables: schemas, tables, rows, cells, import/export and publishing.",
			Version:     version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	addSharedSchemas(doc)
	doc.Paths = openapi3.NewPaths()
	addSystemPaths(doc)
	addSchemaPaths(doc)
	addTablePaths(doc)
	addRowPaths(doc)
	addTransferPaths(doc)

	sorted := make([]model.TableSchema, len(schemas))
	copy(sorted, schemas)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, sc := range sorted {
		name := RowSchemaName(sc)
		if _, taken := doc.Components.Schemas[name]; taken {
			name = "Row_" + strconv.FormatInt(sc.ID, 10)
		}
		doc.Components.Schemas[name] = rowDataSchema(sc)
	}
	return doc
}

// RowSchemaName returns the component name of a schema's row data. Names
// without any ASCII letter or digit fall back to the schema id.
func RowSchemaName(sc model.TableSchema) string {
	var b strings.Builder
	hasAlnum := false
	for _, r := range strings.TrimSpace(sc.Name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			hasAlnum = true
		default:
			b.WriteRune('_')
		}
	}
	if !hasAlnum {
		return "Row_" + strconv.FormatInt(sc.ID, 10)
	}
	return "Row_" + capitalize(strings.Trim(b.String(), "_"))
}

// rowDataSchema describes the data object of a row of sc. Column codes are
// the property names.
func rowDataSchema(sc model.TableSchema) *openapi3.SchemaRef {
	props := openapi3.Schemas{}
	var required []string
	for _, col := range sc.Columns {
		props[col.Code] = &openapi3.SchemaRef{Value: columnSchema(col)}
		if col.IsRequired() {
			required = append(required, col.Code)
		}
	}
	sort.Strings(required)
	s := &openapi3.Schema{
		Type:        &openapi3.Types{"object"},
		Title:       sc.Name,
		Description: sc.Description,
		Properties:  props,
		Required:    required,
		Extensions:  map[string]interface{}{"x-schema-id": sc.ID},
	}
	falseVal := false
	s.AdditionalProperties = openapi3.AdditionalProperties{Has: &falseVal}
	return &openapi3.SchemaRef{Value: s}
}

func addSharedSchemas(doc *openapi3.T) {
	str := func() *openapi3.SchemaRef { return &openapi3.SchemaRef{Value: openapi3.NewStringSchema()} }
	i64 := func() *openapi3.SchemaRef { return &openapi3.SchemaRef{Value: openapi3.NewInt64Schema()} }
	obj := func() *openapi3.SchemaRef { return &openapi3.SchemaRef{Value: openapi3.NewObjectSchema()} }
	ts := func() *openapi3.SchemaRef { return &openapi3.SchemaRef{Value: openapi3.NewDateTimeSchema()} }

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": str(),
							"context": obj(),
						},
					},
				},
			},
		},
	}

	types := make([]interface{}, 0, len(columnTypeToOpenAPI))
	for t := range columnTypeToOpenAPI {
		types = append(types, string(t))
	}
	sort.Slice(types, func(i, j int) bool { return types[i].(string) < types[j].(string) })
	colType := openapi3.NewStringSchema()
	colType.Enum = types

	doc.Components.Schemas["SchemaColumn"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:     &openapi3.Types{"object"},
		Required: []string{"code", "title", "type"},
		Properties: openapi3.Schemas{
			"code":     &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Pattern: "^[a-zA-Z][a-zA-Z0-9_]*$"}},
			"title":    str(),
			"type":     &openapi3.SchemaRef{Value: colType},
			"sort":     &openapi3.SchemaRef{Value: openapi3.NewInt32Schema()},
			"required": &openapi3.SchemaRef{Value: openapi3.NewBoolSchema()},
			"options":  &openapi3.SchemaRef{Value: &openapi3.Schema{}},
			"settings": obj(),
		},
	}}
	doc.Components.Schemas["TableSchema"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"id":          i64(),
			"name":        str(),
			"description": str(),
			"columns": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: openapi3.NewSchemaRef("#/components/schemas/SchemaColumn", nil),
			}},
			"created_at": ts(),
			"updated_at": ts(),
		},
	}}
	doc.Components.Schemas["Table"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"id":         i64(),
			"schema_id":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64", Nullable: true}},
			"owner_type": str(),
			"owner_id":   i64(),
			"title":      str(),
			"created_at": ts(),
			"updated_at": ts(),
		},
	}}
	doc.Components.Schemas["Row"] = &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"id":         i64(),
			"table_id":   i64(),
			"sort":       &openapi3.SchemaRef{Value: openapi3.NewInt32Schema()},
			"data":       &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}, Description: "Values keyed by column code; see the Row_* components."}},
			"created_at": ts(),
			"updated_at": ts(),
		},
	}}
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addSystemPaths(doc *openapi3.T) {
	loginBody := &openapi3.Schema{
		Type:     &openapi3.Types{"object"},
		Required: []string{"email", "password"},
		Properties: openapi3.Schemas{
			"email":    &openapi3.SchemaRef{Value: openapi3.NewStringSchema().WithFormat("email")},
			"password": &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
		},
	}
	login := operation("system", "Exchange credentials for a JWT", "login", nil, loginBody, objectRef())
	login.Security = &openapi3.SecurityRequirements{}
	doc.Paths.Set("/api/v1/system/login", &openapi3.PathItem{Post: login})

	doc.Paths.Set("/api/v1/system/me", &openapi3.PathItem{
		Get: operation("system", "Current principal", "getMe", nil, nil, objectRef()),
	})
	for _, res := range []string{"users", "api-keys", "sources"} {
		id := strings.ReplaceAll(res, "-", "_")
		doc.Paths.Set("/api/v1/system/"+res, &openapi3.PathItem{
			Get:  operation("system", "List "+res, "list_"+id, nil, nil, listOf(objectRef())),
			Post: operation("system", "Create "+strings.TrimSuffix(res, "s"), "create_"+id, nil, openapi3.NewObjectSchema(), objectRef()),
		})
	}
}

func addSchemaPaths(doc *openapi3.T) {
	ref := openapi3.NewSchemaRef("#/components/schemas/TableSchema", nil)
	body := &openapi3.Schema{
		Type:     &openapi3.Types{"object"},
		Required: []string{"name", "columns"},
		Properties: openapi3.Schemas{
			"name":        &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
			"description": &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
			"columns": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: openapi3.NewSchemaRef("#/components/schemas/SchemaColumn", nil),
			}},
		},
	}
	idParam := pathParam("id", "Schema id")

	doc.Paths.Set("/api/v1/schemas", &openapi3.PathItem{
		Get:  operation("schemas", "List schemas", "listSchemas", pagingParams(), nil, listOf(ref)),
		Post: operation("schemas", "Create a schema", "createSchema", nil, body, ref),
	})
	doc.Paths.Set("/api/v1/schemas/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get:        operation("schemas", "Get a schema", "getSchema", nil, nil, ref),
		Put:        operation("schemas", "Update a schema", "updateSchema", nil, body, objectRef()),
		Delete:     operation("schemas", "Delete a schema", "deleteSchema", nil, nil, objectRef()),
	})
	doc.Paths.Set("/api/v1/schemas/{id}/validation", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get:        operation("schemas", "JSON Schema of the row data", "getValidationSchema", nil, nil, objectRef()),
	})
	doc.Paths.Set("/api/v1/schemas/{id}/revisions", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get:        operation("schemas", "List schema revisions", "listSchemaRevisions", nil, nil, objectRef()),
	})
	doc.Paths.Set("/api/v1/schemas/{id}/diff", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Post:       operation("schemas", "Diff proposed columns against the schema", "diffSchema", nil, body, objectRef()),
	})
}

func addTablePaths(doc *openapi3.T) {
	ref := openapi3.NewSchemaRef("#/components/schemas/Table", nil)
	idParam := pathParam("id", "Table id")
	listParams := append(openapi3.Parameters{
		queryParam("owner_type", "Owner entity type.", openapi3.NewStringSchema()),
		queryParam("owner_id", "Owner entity id.", openapi3.NewInt64Schema()),
		queryParam("schema_id", "Only tables of this schema.", openapi3.NewInt64Schema()),
	}, pagingParams()...)

	doc.Paths.Set("/api/v1/tables", &openapi3.PathItem{
		Get:  operation("tables", "List tables", "listTables", listParams, nil, listOf(ref)),
		Post: operation("tables", "Create a table", "createTable", nil, openapi3.NewObjectSchema(), ref),
	})
	doc.Paths.Set("/api/v1/tables/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get:        operation("tables", "Get a table", "getTable", nil, nil, objectRef()),
		Patch:      operation("tables", "Update a table", "updateTable", nil, openapi3.NewObjectSchema(), ref),
		Delete:     operation("tables", "Delete a table", "deleteTable", nil, nil, objectRef()),
	})
	sub := []struct {
		path, method, summary, id string
		body                      bool
	}{
		{"/owner", "PUT", "Set the owner", "setTableOwner", true},
		{"/copy", "POST", "Copy a table", "copyTable", true},
		{"/stats", "GET", "Table statistics", "getTableStats", false},
		{"/data", "GET", "Formatted page of table data", "getTableData", false},
		{"/columns", "GET", "List legacy columns", "listColumns", false},
		{"/cells", "GET", "Cell matrix", "getCells", false},
		{"/permissions", "GET", "List table roles", "listPermissions", false},
		{"/publish", "POST", "Publish into an external source", "publishTable", true},
	}
	for _, s := range sub {
		var body *openapi3.Schema
		if s.body {
			body = openapi3.NewObjectSchema()
		}
		item := doc.Paths.Value("/api/v1/tables/{id}" + s.path)
		if item == nil {
			item = &openapi3.PathItem{Parameters: openapi3.Parameters{idParam}}
		}
		item.SetOperation(s.method, operation("tables", s.summary, s.id, nil, body, objectRef()))
		doc.Paths.Set("/api/v1/tables/{id}"+s.path, item)
	}
}

func addRowPaths(doc *openapi3.T) {
	ref := openapi3.NewSchemaRef("#/components/schemas/Row", nil)
	tableID := pathParam("id", "Table id")
	rowID := pathParam("rowID", "Row id")
	listParams := append(openapi3.Parameters{
		queryParam("filter", "Filter expression, e.g. (price > 10) AND (name like 'a%').", openapi3.NewStringSchema()),
		queryParam("order", "Comma-separated columns with optional ASC/DESC.", openapi3.NewStringSchema()),
		queryParam("fields", "Comma-separated column codes to return.", openapi3.NewStringSchema()),
	}, pagingParams()...)

	doc.Paths.Set("/api/v1/tables/{id}/rows", &openapi3.PathItem{
		Parameters: openapi3.Parameters{tableID},
		Get:        operation("rows", "Query rows", "listRows", listParams, nil, listOf(ref)),
		Post:       operation("rows", "Add one or more rows", "createRows", nil, openapi3.NewObjectSchema(), listOf(ref)),
		Patch:      operation("rows", "Update several rows", "updateRows", nil, openapi3.NewObjectSchema(), listOf(ref)),
		Delete:     operation("rows", "Delete rows by id", "deleteRows", openapi3.Parameters{queryParam("ids", "Comma-separated row ids.", openapi3.NewStringSchema())}, nil, objectRef()),
	})
	doc.Paths.Set("/api/v1/tables/{id}/rows/{rowID}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{tableID, rowID},
		Get:        operation("rows", "Get a row", "getRow", nil, nil, ref),
		Put:        operation("rows", "Replace a row", "replaceRow", nil, openapi3.NewObjectSchema(), ref),
		Patch:      operation("rows", "Merge into a row", "patchRow", nil, openapi3.NewObjectSchema(), ref),
		Delete:     operation("rows", "Delete a row", "deleteRow", nil, nil, objectRef()),
	})
	doc.Paths.Set("/api/v1/tables/{id}/search", &openapi3.PathItem{
		Parameters: openapi3.Parameters{tableID},
		Get: operation("rows", "Full-text search over row values", "searchRows",
			openapi3.Parameters{queryParam("q", "Search term.", openapi3.NewStringSchema())}, nil, listOf(ref)),
	})
}

func addTransferPaths(doc *openapi3.T) {
	tableID := pathParam("id", "Table id")
	format := func(values ...string) *openapi3.ParameterRef {
		s := openapi3.NewStringSchema()
		for _, v := range values {
			s.Enum = append(s.Enum, v)
		}
		return queryParam("format", "File format.", s)
	}

	imp := operation("transfer", "Import rows from CSV or XLSX", "importRows", openapi3.Parameters{
		format("csv", "xlsx"),
		queryParam("delimiter", "CSV field delimiter.", openapi3.NewStringSchema()),
		queryParam("encoding", "Source encoding.", openapi3.NewStringSchema()),
	}, nil, objectRef())
	imp.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithContent(openapi3.Content{
			"multipart/form-data": openapi3.NewMediaType().WithSchema(openapi3.NewObjectSchema().
				WithProperty("file", openapi3.NewStringSchema().WithFormat("binary"))),
			"text/csv": openapi3.NewMediaType().WithSchema(openapi3.NewStringSchema()),
		})}
	doc.Paths.Set("/api/v1/tables/{id}/import", &openapi3.PathItem{
		Parameters: openapi3.Parameters{tableID},
		Post:       imp,
	})
	doc.Paths.Set("/api/v1/tables/{id}/export", &openapi3.PathItem{
		Parameters: openapi3.Parameters{tableID},
		Get:        operation("transfer", "Export a table", "exportTable", openapi3.Parameters{format("csv", "xlsx", "json")}, nil, objectRef()),
	})
	doc.Paths.Set("/api/v1/tables/import", &openapi3.PathItem{
		Post: operation("transfer", "Create a table from a JSON document", "importTable", nil, openapi3.NewObjectSchema(), objectRef()),
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func operation(tag, summary, id string, params openapi3.Parameters, body *openapi3.Schema, resp *openapi3.SchemaRef) *openapi3.Operation {
	op := &openapi3.Operation{
		Tags:        []string{tag},
		Summary:     summary,
		OperationID: id,
		Parameters:  params,
		Responses:   newResponses("200", "Successful response", resp),
	}
	if body != nil {
		op.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
			WithRequired(true).
			WithJSONSchema(body)}
	}
	return op
}

func pathParam(name, desc string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: openapi3.NewPathParameter(name).
		WithDescription(desc).
		WithSchema(openapi3.NewInt64Schema())}
}

func queryParam(name, desc string, s *openapi3.Schema) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: openapi3.NewQueryParameter(name).
		WithDescription(desc).
		WithSchema(s)}
}

func pagingParams() openapi3.Parameters {
	return openapi3.Parameters{
		queryParam("limit", "Maximum number of records to return.", openapi3.NewInt32Schema()),
		queryParam("offset", "Number of records to skip.", openapi3.NewInt32Schema()),
	}
}

func objectRef() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: openapi3.NewObjectSchema()}
}

// listOf wraps item in the {resource, meta} list envelope.
func listOf(item *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"resource": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: item,
					},
				},
				"meta": metaSchema(),
			},
		},
	}
}

// newResponses builds a Responses map with a success response and standard error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription(description).
			WithContent(openapi3.NewContentWithJSONSchemaRef(schema)),
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for _, e := range []struct{ code, desc string }{
		{"400", "Bad request"},
		{"401", "Unauthorized"},
		{"403", "Forbidden"},
		{"404", "Not found"},
		{"422", "Validation failed"},
		{"500", "Internal server error"},
	} {
		responses.Set(e.code, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription(e.desc).
				WithContent(openapi3.NewContentWithJSONSchemaRef(errorRef)),
		})
	}
	return responses
}

// metaSchema returns the schema for the "meta" field in list responses.
func metaSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"count": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type:        &openapi3.Types{"integer"},
					Format:      "int32",
					Description: "Number of records in this page.",
				}},
				"total": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type:        &openapi3.Types{"integer"},
					Format:      "int64",
					Description: "Total number of records matching the query.",
				}},
				"limit": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type:   &openapi3.Types{"integer"},
					Format: "int32",
				}},
				"offset": &openapi3.SchemaRef{Value: &openapi3.Schema{
					Type:   &openapi3.Types{"integer"},
					Format: "int32",
				}},
			},
		},
	}
}

// capitalize returns a string with its first character uppercased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

