package mcp

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/transfer"
)

// Row listing limits of query_rows.
const (
	defaultRowLimit = 25
	maxRowLimit     = 1000
)

// registerTools registers all table tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Discovery tools -----

	srv.AddTool(
		mcp.NewTool("list_schemas",
			mcp.WithDescription(
				"List all table schemas with their column definitions. A schema is a "+
					"reusable set of typed columns that tables are built on.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListSchemas,
	)

	srv.AddTool(
		mcp.NewTool("get_schema",
			mcp.WithDescription(
				"Get one schema with its ordered columns: code, title, type, required "+
					"flag and choice options.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("schema_id",
				mcp.Required(),
				mcp.Description("ID of the schema"),
			),
		),
		s.handleGetSchema,
	)

	srv.AddTool(
		mcp.NewTool("list_tables",
			mcp.WithDescription(
				"List tables, optionally narrowed to an owner or a schema. Use this "+
					"to find the table_id the row tools need.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("owner_type",
				mcp.Description("Owner entity type, e.g. \"IBLOCK_ELEMENT\" or \"USER\""),
			),
			mcp.WithNumber("owner_id",
				mcp.Description("Owner entity id; only used with owner_type"),
			),
			mcp.WithNumber("schema_id",
				mcp.Description("Only tables built on this schema"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of tables to return (default 50, max 1000)"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Number of tables to skip for pagination"),
			),
		),
		s.handleListTables,
	)

	srv.AddTool(
		mcp.NewTool("get_table",
			mcp.WithDescription(
				"Get a table with its effective columns, row count and schema name.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("table_id",
				mcp.Required(),
				mcp.Description("ID of the table"),
			),
		),
		s.handleGetTable,
	)

	// ----- Row tools -----

	srv.AddTool(
		mcp.NewTool("query_rows",
			mcp.WithDescription(
				"Query the rows of a table with optional filtering, ordering, field "+
					"selection and pagination. Filters and orders refer to column codes.\n\n"+
					"Filter syntax:\n"+
					"  - Comparison: qty >= 3, price < 10.5\n"+
					"  - Logical: status = 'open' AND qty > 0\n"+
					"  - IN: status IN ('open', 'hold')\n"+
					"  - LIKE: name LIKE 'Pen%'\n"+
					"  - NULL: note IS NULL\n"+
					"  - BETWEEN: qty BETWEEN 1 AND 5\n\n"+
					"Order syntax: 'qty DESC, name ASC'",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("table_id",
				mcp.Required(),
				mcp.Description("ID of the table"),
			),
			mcp.WithString("filter",
				mcp.Description("Filter expression (e.g. \"qty >= 3 AND name LIKE 'P%'\")"),
			),
			mcp.WithString("order",
				mcp.Description("Order clause (e.g. \"qty DESC\")"),
			),
			mcp.WithArray("fields",
				mcp.Description("Column codes to return. Omit for all columns."),
				mcp.WithStringItems(),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of rows to return (default 25, max 1000)"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Number of rows to skip for pagination"),
			),
		),
		s.handleQueryRows,
	)

	srv.AddTool(
		mcp.NewTool("search_table",
			mcp.WithDescription(
				"Find the rows of a table where any value contains the search term, "+
					"ignoring case.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("table_id",
				mcp.Required(),
				mcp.Description("ID of the table"),
			),
			mcp.WithString("term",
				mcp.Required(),
				mcp.Description("Text to search for"),
			),
		),
		s.handleSearchTable,
	)

	srv.AddTool(
		mcp.NewTool("add_row",
			mcp.WithDescription(
				"Add a row to a table. The data object maps column codes to values and "+
					"is validated against the column types. Returns the stored row.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("table_id",
				mcp.Required(),
				mcp.Description("ID of the table"),
			),
			mcp.WithObject("data",
				mcp.Required(),
				mcp.Description("Column values (e.g. {\"name\": \"Pen\", \"qty\": 3})"),
			),
			mcp.WithNumber("sort",
				mcp.Description("Sort position; omit to append after the last row"),
			),
		),
		s.handleAddRow,
	)

	srv.AddTool(
		mcp.NewTool("update_row",
			mcp.WithDescription(
				"Update one row of a table. By default the data is merged into the "+
					"stored values and a null value clears a column. With replace set "+
					"the data becomes the whole row.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithNumber("table_id",
				mcp.Required(),
				mcp.Description("ID of the table"),
			),
			mcp.WithNumber("row_id",
				mcp.Required(),
				mcp.Description("ID of the row"),
			),
			mcp.WithObject("data",
				mcp.Required(),
				mcp.Description("Column values to set"),
			),
			mcp.WithBoolean("replace",
				mcp.Description("Replace the row instead of merging (default false)"),
			),
		),
		s.handleUpdateRow,
	)

	srv.AddTool(
		mcp.NewTool("delete_row",
			mcp.WithDescription("Delete one row of a table."),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			mcp.WithNumber("table_id",
				mcp.Required(),
				mcp.Description("ID of the table"),
			),
			mcp.WithNumber("row_id",
				mcp.Required(),
				mcp.Description("ID of the row"),
			),
		),
		s.handleDeleteRow,
	)

	srv.AddTool(
		mcp.NewTool("export_table",
			mcp.WithDescription(
				"Export a whole table. The csv format uses column titles as the "+
					"header and ';' as the delimiter. The json format returns the "+
					"table document that the import endpoint accepts.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("table_id",
				mcp.Required(),
				mcp.Description("ID of the table"),
			),
			mcp.WithString("format",
				mcp.Description("csv or json (default csv)"),
				mcp.Enum("csv", "json"),
			),
		),
		s.handleExportTable,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

func (s *MCPServer) handleListSchemas(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	schemas, err := s.tables.ListSchemas(ctx)
	if err != nil {
		return toolError("Failed to list schemas: %v", err)
	}
	return successJSON(schemas)
}

func (s *MCPServer) handleGetSchema(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireID(request, "schema_id")
	if err != nil {
		return toolError("%v", err)
	}
	schema, err := s.tables.GetSchema(ctx, id)
	if err != nil {
		return serviceError(err, "Failed to load schema %d", id)
	}
	return successJSON(schema)
}

func (s *MCPServer) handleListTables(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	f := config.TableFilter{
		OwnerType: optionalString(request, "owner_type"),
		SchemaID:  optionalID(request, "schema_id"),
	}
	f.Limit, f.Offset = paging(request, service.DefaultPageSize, service.MaxPageSize)
	if f.OwnerType != "" {
		f.OwnerID = optionalID(request, "owner_id")
	}

	tables, total, err := s.tables.ListTables(ctx, f)
	if err != nil {
		return toolError("Failed to list tables: %v", err)
	}
	return successJSON(map[string]interface{}{
		"tables": tables,
		"total":  total,
	})
}

func (s *MCPServer) handleGetTable(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireID(request, "table_id")
	if err != nil {
		return toolError("%v", err)
	}
	info, err := s.tables.GetTableInfo(ctx, id)
	if err != nil {
		return serviceError(err, "Failed to load table %d", id)
	}
	return successJSON(info)
}

func (s *MCPServer) handleQueryRows(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireID(request, "table_id")
	if err != nil {
		return toolError("%v", err)
	}
	q := service.RowQuery{
		Filter: optionalString(request, "filter"),
		Order:  optionalString(request, "order"),
		Fields: optionalFields(request, "fields"),
	}
	q.Limit, q.Offset = paging(request, defaultRowLimit, maxRowLimit)

	page, err := s.tables.ListRows(ctx, id, q)
	if err != nil {
		if errors.Is(err, service.ErrInvalidQuery) {
			_, cols, _ := s.tables.TableColumns(ctx, id)
			codes := make([]string, len(cols))
			for i, c := range cols {
				codes[i] = c.Code
			}
			return toolError("%v\n\nAvailable columns: %v", err, codes)
		}
		return serviceError(err, "Failed to query table %d", id)
	}
	return successJSON(page)
}

func (s *MCPServer) handleSearchTable(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireID(request, "table_id")
	if err != nil {
		return toolError("%v", err)
	}
	term, err := requireString(request, "term")
	if err != nil {
		return toolError("%v", err)
	}

	rows, err := s.tables.SearchTable(ctx, id, term)
	if err != nil {
		return serviceError(err, "Failed to search table %d", id)
	}
	return successJSON(map[string]interface{}{
		"rows":  rows,
		"count": len(rows),
	})
}

func (s *MCPServer) handleAddRow(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireID(request, "table_id")
	if err != nil {
		return toolError("%v", err)
	}
	data := getObjectArg(request, "data")
	if data == nil {
		return toolError("missing required parameter \"data\": expected an object of column values")
	}

	row, err := s.tables.AddRow(ctx, id, data, optionalInt(request, "sort", 0))
	if err != nil {
		return serviceError(err, "Failed to add row to table %d", id)
	}
	s.logger.Debug("mcp row added", "table_id", id, "row_id", row.ID)
	return successJSON(row)
}

func (s *MCPServer) handleUpdateRow(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	tableID, rowID, res := s.tableRow(ctx, request)
	if res != nil {
		return res, nil
	}
	data := getObjectArg(request, "data")
	if data == nil {
		return toolError("missing required parameter \"data\": expected an object of column values")
	}

	row, err := s.tables.UpdateRow(ctx, rowID, data, !request.GetBool("replace", false))
	if err != nil {
		return serviceError(err, "Failed to update row %d of table %d", rowID, tableID)
	}
	return successJSON(row)
}

func (s *MCPServer) handleDeleteRow(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	tableID, rowID, res := s.tableRow(ctx, request)
	if res != nil {
		return res, nil
	}
	if err := s.tables.DeleteRow(ctx, rowID); err != nil {
		return serviceError(err, "Failed to delete row %d of table %d", rowID, tableID)
	}
	return successJSON(map[string]interface{}{"deleted": rowID})
}

func (s *MCPServer) handleExportTable(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	id, err := requireID(request, "table_id")
	if err != nil {
		return toolError("%v", err)
	}

	switch format := strings.ToLower(optionalString(request, "format")); format {
	case "", "csv":
		var buf bytes.Buffer
		if _, err := s.transfer.ExportCSV(ctx, id, &buf, transfer.DefaultCSVExportOptions()); err != nil {
			return serviceError(err, "Failed to export table %d", id)
		}
		return mcp.NewToolResultText(buf.String()), nil
	case "json":
		doc, err := s.transfer.ExportTable(ctx, id)
		if err != nil {
			return serviceError(err, "Failed to export table %d", id)
		}
		return successJSON(doc)
	default:
		return toolError("Unsupported export format %q: use csv or json", format)
	}
}

// tableRow reads table_id and row_id and checks that the row belongs to the
// table. A non-nil result is the error to return to the client.
func (s *MCPServer) tableRow(ctx context.Context, request mcp.CallToolRequest) (int64, int64, *mcp.CallToolResult) {
	tableID, err := requireID(request, "table_id")
	if err != nil {
		res, _ := toolError("%v", err)
		return 0, 0, res
	}
	rowID, err := requireID(request, "row_id")
	if err != nil {
		res, _ := toolError("%v", err)
		return 0, 0, res
	}
	row, err := s.tables.GetRow(ctx, rowID)
	if err != nil || row.TableID != tableID {
		res, _ := toolError("Row %d not found in table %d", rowID, tableID)
		return 0, 0, res
	}
	return tableID, rowID, nil
}
