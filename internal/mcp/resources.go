package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	schemasURI     = "tables://schemas"
	tableURIPrefix = "tables://tables/"

	// resourceRowLimit caps the rows embedded in a table resource.
	resourceRowLimit = 100
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			schemasURI,
			"Table Schemas",
			mcp.WithResourceDescription(
				"Every table schema with its ordered column definitions.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleSchemasResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			tableURIPrefix+"{id}",
			"Table",
			mcp.WithTemplateDescription(
				"A table with its effective columns and the first "+
					strconv.Itoa(resourceRowLimit)+" rows.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleTableResource,
	)
}

func (s *MCPServer) handleSchemasResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	schemas, err := s.tables.ListSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	return jsonContents(schemasURI, schemas)
}

// handleTableResource reads "tables://tables/{id}".
func (s *MCPServer) handleTableResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	raw := strings.TrimPrefix(uri, tableURIPrefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if raw == uri || err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid table URI %q: expected %s{id}", uri, tableURIPrefix)
	}

	data, err := s.tables.GetTableData(ctx, id, 1, resourceRowLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load table %d: %w", id, err)
	}
	return jsonContents(uri, data)
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
