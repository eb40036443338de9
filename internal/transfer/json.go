package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/grebion/tables/internal/events"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/tabular"
)

// TableDocument is the JSON form of a table used to move it between
// installations.
type TableDocument struct {
	Table   DocumentTable        `json:"table"`
	Columns []model.SchemaColumn `json:"columns"`
	Rows    []DocumentRow        `json:"rows"`
}

// DocumentTable carries the table attributes of a TableDocument.
type DocumentTable struct {
	Title     string `json:"title"`
	OwnerType string `json:"owner_type"`
	OwnerID   int64  `json:"owner_id"`
	SchemaID  *int64 `json:"schema_id,omitempty"`
}

// DocumentRow is one row of a TableDocument.
type DocumentRow struct {
	Data map[string]interface{} `json:"data"`
	Sort int                    `json:"sort"`
}

// ExportTable returns a table with its effective columns and rows.
func (s *Service) ExportTable(ctx context.Context, tableID int64) (*TableDocument, error) {
	t, cols, err := s.tables.TableColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}
	page, err := s.tables.ListRows(ctx, tableID, service.RowQuery{})
	if err != nil {
		return nil, err
	}

	doc := &TableDocument{
		Table: DocumentTable{
			Title:     t.Title,
			OwnerType: t.OwnerType,
			OwnerID:   t.OwnerID,
			SchemaID:  t.SchemaID,
		},
		Columns: cols,
		Rows:    make([]DocumentRow, len(page.Rows)),
	}
	for i, r := range page.Rows {
		doc.Rows[i] = DocumentRow{Data: r.Data, Sort: r.Sort}
	}
	return doc, nil
}

// ImportOwner overrides the owner of an imported table.
type ImportOwner struct {
	Type *string
	ID   *int64
}

// ImportTable creates a new table from a document. The table references the
// document's schema when it exists here; otherwise the document's columns
// become legacy columns. Rows are inserted all or nothing.
func (s *Service) ImportTable(ctx context.Context, doc *TableDocument, owner ImportOwner) (*model.Table, error) {
	if doc == nil {
		return nil, tabular.NewValidationError("table", tabular.CodeEmptyName, "document is empty")
	}

	in := service.TableInput{
		Title:     strings.TrimSpace(doc.Table.Title),
		OwnerType: doc.Table.OwnerType,
		OwnerID:   doc.Table.OwnerID,
	}
	if owner.Type != nil {
		in.OwnerType = *owner.Type
	}
	if owner.ID != nil {
		in.OwnerID = *owner.ID
	}

	if doc.Table.SchemaID != nil {
		if _, err := s.tables.GetSchema(ctx, *doc.Table.SchemaID); err == nil {
			in.SchemaID = doc.Table.SchemaID
		} else if !service.IsNotFound(err) {
			return nil, err
		}
	}
	if in.SchemaID == nil {
		if len(doc.Columns) == 0 {
			return nil, tabular.NewValidationError("columns", tabular.CodeEmptyColumns, "document has neither a known schema nor columns")
		}
		in.Columns = doc.Columns
	}

	t, err := s.tables.CreateTable(ctx, in)
	if err != nil {
		return nil, err
	}

	if len(doc.Rows) > 0 {
		inputs := make([]service.RowInput, len(doc.Rows))
		for i, r := range doc.Rows {
			inputs[i] = service.RowInput{Data: r.Data, Sort: r.Sort}
		}
		if _, err := s.tables.BulkInsertRows(ctx, t.ID, inputs); err != nil {
			if delErr := s.tables.DeleteTable(ctx, t.ID); delErr != nil {
				s.logger.Error("roll back imported table", "table_id", t.ID, "error", delErr)
			}
			return nil, fmt.Errorf("import rows: %w", err)
		}
	}

	s.events.Publish(ctx, events.Event{Type: events.TableImported, TableID: t.ID, Meta: map[string]interface{}{
		"format":   FormatJSON,
		"imported": len(doc.Rows),
	}})
	return t, nil
}
