package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/grebion/tables/internal/events"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/schemadiff"
	"github.com/grebion/tables/internal/tabular"
)

// ColumnInput describes a new legacy column. An empty code is generated from
// the title.
type ColumnInput struct {
	Code     string               `json:"code"`
	Type     string               `json:"type"`
	Title    string               `json:"title"`
	Sort     int                  `json:"sort,omitempty"`
	Settings model.ColumnSettings `json:"settings"`
}

// ColumnPatch holds the changeable fields of a legacy column. Codes are
// fixed once created.
type ColumnPatch struct {
	Type     *string               `json:"type,omitempty"`
	Title    *string               `json:"title,omitempty"`
	Sort     *int                  `json:"sort,omitempty"`
	Settings *model.ColumnSettings `json:"settings,omitempty"`
}

// legacyTable loads a table whose rows follow its legacy columns. Tables
// backed by a schema are changed through the schema instead.
func (s *TableService) legacyTable(ctx context.Context, tableID int64) (*model.Table, error) {
	t, err := s.getTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if t.SchemaID != nil {
		return nil, tabular.NewValidationError("table_id", tabular.CodeInvalidSchema,
			fmt.Sprintf("table %d uses schema %d; change the schema instead", tableID, *t.SchemaID))
	}
	return t, nil
}

// ListColumns returns the legacy columns of a table ordered by sort.
func (s *TableService) ListColumns(ctx context.Context, tableID int64) ([]model.Column, error) {
	if _, err := s.getTable(ctx, tableID); err != nil {
		return nil, err
	}
	return s.store.ListColumns(ctx, tableID)
}

// AddColumn adds a legacy column to a schemaless table.
func (s *TableService) AddColumn(ctx context.Context, tableID int64, in ColumnInput) (*model.Column, error) {
	if _, err := s.legacyTable(ctx, tableID); err != nil {
		return nil, err
	}
	existing, err := s.store.ListColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, c := range existing {
		taken[c.Code] = true
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, tabular.NewValidationError("title", tabular.CodeInvalidColumn, "column title is required")
	}
	typ := model.TypeText
	if strings.TrimSpace(in.Type) != "" {
		t, ok := tabular.NormalizeType(in.Type)
		if !ok {
			return nil, tabular.NewValidationError("type", tabular.CodeInvalidType, fmt.Sprintf("unsupported column type %q", in.Type))
		}
		typ = t
	}

	code := strings.TrimSpace(in.Code)
	if code == "" {
		code = tabular.UniqueCode(tabular.GenerateCode(title), taken)
	} else {
		if !tabular.ValidCode(code) {
			return nil, tabular.NewValidationError(code, tabular.CodeInvalidCode,
				fmt.Sprintf("column code %q must match [a-z0-9_] and be at most %d characters", code, model.MaxColumnCodeLen))
		}
		if taken[code] {
			return nil, tabular.NewValidationError(code, tabular.CodeDuplicateCode, fmt.Sprintf("duplicate column code %q", code))
		}
	}

	c := &model.Column{
		TableID:  tableID,
		Code:     code,
		Type:     typ,
		Title:    title,
		Sort:     in.Sort,
		Settings: in.Settings,
	}
	if err := s.store.CreateColumn(ctx, c); err != nil {
		return nil, err
	}
	s.invalidateTable(ctx, tableID, false)
	s.publish(ctx, events.Event{Type: events.TableUpdated, TableID: tableID, Meta: map[string]interface{}{"column_added": code}})
	return c, nil
}

// UpdateColumn changes a legacy column. A type change converts the stored
// values of the column.
func (s *TableService) UpdateColumn(ctx context.Context, columnID int64, p ColumnPatch) (*model.Column, error) {
	c, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if _, err := s.legacyTable(ctx, c.TableID); err != nil {
		return nil, err
	}

	oldType := c.Type
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, tabular.NewValidationError("title", tabular.CodeInvalidColumn, "column title is required")
		}
		c.Title = title
	}
	if p.Type != nil {
		t, ok := tabular.NormalizeType(*p.Type)
		if !ok {
			return nil, tabular.NewValidationError("type", tabular.CodeInvalidType, fmt.Sprintf("unsupported column type %q", *p.Type))
		}
		c.Type = t
	}
	if p.Sort != nil {
		c.Sort = *p.Sort
	}
	if p.Settings != nil {
		c.Settings = *p.Settings
	}

	var touched []model.Row
	if c.Type != oldType {
		touched, _, err = s.convertRows(ctx, c.TableID, []schemadiff.Change{{
			Category: schemadiff.TypeChanged,
			Code:     c.Code,
			OldValue: string(oldType),
			NewValue: string(c.Type),
		}})
		if err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdateColumnWithRows(ctx, c, touched); err != nil {
		return nil, err
	}

	s.invalidateTable(ctx, c.TableID, false)
	s.publish(ctx, events.Event{Type: events.TableUpdated, TableID: c.TableID, Meta: map[string]interface{}{"column_updated": c.Code}})
	return c, nil
}

// DeleteColumn removes a legacy column, its cells and its values from the
// table's rows.
func (s *TableService) DeleteColumn(ctx context.Context, columnID int64) error {
	c, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteColumn(ctx, columnID); err != nil {
		return err
	}

	rows, err := s.store.ListRows(ctx, c.TableID)
	if err != nil {
		return err
	}
	var touched []model.Row
	for _, r := range rows {
		if _, ok := r.Data[c.Code]; ok {
			delete(r.Data, c.Code)
			touched = append(touched, r)
		}
	}
	if err := s.store.BulkUpdateRows(ctx, touched); err != nil {
		return err
	}

	s.invalidateTable(ctx, c.TableID, false)
	s.publish(ctx, events.Event{Type: events.TableUpdated, TableID: c.TableID, Meta: map[string]interface{}{"column_removed": c.Code}})
	return nil
}

// ReorderColumns gives the listed columns sort values 100, 200, ... in the
// given order.
func (s *TableService) ReorderColumns(ctx context.Context, tableID int64, ids []int64) error {
	if _, err := s.legacyTable(ctx, tableID); err != nil {
		return err
	}
	if err := s.store.ReorderColumns(ctx, tableID, ids); err != nil {
		return err
	}
	s.invalidateTable(ctx, tableID, false)
	s.publish(ctx, events.Event{Type: events.TableUpdated, TableID: tableID, Meta: map[string]interface{}{"columns_reordered": len(ids)}})
	return nil
}
