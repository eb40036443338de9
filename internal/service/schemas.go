package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/grebion/tables/internal/cache"
	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/events"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/schemadiff"
	"github.com/grebion/tables/internal/tabular"
)

// SaveSchemaResult reports what SaveSchema did.
type SaveSchemaResult struct {
	Schema  *model.TableSchema `json:"schema"`
	Created bool               `json:"created"`
	Diff    schemadiff.Result  `json:"diff"`
	// Converted counts stored values rewritten because a column type changed.
	Converted int `json:"converted"`
}

// prepareSchema validates a name and column set and returns the normalized
// columns.
func prepareSchema(name string, cols []model.SchemaColumn) (string, []model.SchemaColumn, error) {
	name = strings.TrimSpace(name)
	if err := tabular.ValidateTableName(name); err != nil {
		return "", nil, err
	}
	normalized := tabular.NormalizeColumns(cols)
	if err := tabular.ValidateColumns(normalized); err != nil {
		return "", nil, err
	}
	return name, normalized, nil
}

// CreateSchema validates and stores a new schema and records its first
// revision.
func (s *TableService) CreateSchema(ctx context.Context, name, description string, cols []model.SchemaColumn) (*model.TableSchema, error) {
	name, cols, err := prepareSchema(name, cols)
	if err != nil {
		return nil, err
	}

	sc := &model.TableSchema{Name: name, Description: strings.TrimSpace(description), Columns: cols}
	if err := s.store.CreateSchema(ctx, sc); err != nil {
		return nil, err
	}

	diff := schemadiff.Diff(nil, cols)
	if _, err := s.store.SaveSchemaRevision(ctx, sc.ID, cols, diff.Changes); err != nil {
		s.logger.Warn("record schema revision", "schema_id", sc.ID, "error", err)
	}

	s.invalidateSchema(ctx, sc.ID)
	s.publish(ctx, events.Event{Type: events.SchemaSaved, SchemaID: sc.ID, Meta: map[string]interface{}{"created": true}})
	return sc, nil
}

// UpdateSchema replaces a schema in place. Stored values of columns whose
// type changed are converted in every table using the schema, and a revision
// is recorded when anything changed.
func (s *TableService) UpdateSchema(ctx context.Context, id int64, name, description string, cols []model.SchemaColumn) (*SaveSchemaResult, error) {
	current, err := s.store.GetSchema(ctx, id)
	if err != nil {
		return nil, err
	}
	name, cols, err = prepareSchema(name, cols)
	if err != nil {
		return nil, err
	}

	diff := schemadiff.Diff(current.Columns, cols)

	updated := *current
	updated.Name = name
	updated.Description = strings.TrimSpace(description)
	updated.Columns = cols

	result := &SaveSchemaResult{Schema: &updated, Diff: diff}

	// Rows of every table on the schema are converted in memory first and
	// written together with the schema.
	var touched []model.Row
	var tableIDs []int64
	if changes := diff.TypeChanges(); len(changes) > 0 {
		tables, err := s.store.ListTables(ctx, config.TableFilter{SchemaID: &updated.ID})
		if err != nil {
			return nil, err
		}
		for _, t := range tables {
			rows, conv, err := s.convertRows(ctx, t.ID, changes)
			if err != nil {
				return nil, fmt.Errorf("convert table %d: %w", t.ID, err)
			}
			touched = append(touched, rows...)
			tableIDs = append(tableIDs, t.ID)
			result.Converted += conv.Converted
		}
	}

	var revChanges []schemadiff.Change
	if diff.HasChanges() {
		revChanges = diff.Changes
	}
	if _, err := s.store.UpdateSchemaWithRows(ctx, &updated, touched, revChanges); err != nil {
		return nil, err
	}
	for _, id := range tableIDs {
		s.invalidateTable(ctx, id, false)
	}

	s.invalidateSchema(ctx, updated.ID)
	s.publish(ctx, events.Event{
		Type:     events.SchemaSaved,
		SchemaID: updated.ID,
		Meta: map[string]interface{}{
			"changes":  len(diff.Changes),
			"breaking": diff.BreakingCount,
		},
	})
	return result, nil
}

// SaveSchema is the create-or-update entry point used by the admin
// actions: a nil id creates a schema, otherwise the schema is updated in
// place.
func (s *TableService) SaveSchema(ctx context.Context, id *int64, name, description string, cols []model.SchemaColumn) (*SaveSchemaResult, error) {
	if id == nil || *id <= 0 {
		sc, err := s.CreateSchema(ctx, name, description, cols)
		if err != nil {
			return nil, err
		}
		return &SaveSchemaResult{Schema: sc, Created: true, Diff: schemadiff.Diff(nil, sc.Columns)}, nil
	}
	return s.UpdateSchema(ctx, *id, name, description, cols)
}

// GetSchema returns a schema by id.
func (s *TableService) GetSchema(ctx context.Context, id int64) (*model.TableSchema, error) {
	key := "schema:" + strconv.FormatInt(id, 10)
	sc, err := cache.Remember(ctx, s.cache, key, []string{cache.SchemaTag(id)}, func() (model.TableSchema, error) {
		sc, err := s.store.GetSchema(ctx, id)
		if err != nil {
			return model.TableSchema{}, err
		}
		return *sc, nil
	})
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// ListSchemas returns every schema ordered by name.
func (s *TableService) ListSchemas(ctx context.Context) ([]model.TableSchema, error) {
	return cache.Remember(ctx, s.cache, "schemas", []string{cache.TagTables}, func() ([]model.TableSchema, error) {
		return s.store.ListSchemas(ctx)
	})
}

// DeleteSchema removes a schema that no table references.
func (s *TableService) DeleteSchema(ctx context.Context, id int64) error {
	if err := s.store.DeleteSchema(ctx, id); err != nil {
		return err
	}
	s.invalidateSchema(ctx, id)
	s.publish(ctx, events.Event{Type: events.SchemaDeleted, SchemaID: id})
	return nil
}

// ListSchemaRevisions returns the revision history of a schema, newest
// first.
func (s *TableService) ListSchemaRevisions(ctx context.Context, id int64) ([]schemadiff.Revision, error) {
	if _, err := s.store.GetSchema(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListSchemaRevisions(ctx, id)
}

// GetValidationSchema returns per-column validation rules of a schema for
// clients that validate before submitting.
func (s *TableService) GetValidationSchema(ctx context.Context, schemaID int64) (map[string]tabular.FieldRule, error) {
	sc, err := s.GetSchema(ctx, schemaID)
	if err != nil {
		return nil, err
	}
	return tabular.BuildValidationSchema(sc.Columns), nil
}

// ConversionResult counts the outcome of a column value conversion.
type ConversionResult struct {
	Converted int `json:"converted"`
	Failed    int `json:"failed"`
}

// ConvertColumnValues converts the stored values of one column of a table
// from one type to another. Values that cannot be converted are cleared.
func (s *TableService) ConvertColumnValues(ctx context.Context, tableID int64, code string, from, to model.ColumnType) (*ConversionResult, error) {
	if _, err := s.getTable(ctx, tableID); err != nil {
		return nil, err
	}
	if !tabular.IsValidType(from) || !tabular.IsValidType(to) {
		return nil, tabular.NewValidationError(code, tabular.CodeInvalidType,
			fmt.Sprintf("cannot convert %q from %q to %q", code, from, to))
	}
	touched, res, err := s.convertRows(ctx, tableID, []schemadiff.Change{{
		Category: schemadiff.TypeChanged,
		Code:     code,
		OldValue: string(from),
		NewValue: string(to),
	}})
	if err != nil {
		return nil, err
	}
	if err := s.store.BulkUpdateRows(ctx, touched); err != nil {
		return nil, err
	}
	s.invalidateTable(ctx, tableID, false)
	s.publish(ctx, events.Event{Type: events.RowsChanged, TableID: tableID, Meta: map[string]interface{}{
		"converted": res.Converted,
		"column":    code,
	}})
	return res, nil
}

// convertRows rewrites the values of the changed columns in every row of a
// table and returns the rows that changed. Nothing is stored.
func (s *TableService) convertRows(ctx context.Context, tableID int64, changes []schemadiff.Change) ([]model.Row, *ConversionResult, error) {
	rows, err := s.store.ListRows(ctx, tableID)
	if err != nil {
		return nil, nil, err
	}

	res := &ConversionResult{}
	var touched []model.Row
	for _, row := range rows {
		dirty := false
		for _, ch := range changes {
			v, ok := row.Data[ch.Code]
			if !ok || v == nil {
				continue
			}
			converted, err := tabular.ConvertValue(v, model.ColumnType(ch.OldValue), model.ColumnType(ch.NewValue))
			if err != nil {
				res.Failed++
				delete(row.Data, ch.Code)
				dirty = true
				continue
			}
			if converted == nil {
				delete(row.Data, ch.Code)
			} else {
				row.Data[ch.Code] = converted
			}
			res.Converted++
			dirty = true
		}
		if dirty {
			touched = append(touched, row)
		}
	}

	if res.Failed > 0 {
		s.logger.Warn("column conversion cleared values", "table_id", tableID, "failed", res.Failed)
	}
	return touched, res, nil
}
