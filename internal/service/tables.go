package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grebion/tables/internal/cache"
	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/events"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/tabular"
)

// Statuses reported by SaveTable.
const (
	StatusCreated = "CREATED"
	StatusUpdated = "UPDATED"
)

// TableInput describes a new table. Columns are only used for tables
// without a schema and become the table's legacy columns.
type TableInput struct {
	Title     string               `json:"title"`
	SchemaID  *int64               `json:"schema_id,omitempty"`
	OwnerType string               `json:"owner_type"`
	OwnerID   int64                `json:"owner_id"`
	Columns   []model.SchemaColumn `json:"columns,omitempty"`
}

// TableUpdate holds the fields of a table that may change. Nil fields are
// kept. A SchemaID of 0 detaches the schema.
type TableUpdate struct {
	Title     *string `json:"title,omitempty"`
	SchemaID  *int64  `json:"schema_id,omitempty"`
	OwnerType *string `json:"owner_type,omitempty"`
	OwnerID   *int64  `json:"owner_id,omitempty"`
}

// CopyOptions controls CopyTable. An empty title becomes "<title> (copy)".
type CopyOptions struct {
	Title    string `json:"title,omitempty"`
	WithData bool   `json:"with_data"`
}

// SaveTableInput is the payload of the saveTable action.
type SaveTableInput struct {
	TableID  *int64                   `json:"table_id,omitempty"`
	SchemaID int64                    `json:"schema_id"`
	Rows     []map[string]interface{} `json:"rows"`
}

// SaveTableResult reports what SaveTable did.
type SaveTableResult struct {
	TableID   int64  `json:"table_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	RowsCount int    `json:"rows_count"`
}

// LoadedTable is the payload of the loadTable action.
type LoadedTable struct {
	ID       int64                    `json:"id"`
	Name     string                   `json:"name"`
	SchemaID *int64                   `json:"schema_id,omitempty"`
	Rows     []map[string]interface{} `json:"rows"`
}

// CreateTable creates a table instance. A missing owner type falls back to
// the configured default; legacy columns are created when the table has no
// schema and columns are given.
func (s *TableService) CreateTable(ctx context.Context, in TableInput) (*model.Table, error) {
	title := strings.TrimSpace(in.Title)
	if err := tabular.ValidateTableName(title); err != nil {
		return nil, err
	}
	if in.SchemaID != nil {
		if _, err := s.GetSchema(ctx, *in.SchemaID); err != nil {
			if IsNotFound(err) {
				return nil, tabular.NewValidationError("schema_id", tabular.CodeInvalidSchema,
					fmt.Sprintf("schema %d not found", *in.SchemaID))
			}
			return nil, err
		}
	}

	var legacy []model.SchemaColumn
	if in.SchemaID == nil && len(in.Columns) > 0 {
		legacy = tabular.NormalizeColumns(in.Columns)
		if err := tabular.ValidateColumns(legacy); err != nil {
			return nil, err
		}
	}

	t := &model.Table{
		SchemaID:  in.SchemaID,
		OwnerType: strings.TrimSpace(in.OwnerType),
		OwnerID:   in.OwnerID,
		Title:     title,
	}
	if t.OwnerType == "" {
		t.OwnerType = s.opts.DefaultOwnerType
	}
	if err := s.store.CreateTable(ctx, t); err != nil {
		return nil, err
	}

	for _, def := range legacy {
		if err := s.store.CreateColumn(ctx, columnFromDefinition(t.ID, def)); err != nil {
			if delErr := s.store.DeleteTable(ctx, t.ID); delErr != nil {
				s.logger.Error("roll back table after column failure", "table_id", t.ID, "error", delErr)
			}
			return nil, fmt.Errorf("create column %q: %w", def.Code, err)
		}
	}

	s.invalidateTable(ctx, t.ID, true)
	s.publish(ctx, events.Event{Type: events.TableCreated, TableID: t.ID, Meta: map[string]interface{}{
		"owner_type": t.OwnerType,
		"owner_id":   t.OwnerID,
	}})
	return t, nil
}

func columnFromDefinition(tableID int64, def model.SchemaColumn) *model.Column {
	c := &model.Column{
		TableID: tableID,
		Code:    def.Code,
		Type:    def.Type,
		Title:   def.Title,
		Sort:    def.Sort,
	}
	if def.Settings != nil {
		c.Settings = *def.Settings
	}
	if def.Required {
		c.Settings.Required = true
	}
	if len(def.Options) > 0 {
		c.Settings.Options = def.Options
	}
	return c
}

// GetTable returns a table instance.
func (s *TableService) GetTable(ctx context.Context, id int64) (*model.Table, error) {
	return s.getTable(ctx, id)
}

// GetTableInfo returns a table with its schema, effective columns and
// counts.
func (s *TableService) GetTableInfo(ctx context.Context, id int64) (*model.TableInfo, error) {
	t, err := s.getTable(ctx, id)
	if err != nil {
		return nil, err
	}
	tags := []string{cache.TableTag(id)}
	if t.SchemaID != nil {
		tags = append(tags, cache.SchemaTag(*t.SchemaID))
	}

	info, err := cache.Remember(ctx, s.cache, tableKey(id, "info"), tags, func() (model.TableInfo, error) {
		info := model.TableInfo{Table: *t}
		if t.SchemaID != nil {
			sc, err := s.GetSchema(ctx, *t.SchemaID)
			if err != nil {
				return info, err
			}
			info.Schema = sc
		}
		cols, err := s.EffectiveColumns(ctx, t)
		if err != nil {
			return info, err
		}
		info.Columns = cols
		info.ColumnsCount = len(cols)
		n, err := s.store.CountRows(ctx, id)
		if err != nil {
			return info, err
		}
		info.RowsCount = n
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	info.Table = *t
	return &info, nil
}

// GetTableData returns one page of a table with formatted values. Pages
// start at 1; a non-positive limit uses the configured page size.
func (s *TableService) GetTableData(ctx context.Context, id int64, page, limit int) (*model.TableData, error) {
	t, cols, err := s.TableColumns(ctx, id)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.opts.PageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	total, err := s.store.CountRows(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListRowsPage(ctx, id, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}

	data := &model.TableData{
		Table:   *t,
		Columns: cols,
		Rows:    make([]model.FormattedRow, len(rows)),
		Page:    page,
		Limit:   limit,
		Total:   total,
		Pages:   int((total + int64(limit) - 1) / int64(limit)),
	}
	for i, r := range rows {
		data.Rows[i] = model.FormattedRow{
			ID:        r.ID,
			Sort:      r.Sort,
			Data:      r.Data,
			Formatted: tabular.FormatRow(cols, r.Data),
		}
	}
	return data, nil
}

// ListTables returns tables matching f and the total count ignoring limit
// and offset.
func (s *TableService) ListTables(ctx context.Context, f config.TableFilter) ([]model.Table, int64, error) {
	type page struct {
		Tables []model.Table `json:"tables"`
		Total  int64         `json:"total"`
	}
	key := fmt.Sprintf("tables:%s:%s:%s:%d:%d", f.OwnerType, optInt(f.OwnerID), optInt(f.SchemaID), f.Limit, f.Offset)
	p, err := cache.Remember(ctx, s.cache, key, []string{cache.TagTables}, func() (page, error) {
		tables, err := s.store.ListTables(ctx, f)
		if err != nil {
			return page{}, err
		}
		total, err := s.store.CountTables(ctx, f)
		if err != nil {
			return page{}, err
		}
		return page{Tables: tables, Total: total}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return p.Tables, p.Total, nil
}

func optInt(p *int64) string {
	if p == nil {
		return "*"
	}
	return fmt.Sprint(*p)
}

// GetTablesByOwner returns the tables attached to one owning entity.
func (s *TableService) GetTablesByOwner(ctx context.Context, ownerType string, ownerID int64) ([]model.Table, error) {
	if ownerType == "" {
		ownerType = s.opts.DefaultOwnerType
	}
	tables, _, err := s.ListTables(ctx, config.TableFilter{OwnerType: ownerType, OwnerID: &ownerID})
	return tables, err
}

// ListOrphanTables returns draft tables without an owner created before
// olderThan.
func (s *TableService) ListOrphanTables(ctx context.Context, olderThan time.Time) ([]model.Table, error) {
	return s.store.ListOrphanTables(ctx, olderThan)
}

// UpdateTable applies u to a table.
func (s *TableService) UpdateTable(ctx context.Context, id int64, u TableUpdate) (*model.Table, error) {
	t, err := s.getTable(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if err := tabular.ValidateTableName(title); err != nil {
			return nil, err
		}
		t.Title = title
	}
	if u.SchemaID != nil {
		if *u.SchemaID == 0 {
			t.SchemaID = nil
		} else {
			if _, err := s.GetSchema(ctx, *u.SchemaID); err != nil {
				if IsNotFound(err) {
					return nil, tabular.NewValidationError("schema_id", tabular.CodeInvalidSchema,
						fmt.Sprintf("schema %d not found", *u.SchemaID))
				}
				return nil, err
			}
			sid := *u.SchemaID
			t.SchemaID = &sid
		}
	}
	if u.OwnerType != nil && strings.TrimSpace(*u.OwnerType) != "" {
		t.OwnerType = strings.TrimSpace(*u.OwnerType)
	}
	if u.OwnerID != nil {
		t.OwnerID = *u.OwnerID
		t.Draft = false
	}

	if err := s.store.UpdateTable(ctx, t); err != nil {
		return nil, err
	}
	s.invalidateTable(ctx, id, true)
	s.publish(ctx, events.Event{Type: events.TableUpdated, TableID: id})
	return t, nil
}

// SetOwner back-fills the owner of a table created before its owning
// entity was saved.
func (s *TableService) SetOwner(ctx context.Context, id int64, ownerType string, ownerID int64) error {
	if ownerType == "" {
		ownerType = s.opts.DefaultOwnerType
	}
	if err := s.store.SetTableOwner(ctx, id, ownerType, ownerID); err != nil {
		return err
	}
	s.invalidateTable(ctx, id, true)
	s.publish(ctx, events.Event{Type: events.TableUpdated, TableID: id, Meta: map[string]interface{}{
		"owner_type": ownerType,
		"owner_id":   ownerID,
	}})
	return nil
}

// DeleteTable removes a table with its rows, legacy columns, cells and
// permissions.
func (s *TableService) DeleteTable(ctx context.Context, id int64) error {
	if err := s.store.DeleteTable(ctx, id); err != nil {
		return err
	}
	s.invalidateTable(ctx, id, true)
	s.publish(ctx, events.Event{Type: events.TableDeleted, TableID: id})
	return nil
}

// CopyTable creates a new table with the same schema, owner and legacy
// columns, and with the rows when opts.WithData is set.
func (s *TableService) CopyTable(ctx context.Context, id int64, opts CopyOptions) (*model.Table, error) {
	src, err := s.getTable(ctx, id)
	if err != nil {
		return nil, err
	}

	in := TableInput{
		Title:     strings.TrimSpace(opts.Title),
		SchemaID:  src.SchemaID,
		OwnerType: src.OwnerType,
		OwnerID:   src.OwnerID,
	}
	if in.Title == "" {
		in.Title = src.Title + " (copy)"
	}
	if src.SchemaID == nil {
		cols, err := s.EffectiveColumns(ctx, src)
		if err != nil {
			return nil, err
		}
		in.Columns = cols
	}

	dst, err := s.CreateTable(ctx, in)
	if err != nil {
		return nil, err
	}

	if opts.WithData {
		rows, err := s.store.ListRows(ctx, id)
		if err != nil {
			return nil, err
		}
		copies := make([]model.Row, len(rows))
		for i, r := range rows {
			copies[i] = model.Row{Sort: r.Sort, Data: r.Data}
		}
		if err := s.store.BulkInsertRows(ctx, dst.ID, copies); err != nil {
			return nil, err
		}
		s.invalidateTable(ctx, dst.ID, false)
	}
	return dst, nil
}

// GetTableStats summarizes a table.
func (s *TableService) GetTableStats(ctx context.Context, id int64) (*model.TableStats, error) {
	info, err := s.GetTableInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := info.Table.UpdatedAt
	return &model.TableStats{
		TableID:      id,
		ColumnsCount: info.ColumnsCount,
		RowsCount:    info.RowsCount,
		LastModified: &updated,
	}, nil
}

// SaveTable replaces every row of a schema-backed table. An unknown or
// missing table id creates a new table named after the schema and the
// current time; an existing table is renamed "<schema> #<id>". Rows are
// validated as a whole before anything is written.
func (s *TableService) SaveTable(ctx context.Context, in SaveTableInput) (*SaveTableResult, error) {
	if in.SchemaID <= 0 {
		return nil, tabular.NewValidationError("schema_id", tabular.CodeInvalidSchema, "schema id is required")
	}
	sc, err := s.GetSchema(ctx, in.SchemaID)
	if err != nil {
		if IsNotFound(err) {
			return nil, tabular.NewValidationError("schema_id", tabular.CodeInvalidSchema,
				fmt.Sprintf("schema %d not found", in.SchemaID))
		}
		return nil, err
	}
	if len(in.Rows) == 0 {
		return nil, tabular.NewValidationError("rows", tabular.CodeEmptyRows, "table must contain at least one row")
	}

	rows, err := validateRows(sc.Columns, in.Rows)
	if err != nil {
		return nil, err
	}

	var t *model.Table
	if in.TableID != nil && *in.TableID > 0 {
		t, err = s.store.GetTable(ctx, *in.TableID)
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
	}

	result := &SaveTableResult{RowsCount: len(rows)}
	sid := sc.ID
	if t != nil {
		t.Title = fmt.Sprintf("%s #%d", sc.Name, t.ID)
		t.SchemaID = &sid
		result.Status = StatusUpdated
	} else {
		// A new table waits as a draft until its owning entity is saved.
		t = &model.Table{
			SchemaID:  &sid,
			OwnerType: s.opts.DefaultOwnerType,
			Title:     sc.Name + " " + time.Now().Format("02.01.2006 15:04"),
			Draft:     true,
		}
		result.Status = StatusCreated
	}

	if err := s.store.SaveTableWithRows(ctx, t, rows); err != nil {
		return nil, err
	}

	result.TableID = t.ID
	result.Name = t.Title

	s.invalidateTable(ctx, t.ID, true)
	typ := events.TableUpdated
	if result.Status == StatusCreated {
		typ = events.TableCreated
	}
	s.publish(ctx, events.Event{Type: typ, TableID: t.ID, SchemaID: sc.ID, Meta: map[string]interface{}{"rows": len(rows)}})
	return result, nil
}

// validateRows validates every row against cols and reports all failures
// at once, each prefixed with its 1-based row number.
func validateRows(cols []model.SchemaColumn, data []map[string]interface{}) ([]model.Row, error) {
	verr := &tabular.ValidationError{}
	rows := make([]model.Row, 0, len(data))
	for i, d := range data {
		clean, err := tabular.ValidateRowData(cols, d, false)
		if err != nil {
			if rowErr, ok := AsValidation(err); ok {
				for _, fe := range rowErr.Errors {
					verr.Add(fe.Field, fe.Code, fmt.Sprintf("row %d: %s", i+1, fe.Message))
				}
				continue
			}
			return nil, err
		}
		rows = append(rows, model.Row{Data: clean})
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// LoadTable returns a table's rows as plain data maps in row order.
func (s *TableService) LoadTable(ctx context.Context, id int64) (*LoadedTable, error) {
	t, err := s.getTable(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.allRows(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &LoadedTable{ID: t.ID, Name: t.Title, SchemaID: t.SchemaID, Rows: make([]map[string]interface{}, len(rows))}
	for i, r := range rows {
		out.Rows[i] = r.Data
	}
	return out, nil
}
