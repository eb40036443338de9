package model

import "time"

// Table is a concrete table instance attached to an owning entity. OwnerID is
// often zero at creation and back-filled once the owner itself is saved.
type Table struct {
	ID        int64     `json:"id" db:"id"`
	SchemaID  *int64    `json:"schema_id,omitempty" db:"schema_id"`
	OwnerType string    `json:"owner_type" db:"owner_type"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	Title     string    `json:"title" db:"title"`
	Draft     bool      `json:"draft,omitempty" db:"is_draft"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Row is one record of a table. Data maps column codes to values.
type Row struct {
	ID        int64                  `json:"id"`
	TableID   int64                  `json:"table_id"`
	Sort      int                    `json:"sort"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Column is a per-table column definition from the normalized model. Tables
// without a schema take their column set from these rows.
type Column struct {
	ID        int64          `json:"id"`
	TableID   int64          `json:"table_id"`
	Code      string         `json:"code"`
	Type      ColumnType     `json:"type"`
	Title     string         `json:"title"`
	Sort      int            `json:"sort"`
	Settings  ColumnSettings `json:"settings"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Definition converts the column into the schema column shape.
func (c Column) Definition() SchemaColumn {
	settings := c.Settings
	return SchemaColumn{
		Code:     c.Code,
		Title:    c.Title,
		Type:     c.Type,
		Sort:     c.Sort,
		Options:  settings.Options,
		Required: settings.Required,
		Settings: &settings,
	}
}

// Column size limits.
const (
	MaxColumnCodeLen  = 50
	MaxColumnTypeLen  = 20
	MaxColumnTitleLen = 255
	MaxTableTitleLen  = 255
	DefaultColumnSort = 500
)

// Cell stores a single (row, column) value of the normalized model.
type Cell struct {
	ID             int64     `json:"id" db:"id"`
	RowID          int64     `json:"row_id" db:"row_id"`
	ColumnID       int64     `json:"column_id" db:"column_id"`
	Value          string    `json:"value" db:"value"`
	FormattedValue string    `json:"formatted_value" db:"formatted_value"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// TableInfo is a table together with its effective columns and counts.
type TableInfo struct {
	Table        Table          `json:"table"`
	Schema       *TableSchema   `json:"schema,omitempty"`
	Columns      []SchemaColumn `json:"columns"`
	RowsCount    int64          `json:"rows_count"`
	ColumnsCount int            `json:"columns_count"`
}

// TableStats summarizes a table.
type TableStats struct {
	TableID      int64      `json:"table_id"`
	ColumnsCount int        `json:"columns_count"`
	RowsCount    int64      `json:"rows_count"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

// TableData is one formatted page of a table.
type TableData struct {
	Table   Table          `json:"table"`
	Columns []SchemaColumn `json:"columns"`
	Rows    []FormattedRow `json:"rows"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
	Total   int64          `json:"total"`
	Pages   int            `json:"pages"`
}

// FormattedRow carries both raw and display values of a row.
type FormattedRow struct {
	ID        int64                  `json:"id"`
	Sort      int                    `json:"sort"`
	Data      map[string]interface{} `json:"data"`
	Formatted map[string]string      `json:"formatted"`
}

// BulkResult reports the outcome of a bulk row operation.
type BulkResult struct {
	SuccessCount int              `json:"success_count"`
	TotalCount   int              `json:"total_count"`
	ErrorCount   int              `json:"error_count"`
	Errors       map[int64]string `json:"errors,omitempty"`
}
