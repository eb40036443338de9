// Package schemadiff compares two column sets of a table schema and
// classifies each difference, so schema updates can convert stored values
// and keep a revision history.
package schemadiff

import (
	"time"

	"github.com/grebion/tables/internal/model"
)

// Category names the kind of a single change.
type Category string

const (
	ColumnAdded     Category = "column_added"
	ColumnRemoved   Category = "column_removed"
	TypeChanged     Category = "type_changed"
	TitleChanged    Category = "title_changed"
	OptionsChanged  Category = "options_changed"
	RequiredChanged Category = "required_changed"
	SortChanged     Category = "sort_changed"
)

// Change describes one difference between the old and the new column set.
// Breaking changes can invalidate rows that were valid before.
type Change struct {
	Category    Category `json:"category"`
	Breaking    bool     `json:"breaking"`
	Code        string   `json:"code"`
	OldValue    string   `json:"old_value,omitempty"`
	NewValue    string   `json:"new_value,omitempty"`
	Description string   `json:"description"`
}

// Result is the full list of changes between two column sets.
type Result struct {
	Changes       []Change `json:"changes"`
	BreakingCount int      `json:"breaking_count"`
}

// HasChanges reports whether anything differs.
func (r Result) HasChanges() bool { return len(r.Changes) > 0 }

// HasBreaking reports whether at least one change is breaking.
func (r Result) HasBreaking() bool { return r.BreakingCount > 0 }

// TypeChanges returns the type_changed entries, the ones that require stored
// values to be converted.
func (r Result) TypeChanges() []Change {
	var out []Change
	for _, c := range r.Changes {
		if c.Category == TypeChanged {
			out = append(out, c)
		}
	}
	return out
}

// Revision is a stored snapshot of a schema's columns together with the
// changes that produced it.
type Revision struct {
	ID          int64                `json:"id" db:"id"`
	SchemaID    int64                `json:"schema_id" db:"schema_id"`
	Columns     []model.SchemaColumn `json:"columns"`
	ColumnsJSON string               `json:"-" db:"columns_json"`
	Changes     []Change             `json:"changes"`
	ChangesJSON string               `json:"-" db:"changes_json"`
	CreatedAt   time.Time            `json:"created_at" db:"created_at"`
}
