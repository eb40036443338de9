package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/schemadiff"
)

// SaveSchemaRevision records a snapshot of a schema's columns together with
// the changes that led to it.
func (s *Store) SaveSchemaRevision(ctx context.Context, schemaID int64, columns []model.SchemaColumn, changes []schemadiff.Change) (*schemadiff.Revision, error) {
	return insertRevision(ctx, s.db, schemaID, columns, changes)
}

func insertRevision(ctx context.Context, ex execer, schemaID int64, columns []model.SchemaColumn, changes []schemadiff.Change) (*schemadiff.Revision, error) {
	if columns == nil {
		columns = []model.SchemaColumn{}
	}
	if changes == nil {
		changes = []schemadiff.Change{}
	}
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("marshal revision columns: %w", err)
	}
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("marshal revision changes: %w", err)
	}

	now := time.Now().UTC()
	const q = `INSERT INTO schema_revisions (schema_id, columns_json, changes_json, created_at)
		VALUES (?, ?, ?, ?)`
	result, err := ex.ExecContext(ctx, q, schemaID, string(columnsJSON), string(changesJSON), now)
	if err != nil {
		return nil, fmt.Errorf("save schema revision: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get schema revision id: %w", err)
	}
	return &schemadiff.Revision{
		ID:          id,
		SchemaID:    schemaID,
		Columns:     columns,
		ColumnsJSON: string(columnsJSON),
		Changes:     changes,
		ChangesJSON: string(changesJSON),
		CreatedAt:   now,
	}, nil
}

// ListSchemaRevisions returns the revisions of a schema, newest first.
func (s *Store) ListSchemaRevisions(ctx context.Context, schemaID int64) ([]schemadiff.Revision, error) {
	var revs []schemadiff.Revision
	const q = `SELECT id, schema_id, columns_json, changes_json, created_at
		FROM schema_revisions WHERE schema_id = ? ORDER BY id DESC`
	if err := s.db.SelectContext(ctx, &revs, q, schemaID); err != nil {
		return nil, fmt.Errorf("list schema revisions: %w", err)
	}

	for i := range revs {
		if err := json.Unmarshal([]byte(revs[i].ColumnsJSON), &revs[i].Columns); err != nil {
			return nil, fmt.Errorf("unmarshal revision %d columns: %w", revs[i].ID, err)
		}
		if err := json.Unmarshal([]byte(revs[i].ChangesJSON), &revs[i].Changes); err != nil {
			return nil, fmt.Errorf("unmarshal revision %d changes: %w", revs[i].ID, err)
		}
	}
	return revs, nil
}

// UpdateSchemaWithRows stores a changed schema, the rows rewritten for it
// and its revision in one transaction. A revision is only recorded when
// changes is non-empty; the returned revision is nil otherwise.
func (s *Store) UpdateSchemaWithRows(ctx context.Context, sc *model.TableSchema, rows []model.Row, changes []schemadiff.Change) (*schemadiff.Revision, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := updateSchema(ctx, tx, sc); err != nil {
		return nil, err
	}
	if err := updateRows(ctx, tx, rows); err != nil {
		return nil, err
	}
	var rev *schemadiff.Revision
	if len(changes) > 0 {
		if rev, err = insertRevision(ctx, tx, sc.ID, sc.Columns, changes); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit schema update: %w", err)
	}
	return rev, nil
}
