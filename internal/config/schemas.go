package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/grebion/tables/internal/model"
)

// schemaRow maps the table_schemas columns. The column set is persisted as a
// {"columns":[...]} JSON document.
type schemaRow struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	SchemaJSON  string    `db:"schema_json"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func schemaRowFromModel(sc *model.TableSchema) (schemaRow, error) {
	cols := sc.Columns
	if cols == nil {
		cols = []model.SchemaColumn{}
	}
	doc, err := json.Marshal(model.SchemaDocument{Columns: cols})
	if err != nil {
		return schemaRow{}, fmt.Errorf("marshal schema columns: %w", err)
	}
	return schemaRow{
		ID:          sc.ID,
		Name:        sc.Name,
		Description: sc.Description,
		SchemaJSON:  string(doc),
		CreatedAt:   sc.CreatedAt,
		UpdatedAt:   sc.UpdatedAt,
	}, nil
}

func (r schemaRow) toModel() (model.TableSchema, error) {
	var doc model.SchemaDocument
	if r.SchemaJSON != "" {
		if err := json.Unmarshal([]byte(r.SchemaJSON), &doc); err != nil {
			return model.TableSchema{}, fmt.Errorf("unmarshal schema %d columns: %w", r.ID, err)
		}
	}
	if doc.Columns == nil {
		doc.Columns = []model.SchemaColumn{}
	}
	return model.TableSchema{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Columns:     doc.Columns,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// CreateSchema inserts a new schema. The ID, CreatedAt, and UpdatedAt fields
// on sc are populated after a successful insert.
func (s *Store) CreateSchema(ctx context.Context, sc *model.TableSchema) error {
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now

	row, err := schemaRowFromModel(sc)
	if err != nil {
		return err
	}

	const q = `INSERT INTO table_schemas (name, description, schema_json, created_at, updated_at)
		VALUES (:name, :description, :schema_json, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("schema %q: %w", sc.Name, ErrConflict)
		}
		return fmt.Errorf("insert schema: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get schema id: %w", err)
	}
	sc.ID = id
	return nil
}

// GetSchema returns a schema by ID.
func (s *Store) GetSchema(ctx context.Context, id int64) (*model.TableSchema, error) {
	var row schemaRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM table_schemas WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get schema: %w", err)
	}
	sc, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// GetSchemaByName returns a schema by its unique name.
func (s *Store) GetSchemaByName(ctx context.Context, name string) (*model.TableSchema, error) {
	var row schemaRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM table_schemas WHERE name = ?", name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get schema by name: %w", err)
	}
	sc, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// ListSchemas returns all schemas ordered by name.
func (s *Store) ListSchemas(ctx context.Context) ([]model.TableSchema, error) {
	var rows []schemaRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM table_schemas ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}

	schemas := make([]model.TableSchema, 0, len(rows))
	for _, r := range rows {
		sc, err := r.toModel()
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, sc)
	}
	return schemas, nil
}

// UpdateSchema replaces the name, description and columns of a schema. The
// UpdatedAt field is refreshed automatically.
func (s *Store) UpdateSchema(ctx context.Context, sc *model.TableSchema) error {
	return updateSchema(ctx, s.db, sc)
}

func updateSchema(ctx context.Context, ex namedExecer, sc *model.TableSchema) error {
	sc.UpdatedAt = time.Now().UTC()
	row, err := schemaRowFromModel(sc)
	if err != nil {
		return err
	}

	const q = `UPDATE table_schemas SET
		name = :name, description = :description, schema_json = :schema_json, updated_at = :updated_at
		WHERE id = :id`

	result, err := ex.NamedExecContext(ctx, q, row)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("schema %q: %w", sc.Name, ErrConflict)
		}
		return fmt.Errorf("update schema: %w", err)
	}
	return expectOne(result, "update schema")
}

// DeleteSchema removes a schema. Schemas still referenced by tables are
// kept and ErrConflict is returned.
func (s *Store) DeleteSchema(ctx context.Context, id int64) error {
	var refs int
	if err := s.db.GetContext(ctx, &refs, "SELECT COUNT(*) FROM data_tables WHERE schema_id = ?", id); err != nil {
		return fmt.Errorf("count schema references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("schema %d is used by %d table(s): %w", id, refs, ErrConflict)
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM table_schemas WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete schema: %w", err)
	}
	return expectOne(result, "delete schema")
}
