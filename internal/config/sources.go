package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/grebion/tables/internal/model"
)

// sourceRow is a flat struct that maps 1:1 to the sources table columns.
// model.Source has a nested Pool struct that doesn't map directly to columns.
type sourceRow struct {
	ID                int64     `db:"id"`
	Name              string    `db:"name"`
	Label             string    `db:"label"`
	Driver            string    `db:"driver"`
	DSN               string    `db:"dsn"`
	PrivateKeyPath    string    `db:"private_key_path"`
	SchemaName        string    `db:"schema_name"`
	IsActive          bool      `db:"is_active"`
	MaxOpenConns      int       `db:"max_open_conns"`
	MaxIdleConns      int       `db:"max_idle_conns"`
	ConnMaxLifetimeMs int64     `db:"conn_max_lifetime_ms"`
	ConnMaxIdleTimeMs int64     `db:"conn_max_idle_time_ms"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func sourceRowFromModel(src *model.Source) sourceRow {
	return sourceRow{
		ID:                src.ID,
		Name:              src.Name,
		Label:             src.Label,
		Driver:            src.Driver,
		DSN:               src.DSN,
		PrivateKeyPath:    src.PrivateKeyPath,
		SchemaName:        src.Schema,
		IsActive:          src.IsActive,
		MaxOpenConns:      src.Pool.MaxOpenConns,
		MaxIdleConns:      src.Pool.MaxIdleConns,
		ConnMaxLifetimeMs: src.Pool.ConnMaxLifetime.Milliseconds(),
		ConnMaxIdleTimeMs: src.Pool.ConnMaxIdleTime.Milliseconds(),
		CreatedAt:         src.CreatedAt,
		UpdatedAt:         src.UpdatedAt,
	}
}

func (r sourceRow) toModel() model.Source {
	return model.Source{
		ID:             r.ID,
		Name:           r.Name,
		Label:          r.Label,
		Driver:         r.Driver,
		DSN:            r.DSN,
		PrivateKeyPath: r.PrivateKeyPath,
		Schema:         r.SchemaName,
		IsActive:       r.IsActive,
		Pool: model.PoolConfig{
			MaxOpenConns:    r.MaxOpenConns,
			MaxIdleConns:    r.MaxIdleConns,
			ConnMaxLifetime: time.Duration(r.ConnMaxLifetimeMs) * time.Millisecond,
			ConnMaxIdleTime: time.Duration(r.ConnMaxIdleTimeMs) * time.Millisecond,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// CreateSource inserts a new publish source. The ID, CreatedAt, and
// UpdatedAt fields on src are populated after a successful insert.
func (s *Store) CreateSource(ctx context.Context, src *model.Source) error {
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now

	row := sourceRowFromModel(src)

	const q = `INSERT INTO sources
		(name, label, driver, dsn, private_key_path, schema_name, is_active,
		 max_open_conns, max_idle_conns, conn_max_lifetime_ms, conn_max_idle_time_ms,
		 created_at, updated_at)
		VALUES
		(:name, :label, :driver, :dsn, :private_key_path, :schema_name, :is_active,
		 :max_open_conns, :max_idle_conns, :conn_max_lifetime_ms, :conn_max_idle_time_ms,
		 :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("source %q: %w", src.Name, ErrConflict)
		}
		return fmt.Errorf("insert source: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get source id: %w", err)
	}
	src.ID = id
	return nil
}

// GetSource returns a source by ID.
func (s *Store) GetSource(ctx context.Context, id int64) (*model.Source, error) {
	var row sourceRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM sources WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get source: %w", err)
	}
	src := row.toModel()
	return &src, nil
}

// GetSourceByName returns a source by its unique name.
func (s *Store) GetSourceByName(ctx context.Context, name string) (*model.Source, error) {
	var row sourceRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM sources WHERE name = ?", name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get source by name: %w", err)
	}
	src := row.toModel()
	return &src, nil
}

// ListSources returns all configured publish sources.
func (s *Store) ListSources(ctx context.Context) ([]model.Source, error) {
	var rows []sourceRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM sources ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	sources := make([]model.Source, len(rows))
	for i, r := range rows {
		sources[i] = r.toModel()
	}
	return sources, nil
}

// UpdateSource updates an existing source. The UpdatedAt field on src is
// refreshed automatically.
func (s *Store) UpdateSource(ctx context.Context, src *model.Source) error {
	src.UpdatedAt = time.Now().UTC()
	row := sourceRowFromModel(src)

	const q = `UPDATE sources SET
		name = :name, label = :label, driver = :driver, dsn = :dsn, private_key_path = :private_key_path,
		schema_name = :schema_name, is_active = :is_active,
		max_open_conns = :max_open_conns, max_idle_conns = :max_idle_conns,
		conn_max_lifetime_ms = :conn_max_lifetime_ms, conn_max_idle_time_ms = :conn_max_idle_time_ms,
		updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return expectOne(result, "update source")
}

// DeleteSource removes a source by ID.
func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return expectOne(result, "delete source")
}
