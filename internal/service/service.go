// Package service holds the business logic of table schemas, table
// instances, rows, legacy columns and cells, and of per-table permissions
// and authentication. Handlers, the MCP server and the CLI all go through
// it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/grebion/tables/internal/cache"
	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/events"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/tabular"
)

// Defaults applied by NewTableService.
const (
	DefaultOwnerType = "IBLOCK_ELEMENT"
	DefaultPageSize  = 50
	MaxPageSize      = 1000
)

// TableOptions tunes a TableService.
type TableOptions struct {
	DefaultOwnerType string
	PageSize         int
}

// TableService orchestrates schemas, tables, rows, legacy columns and cells
// on top of the config store. Reads go through the tagged cache and every
// write invalidates the tags it touches and publishes an event.
type TableService struct {
	store  *config.Store
	cache  cache.Cache
	events events.Publisher
	logger *slog.Logger
	opts   TableOptions
}

// NewTableService creates a TableService. A nil cache, publisher or logger
// is replaced by a no-op cache, a no-op publisher and slog.Default.
func NewTableService(store *config.Store, c cache.Cache, pub events.Publisher, logger *slog.Logger, opts TableOptions) *TableService {
	if c == nil {
		c = cache.Noop{}
	}
	if pub == nil {
		pub = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultOwnerType == "" {
		opts.DefaultOwnerType = DefaultOwnerType
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &TableService{store: store, cache: c, events: pub, logger: logger, opts: opts}
}

// Store exposes the underlying config store.
func (s *TableService) Store() *config.Store { return s.store }

// IsNotFound reports whether err means a missing record.
func IsNotFound(err error) bool { return errors.Is(err, config.ErrNotFound) }

// IsConflict reports whether err means a uniqueness or reference conflict.
func IsConflict(err error) bool { return errors.Is(err, config.ErrConflict) }

// AsValidation returns the validation error wrapped in err, if any.
func AsValidation(err error) (*tabular.ValidationError, bool) {
	var verr *tabular.ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

func (s *TableService) publish(ctx context.Context, e events.Event) {
	s.events.Publish(ctx, e)
}

// invalidateTable drops every cached read of one table. Structural changes
// also drop the table lists.
func (s *TableService) invalidateTable(ctx context.Context, id int64, structural bool) {
	tags := []string{cache.TableTag(id)}
	if structural {
		tags = append(tags, cache.TagTables)
	}
	s.cache.InvalidateTag(ctx, tags...)
}

func (s *TableService) invalidateSchema(ctx context.Context, id int64) {
	s.cache.InvalidateTag(ctx, cache.SchemaTag(id), cache.TagTables)
}

func tableKey(id int64, part string) string {
	return "table:" + strconv.FormatInt(id, 10) + ":" + part
}

// getTable loads a table, wrapping a missing one with its id.
func (s *TableService) getTable(ctx context.Context, id int64) (*model.Table, error) {
	t, err := s.store.GetTable(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("table %d: %w", id, err)
		}
		return nil, err
	}
	return t, nil
}

// EffectiveColumns returns the column set rows of a table are validated
// against: the schema's columns when the table references a schema, its
// legacy columns otherwise. Columns are ordered by sort.
func (s *TableService) EffectiveColumns(ctx context.Context, t *model.Table) ([]model.SchemaColumn, error) {
	if t.SchemaID != nil {
		sc, err := s.GetSchema(ctx, *t.SchemaID)
		if err != nil {
			return nil, fmt.Errorf("schema of table %d: %w", t.ID, err)
		}
		return tabular.SortColumns(sc.Columns), nil
	}
	cols, err := s.store.ListColumns(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	defs := make([]model.SchemaColumn, len(cols))
	for i, c := range cols {
		defs[i] = c.Definition()
	}
	return tabular.SortColumns(defs), nil
}

// TableColumns loads a table and its effective columns.
func (s *TableService) TableColumns(ctx context.Context, tableID int64) (*model.Table, []model.SchemaColumn, error) {
	t, err := s.getTable(ctx, tableID)
	if err != nil {
		return nil, nil, err
	}
	cols, err := s.EffectiveColumns(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	return t, cols, nil
}
