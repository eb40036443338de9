package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/events"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/tabular"
)

// PublishService manages publish sources and copies tables into them.
type PublishService struct {
	tables   *TableService
	store    *config.Store
	registry *connector.Registry
	events   events.Publisher
	logger   *slog.Logger
}

// NewPublishService creates a PublishService. Connections are opened on
// first use and kept in registry.
func NewPublishService(tables *TableService, registry *connector.Registry) *PublishService {
	return &PublishService{
		tables:   tables,
		store:    tables.store,
		registry: registry,
		events:   tables.events,
		logger:   tables.logger,
	}
}

// AddSource validates and stores a publish source.
func (p *PublishService) AddSource(ctx context.Context, src *model.Source) error {
	src.Name = strings.TrimSpace(src.Name)
	if !tabular.ValidCode(src.Name) {
		return tabular.NewValidationError("name", tabular.CodeInvalidCode, "source name must match [a-z0-9_]+")
	}
	if !p.registry.HasDriver(src.Driver) {
		return tabular.NewValidationError("driver", tabular.CodeInvalidValue,
			fmt.Sprintf("unsupported driver %q (available: %s)", src.Driver, strings.Join(p.registry.Drivers(), ", ")))
	}
	if strings.TrimSpace(src.DSN) == "" {
		return tabular.NewValidationError("dsn", tabular.CodeRequired, "dsn is required")
	}
	src.DSN = connector.SanitizeDSN(src.Driver, src.DSN)
	if src.Pool == (model.PoolConfig{}) {
		src.Pool = model.DefaultPoolConfig()
	}
	src.IsActive = true
	return p.store.CreateSource(ctx, src)
}

// ListSources returns the sources with masked DSNs.
func (p *PublishService) ListSources(ctx context.Context) ([]model.Source, error) {
	sources, err := p.store.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sources {
		sources[i].DSN = connector.MaskDSN(sources[i].DSN)
	}
	return sources, nil
}

// RemoveSource deletes a source and closes its connection.
func (p *PublishService) RemoveSource(ctx context.Context, name string) error {
	src, err := p.store.GetSourceByName(ctx, name)
	if err != nil {
		return err
	}
	if err := p.store.DeleteSource(ctx, src.ID); err != nil {
		return err
	}
	p.registry.Disconnect(name) //nolint:errcheck
	return nil
}

// conn returns the live connection of a source, connecting on first use.
func (p *PublishService) conn(ctx context.Context, name string) (connector.Connector, error) {
	if c, err := p.registry.Get(name); err == nil {
		return c, nil
	}
	src, err := p.store.GetSourceByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !src.IsActive {
		return nil, fmt.Errorf("source %q is disabled", name)
	}
	if err := p.registry.Connect(name, connector.ConfigFromSource(*src)); err != nil {
		return nil, err
	}
	return p.registry.Get(name)
}

// TestSource connects to a source and pings it.
func (p *PublishService) TestSource(ctx context.Context, name string) error {
	c, err := p.conn(ctx, name)
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}

// PublishTable copies a table's effective columns and rows into target of
// the named source.
func (p *PublishService) PublishTable(ctx context.Context, tableID int64, source, target string, opts connector.PublishOptions) (*connector.PublishResult, error) {
	_, cols, err := p.tables.TableColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}
	rows, err := p.tables.allRows(ctx, tableID)
	if err != nil {
		return nil, err
	}
	c, err := p.conn(ctx, source)
	if err != nil {
		return nil, err
	}

	res, err := connector.Publish(ctx, c, target, cols, rows, opts)
	if err != nil {
		p.logger.Warn("publish failed", "table_id", tableID, "source", source, "target", target, "error", err)
		return nil, err
	}
	p.logger.Info("table published",
		"table_id", tableID,
		"source", source,
		"target", res.Target,
		"rows", res.Rows,
		"took_ms", res.TookMs,
	)
	p.events.Publish(ctx, events.Event{Type: events.TablePublished, TableID: tableID, Meta: map[string]interface{}{
		"source": source,
		"target": res.Target,
		"rows":   res.Rows,
	}})
	return res, nil
}
