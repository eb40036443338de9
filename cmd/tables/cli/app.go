package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grebion/tables/internal/cache"
	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/connector/drivers"
	"github.com/grebion/tables/internal/events"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/transfer"
)

// devJWTSecret signs sessions when no secret is configured.
const devJWTSecret = "tables-dev-secret-change-me"

// app is the wired service graph shared by serve, mcp and the data commands.
type app struct {
	cfg      *config.YAMLConfig
	logger   *slog.Logger
	store    *config.Store
	registry *connector.Registry
	cache    cache.Cache
	events   events.Publisher
	auth     *service.AuthService
	tables   *service.TableService
	perms    *service.PermissionService
	publish  *service.PublishService
	transfer *transfer.Service

	redisClients []*redis.Client
}

// openApp loads the settings, opens the store and builds every service.
// Callers must Close the returned app.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return openAppWith(ctx, cfg, newLogger(cfg.Logging, os.Stderr))
}

func openAppWith(ctx context.Context, cfg *config.YAMLConfig, logger *slog.Logger) (*app, error) {
	store, err := openConfigStore()
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: drivers.NewRegistry(),
	}

	if a.cache, err = a.newCache(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.events, err = a.newEvents(ctx); err != nil {
		a.Close()
		return nil, err
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = devJWTSecret
	}
	a.auth = service.NewAuthService(store, secret)
	a.tables = service.NewTableService(store, a.cache, a.events, logger, service.TableOptions{
		DefaultOwnerType: cfg.Tables.DefaultOwnerType,
		PageSize:         cfg.Tables.PageSize,
	})
	a.perms = service.NewPermissionService(store)
	a.publish = service.NewPublishService(a.tables, a.registry)
	a.transfer = transfer.New(a.tables, a.events, logger)
	return a, nil
}

func (a *app) newCache(ctx context.Context) (cache.Cache, error) {
	ttl := parseDuration(a.cfg.Cache.TTL, time.Hour)
	switch strings.ToLower(a.cfg.Cache.Backend) {
	case "", "memory":
		return cache.NewMemory(ttl), nil
	case "redis":
		r := a.cfg.Cache.Redis
		client, err := cache.NewRedisClient(ctx, r.Addr, r.Password, r.DB)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		a.redisClients = append(a.redisClients, client)
		return cache.NewRedis(client, "tables:", ttl, a.logger), nil
	case "none":
		return cache.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q (memory, redis, none)", a.cfg.Cache.Backend)
	}
}

func (a *app) newEvents(ctx context.Context) (events.Publisher, error) {
	switch strings.ToLower(a.cfg.Events.Backend) {
	case "", "log":
		return events.NewLog(a.logger), nil
	case "redis":
		r := a.cfg.Events.Redis
		client, err := cache.NewRedisClient(ctx, r.Addr, r.Password, r.DB)
		if err != nil {
			return nil, fmt.Errorf("events: %w", err)
		}
		a.redisClients = append(a.redisClients, client)
		return events.NewRedis(client, a.cfg.Events.Channel, a.logger), nil
	case "none":
		return events.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q (log, redis, none)", a.cfg.Events.Backend)
	}
}

// syncSources stores the sources of the YAML file that the store does not
// know yet. Sources added through the API or CLI are left alone.
func (a *app) syncSources(ctx context.Context) {
	for _, s := range a.cfg.Sources {
		if _, err := a.store.GetSourceByName(ctx, s.Name); err == nil {
			continue
		}
		src := &model.Source{
			Name:           s.Name,
			Driver:         s.Driver,
			DSN:            s.DSN,
			Schema:         s.Schema,
			PrivateKeyPath: s.PrivateKeyPath,
		}
		if s.Pool != nil {
			src.Pool = model.PoolConfig{
				MaxOpenConns:    s.Pool.MaxOpenConns,
				MaxIdleConns:    s.Pool.MaxIdleConns,
				ConnMaxLifetime: parseDuration(s.Pool.ConnMaxLifetime, 0),
			}
		}
		if err := a.publish.AddSource(ctx, src); err != nil {
			a.logger.Error("failed to add source from config", "source", s.Name, "error", err)
			continue
		}
		a.logger.Info("added source from config", "source", s.Name, "driver", s.Driver)
	}
}

// Close releases the store, the source connections and the Redis clients.
func (a *app) Close() {
	a.registry.CloseAll()
	for _, c := range a.redisClients {
		c.Close()
	}
	a.store.Close()
}
