package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/handler"
	"github.com/grebion/tables/internal/model"
	"github.com/grebion/tables/internal/server/middleware"
	"github.com/grebion/tables/internal/service"
	"github.com/grebion/tables/internal/transfer"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	RateLimit       int   // requests per minute and client; 0 disables
	TokenTTL        time.Duration
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     32 * 1024 * 1024, // 32MB, the import limit
		RateLimit:       600,
		TokenTTL:        handler.DefaultTokenTTL,
		Version:         "dev",
	}
}

// Deps are the services the routes are served from. MCP is optional; when
// set it is mounted at /mcp for admins.
type Deps struct {
	Store    *config.Store
	Registry *connector.Registry
	Auth     *service.AuthService
	Tables   *service.TableService
	Perms    *service.PermissionService
	Publish  *service.PublishService
	Transfer *transfer.Service
	MCP      http.Handler
}

// Server is the top-level HTTP server. It owns the Chi router and the
// services behind it.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With", "If-None-Match"},
		ExposedHeaders:   []string{"X-Request-ID", "ETag", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}
	if s.cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(s.cfg.RateLimit))
	}

	d := s.deps
	sysHandler := handler.NewSystemHandler(d.Store, d.Auth, d.Publish)
	sysHandler.SetTokenTTL(s.cfg.TokenTTL)
	schemaHandler := handler.NewSchemaHandler(d.Tables)
	tableHandler := handler.NewTableHandler(d.Tables, d.Perms)
	transferHandler := handler.NewTransferHandler(d.Transfer)
	permHandler := handler.NewPermissionHandler(d.Perms)
	publishHandler := handler.NewPublishHandler(d.Publish)
	ajaxHandler := handler.NewAjaxHandler(d.Tables, d.Perms)
	specHandler := handler.NewOpenAPIHandler(d.Tables, s.cfg.Version)

	// --- Health checks and docs (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", specHandler.ServeSpec)

	authenticated := middleware.Authenticate(d.Auth)
	admin := middleware.RequireAdmin()

	if d.MCP != nil {
		r.With(authenticated, admin).Handle("/mcp", d.MCP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/system/login", sysHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(authenticated)
			if s.cfg.RateLimit > 0 {
				r.Use(middleware.RateLimitByPrincipal(s.cfg.RateLimit))
			}

			r.Route("/system", func(r chi.Router) {
				r.Get("/me", sysHandler.Me)

				r.Group(func(r chi.Router) {
					r.Use(admin)

					r.Get("/users", sysHandler.ListUsers)
					r.Post("/users", sysHandler.CreateUser)
					r.Delete("/users/{userID}", sysHandler.DeleteUser)

					r.Get("/api-keys", sysHandler.ListAPIKeys)
					r.Post("/api-keys", sysHandler.CreateAPIKey)
					r.Delete("/api-keys/{keyID}", sysHandler.RevokeAPIKey)

					r.Get("/sources", sysHandler.ListSources)
					r.Post("/sources", sysHandler.CreateSource)
					r.Delete("/sources/{name}", sysHandler.DeleteSource)
					r.Post("/sources/{name}/test", sysHandler.TestSource)
				})
			})

			r.Post("/ajax", ajaxHandler.Handle)
			r.Get("/me/tables", permHandler.MyTables)

			r.Route("/schemas", func(r chi.Router) {
				r.Get("/", schemaHandler.ListSchemas)
				r.Get("/{id}", schemaHandler.GetSchema)
				r.Get("/{id}/validation", schemaHandler.GetValidationSchema)
				r.Get("/{id}/revisions", schemaHandler.ListRevisions)
				r.Post("/{id}/diff", schemaHandler.DiffSchema)

				r.Group(func(r chi.Router) {
					r.Use(admin)
					r.Post("/", schemaHandler.CreateSchema)
					r.Put("/{id}", schemaHandler.UpdateSchema)
					r.Delete("/{id}", schemaHandler.DeleteSchema)
				})
			})

			r.Route("/tables", func(r chi.Router) {
				r.Get("/", tableHandler.ListTables)
				r.Post("/", tableHandler.CreateTable)
				r.Post("/import", transferHandler.ImportDocument)

				r.Route("/{id}", func(r chi.Router) {
					// Roles and ownership are managed with admin access to the table.
					r.Group(func(r chi.Router) {
						r.Use(middleware.RequireTableAccess(d.Perms, model.ActionAdmin))
						r.Get("/permissions", permHandler.ListPermissions)
						r.Post("/permissions", permHandler.AssignRole)
						r.Post("/permissions/copy", permHandler.CopyPermissions)
						r.Delete("/permissions/{userID}", permHandler.RevokeRole)
						r.Post("/publish", publishHandler.Publish)
						r.Put("/owner", tableHandler.SetOwner)
					})

					// Everything else needs the action of the request method.
					r.Group(func(r chi.Router) {
						r.Use(middleware.RequireTableAccess(d.Perms, ""))

						r.Get("/", tableHandler.GetTable)
						r.Patch("/", tableHandler.UpdateTable)
						r.Delete("/", tableHandler.DeleteTable)
						r.Post("/copy", tableHandler.CopyTable)
						r.Get("/stats", tableHandler.GetStats)
						r.Get("/data", tableHandler.GetData)
						r.Get("/search", tableHandler.SearchRows)

						r.Get("/rows", tableHandler.ListRows)
						r.Post("/rows", tableHandler.CreateRows)
						r.Patch("/rows", tableHandler.UpdateRows)
						r.Delete("/rows", tableHandler.DeleteRows)
						r.Put("/rows/sort", tableHandler.UpdateSort)
						r.Get("/rows/{rowID}", tableHandler.GetRow)
						r.Put("/rows/{rowID}", tableHandler.ReplaceRow)
						r.Patch("/rows/{rowID}", tableHandler.PatchRow)
						r.Delete("/rows/{rowID}", tableHandler.DeleteRow)
						r.Post("/rows/{rowID}/move", tableHandler.MoveRow)
						r.Get("/rows/{rowID}/cells/{code}", tableHandler.GetRowCell)
						r.Put("/rows/{rowID}/cells/{code}", tableHandler.SetRowCell)

						r.Get("/columns", tableHandler.ListColumns)
						r.Post("/columns", tableHandler.AddColumn)
						r.Put("/columns/order", tableHandler.ReorderColumns)
						r.Put("/columns/{column}", tableHandler.UpdateColumn)
						r.Delete("/columns/{column}", tableHandler.DeleteColumn)
						r.Post("/columns/{column}/convert", tableHandler.ConvertColumn)

						r.Get("/cells", tableHandler.GetMatrix)
						r.Put("/cells", tableHandler.SetCell)
						r.Get("/cells/search", tableHandler.SearchCells)

						r.Post("/import", transferHandler.Import)
						r.Get("/export", transferHandler.Export)
					})
				})
			})
		})
	})

	s.router = r
}

// handleHealthz is the liveness check. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

// handleReadyz is the readiness check. Returns 200 when the metadata store and
// every connected publish source answer a ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string)

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["store"] = "ok"
	}

	if s.deps.Registry != nil {
		for _, name := range s.deps.Registry.Connected() {
			conn, err := s.deps.Registry.Get(name)
			if err != nil {
				checks["source:"+name] = "error: " + err.Error()
				status = "degraded"
				continue
			}
			if err := conn.Ping(r.Context()); err != nil {
				checks["source:"+name] = "error: " + err.Error()
				status = "degraded"
			} else {
				checks["source:"+name] = "ok"
			}
		}
	}

	httpStatus := http.StatusOK
	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled or
// a SIGINT or SIGTERM is received. It then drains in-flight requests and
// closes the publish source connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "version", s.cfg.Version)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if s.deps.Registry != nil {
		s.deps.Registry.CloseAll()
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
