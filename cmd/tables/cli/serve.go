package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	tmcp "github.com/grebion/tables/internal/mcp"
	"github.com/grebion/tables/internal/server"
	"github.com/grebion/tables/internal/sweeper"
)

const banner = `
 _____  _    ____  _     _____ ____
|_   _|/ \  | __ )| |   | ____/ ___|
  | | / _ \ |  _ \| |   |  _| \___ \
  | |/ ___ \| |_) | |___| |___ ___) |
  |_/_/   \_\____/|_____|_____|____/
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Tables API server",
		Long: `Start the HTTP server that exposes the schema, table, row, transfer and
publish APIs. With --daemon the server detaches and logs to the data directory;
stop it with 'tables stop'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return startDaemon()
			}
			var hostOverride *string
			var portOverride *int
			if cmd.Flags().Changed("host") {
				hostOverride = &host
			}
			if cmd.Flags().Changed("port") {
				portOverride = &port
			}
			return runServe(cmd.Context(), hostOverride, portOverride)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run the server in the background")

	return cmd
}

// startDaemon re-executes the current command without --daemon as a detached
// child writing to the log file.
func startDaemon() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	args := make([]string, 0, len(os.Args))
	for _, a := range os.Args[1:] {
		if a == "--daemon" || a == "-d" || a == "--daemon=true" {
			continue
		}
		args = append(args, a)
	}

	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := writePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	fmt.Printf("Tables server started in the background (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	fmt.Println("  Stop: tables stop")
	return nil
}

func runServe(ctx context.Context, host *string, port *int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	if host != nil {
		cfg.Server.Host = *host
	}
	if port != nil {
		cfg.Server.Port = *port
	}
	logger := newLogger(cfg.Logging, os.Stderr)

	a, err := openAppWith(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info("config store initialized", "path", resolveDataDir(), "cache", cfg.Cache.Backend, "events", cfg.Events.Backend)

	a.syncSources(ctx)

	hasAdmin, err := a.store.HasAnyAdmin(ctx)
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin user found - run: tables user create --admin")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is not set; using the development secret")
	}

	if cfg.Sweeper.Enabled {
		sw := sweeper.New(a.tables, a.store,
			parseDuration(cfg.Sweeper.Interval, sweeper.DefaultInterval),
			parseDuration(cfg.Sweeper.OrphanAge, sweeper.DefaultOrphanAge),
			logger)
		sw.Start()
		defer sw.Shutdown()
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = cfg.Server.Host
	srvCfg.Port = cfg.Server.Port
	srvCfg.ShutdownTimeout = parseDuration(cfg.Server.ShutdownTimeout, srvCfg.ShutdownTimeout)
	srvCfg.TokenTTL = parseDuration(cfg.Auth.JWTExpiry, srvCfg.TokenTTL)
	srvCfg.Version = versionString()
	if len(cfg.Server.CORS.Origins) > 0 {
		srvCfg.CORSOrigins = cfg.Server.CORS.Origins
	}
	if cfg.Server.MaxBodySize != "" {
		size, err := parseSize(cfg.Server.MaxBodySize)
		if err != nil {
			return fmt.Errorf("server.max_body_size: %w", err)
		}
		srvCfg.MaxBodySize = size
	}
	srvCfg.RateLimit = 0
	if cfg.Server.RateLimit.Enabled {
		srvCfg.RateLimit = cfg.Server.RateLimit.RequestsPerMin
	}

	deps := server.Deps{
		Store:    a.store,
		Registry: a.registry,
		Auth:     a.auth,
		Tables:   a.tables,
		Perms:    a.perms,
		Publish:  a.publish,
		Transfer: a.transfer,
	}
	if cfg.MCP.Enabled {
		deps.MCP = tmcp.NewMCPServer(a.tables, a.transfer, versionString(), logger).Handler()
	}
	srv := server.New(srvCfg, deps, logger)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer removePID()

	display := cfg.Server.Host
	if display == "0.0.0.0" || display == "" {
		display = "localhost"
	}
	fmt.Printf("→ Tables %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", display, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", display, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", display, cfg.Server.Port)
	if deps.MCP != nil {
		fmt.Printf("→ MCP:        http://%s:%d/mcp\n", display, cfg.Server.Port)
	}
	if last, err := sweeper.LastRun(ctx, a.store); err == nil && !last.IsZero() {
		fmt.Printf("→ Last sweep: %s\n", last.Local().Format(time.RFC1123))
	}
	fmt.Println()

	return srv.ListenAndServe(ctx)
}
