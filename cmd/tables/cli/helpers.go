package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/grebion/tables/internal/config"
	"github.com/grebion/tables/internal/service"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// TABLES_DATA_DIR env var, or ~/.tables as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("TABLES_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tables")
}

// openConfigStore opens the SQLite store in the data directory.
func openConfigStore() (*config.Store, error) {
	return config.NewStore(resolveDataDir())
}

// loadSettings returns the YAML configuration viper located, or the defaults
// when there is none, with TABLES_* environment variables applied on top.
func loadSettings() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.LoadYAMLConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	overrideString(&cfg.Server.Host, "server.host")
	overrideInt(&cfg.Server.Port, "server.port")
	overrideString(&cfg.Server.MaxBodySize, "server.max_body_size")
	overrideString(&cfg.Server.ShutdownTimeout, "server.shutdown_timeout")
	overrideBool(&cfg.Server.RateLimit.Enabled, "server.rate_limit.enabled")
	overrideInt(&cfg.Server.RateLimit.RequestsPerMin, "server.rate_limit.requests_per_min")
	overrideString(&cfg.Auth.JWTSecret, "auth.jwt_secret")
	overrideString(&cfg.Auth.JWTExpiry, "auth.jwt_expiry")
	overrideString(&cfg.Tables.DefaultOwnerType, "tables.default_owner_type")
	overrideInt(&cfg.Tables.PageSize, "tables.page_size")
	overrideString(&cfg.Cache.Backend, "cache.backend")
	overrideString(&cfg.Cache.TTL, "cache.ttl")
	overrideString(&cfg.Cache.Redis.Addr, "cache.redis.addr")
	overrideString(&cfg.Cache.Redis.Password, "cache.redis.password")
	overrideInt(&cfg.Cache.Redis.DB, "cache.redis.db")
	overrideString(&cfg.Events.Backend, "events.backend")
	overrideString(&cfg.Events.Channel, "events.channel")
	overrideString(&cfg.Events.Redis.Addr, "events.redis.addr")
	overrideString(&cfg.Events.Redis.Password, "events.redis.password")
	overrideBool(&cfg.Sweeper.Enabled, "sweeper.enabled")
	overrideString(&cfg.Sweeper.Interval, "sweeper.interval")
	overrideString(&cfg.Sweeper.OrphanAge, "sweeper.orphan_age")
	overrideString(&cfg.Import.Delimiter, "import.delimiter")
	overrideString(&cfg.Import.Encoding, "import.encoding")
	overrideBool(&cfg.MCP.Enabled, "mcp.enabled")
	overrideString(&cfg.MCP.Transport, "mcp.transport")
	overrideString(&cfg.MCP.Addr, "mcp.addr")
	overrideString(&cfg.Logging.Level, "logging.level")
	overrideString(&cfg.Logging.Format, "logging.format")
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetString(key)
	}
}

func overrideInt(dst *int, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetInt(key)
	}
}

func overrideBool(dst *bool, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetBool(key)
	}
}

// newLogger builds the slog logger described by the logging section.
// --dev forces debug.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if devMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseDuration parses a Go duration, returning def for an empty or invalid
// value.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// parseSize parses sizes like "32MB", "512KB" or "1048576" into bytes.
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// printJSON writes v as indented JSON to w.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeError spells out every field of a validation error on its own
// line; other errors pass through.
func describeError(err error) error {
	verr, ok := service.AsValidation(err)
	if !ok {
		return err
	}
	var b strings.Builder
	b.WriteString("validation failed:")
	for _, fe := range verr.Errors {
		b.WriteString("\n  ")
		if fe.Field != "" {
			b.WriteString(fe.Field + ": ")
		}
		b.WriteString(fe.Message)
	}
	return errors.New(b.String())
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "tables.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "tables.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
