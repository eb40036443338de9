// Package connector publishes table instances into external SQL databases.
// Each driver package implements Connector for one database and knows its
// quoting, placeholders and column types; the SQL is built here.
package connector

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/grebion/tables/internal/model"
)

// ConnectionConfig holds database connection parameters.
type ConnectionConfig struct {
	Driver          string
	DSN             string
	SchemaName      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PrivateKeyPath  string // PEM private key for Snowflake key pair auth
}

// ConfigFromSource turns a stored publish source into connection settings.
// Pool values left at zero fall back to model.DefaultPoolConfig.
func ConfigFromSource(src model.Source) ConnectionConfig {
	pool := src.Pool
	def := model.DefaultPoolConfig()
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = def.MaxOpenConns
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = def.MaxIdleConns
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	return ConnectionConfig{
		Driver:          src.Driver,
		DSN:             SanitizeDSN(src.Driver, src.DSN),
		SchemaName:      src.Schema,
		MaxOpenConns:    pool.MaxOpenConns,
		MaxIdleConns:    pool.MaxIdleConns,
		ConnMaxLifetime: pool.ConnMaxLifetime,
		ConnMaxIdleTime: pool.ConnMaxIdleTime,
		PrivateKeyPath:  src.PrivateKeyPath,
	}
}

// Dialect is the SQL flavor of a database. Statement builders only need a
// Dialect, so they work without a live connection.
type Dialect interface {
	DriverName() string
	QuoteIdentifier(name string) string
	ParameterPlaceholder(index int) string

	// ColumnType returns the column type used for values of t.
	ColumnType(t model.ColumnType) string

	// BindValue converts a stored row value into an argument the driver
	// accepts for a column of type t.
	BindValue(t model.ColumnType, v interface{}) interface{}

	// MaxParams is the number of bind parameters one statement may carry.
	MaxParams() int
}

// Connector is the interface that all publish targets must implement.
type Connector interface {
	Dialect

	Connect(cfg ConnectionConfig) error
	Disconnect() error
	Ping(ctx context.Context) error
	DB() *sqlx.DB

	// SchemaName is the schema unqualified targets are created in. It may
	// be empty for databases without schemas.
	SchemaName() string
}

// ApplyPool sets the pool limits of cfg on db.
func ApplyPool(db *sqlx.DB, cfg ConnectionConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// QuoteDouble quotes an identifier the ANSI way.
func QuoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SanitizeDSN percent-encodes the userinfo of URL-style DSNs (postgres://,
// sqlserver://, oracle://) so passwords with @, # or % parse, and rewrites
// MySQL DSNs into the tcp() form go-sql-driver expects. Other DSNs are
// returned unchanged.
func SanitizeDSN(driver, dsn string) string {
	switch driver {
	case "postgres", "mssql", "oracle":
		return sanitizeURLDSN(dsn)
	case "mysql":
		return sanitizeMySQLDSN(dsn)
	default:
		return dsn
	}
}

// mysqlBareHostPort matches "user:pass@host:port/db".
var mysqlBareHostPort = regexp.MustCompile(`^(.+)@([^(@]+:\d+)(/.*)?$`)

// sanitizeMySQLDSN accepts
//
//	user:pass@host:port/db
//	user:pass@(host:port)/db
//	user:pass@tcp(host:port)/db
//
// and returns the last form. Unparseable input is returned as is so the
// connect call reports the error.
func sanitizeMySQLDSN(dsn string) string {
	if cfg, err := mysqldriver.ParseDSN(dsn); err == nil && (cfg.Net == "tcp" || cfg.Net == "unix") {
		return cfg.FormatDSN()
	}

	if idx := strings.LastIndex(dsn, "@("); idx >= 0 {
		fixed := dsn[:idx] + "@tcp" + dsn[idx+1:]
		if cfg, err := mysqldriver.ParseDSN(fixed); err == nil {
			return cfg.FormatDSN()
		}
	}

	if m := mysqlBareHostPort.FindStringSubmatch(dsn); m != nil {
		fixed := m[1] + "@tcp(" + m[2] + ")" + m[3]
		if cfg, err := mysqldriver.ParseDSN(fixed); err == nil {
			return cfg.FormatDSN()
		}
	}
	return dsn
}

// sanitizeURLDSN splits the userinfo at the last '@' and the first ':' and
// re-encodes user and password.
func sanitizeURLDSN(dsn string) string {
	schemeEnd := strings.Index(dsn, "://")
	if schemeEnd < 0 {
		return dsn
	}
	scheme := dsn[:schemeEnd]
	rest := dsn[schemeEnd+3:]

	query := ""
	if qi := strings.IndexByte(rest, '?'); qi >= 0 {
		query = rest[qi:]
		rest = rest[:qi]
	}

	atIdx := strings.LastIndex(rest, "@")
	if atIdx < 0 {
		return dsn
	}
	userinfo, hostpath := rest[:atIdx], rest[atIdx+1:]

	user, pass, hasPass := userinfo, "", false
	if ci := strings.IndexByte(userinfo, ':'); ci >= 0 {
		user, pass, hasPass = userinfo[:ci], userinfo[ci+1:], true
	}
	// Already encoded input must not be encoded twice.
	if u, err := url.PathUnescape(user); err == nil {
		user = u
	}
	if p, err := url.PathUnescape(pass); err == nil {
		pass = p
	}
	info := url.User(user)
	if hasPass {
		info = url.UserPassword(user, pass)
	}
	return scheme + "://" + info.String() + "@" + hostpath + query
}

// MaskDSN hides the password of a DSN for display.
func MaskDSN(dsn string) string {
	prefix, rest := "", dsn
	if i := strings.Index(dsn, "://"); i >= 0 {
		prefix, rest = dsn[:i+3], dsn[i+3:]
	}
	authority := rest
	if qi := strings.IndexByte(authority, '?'); qi >= 0 {
		authority = authority[:qi]
	}
	at := strings.LastIndex(authority, "@")
	if at < 0 {
		return dsn
	}
	if ci := strings.IndexByte(rest[:at], ':'); ci >= 0 {
		return prefix + rest[:ci] + ":****" + rest[at:]
	}
	return dsn
}
