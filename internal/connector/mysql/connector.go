// Package mysql publishes tables into MySQL and MariaDB.
package mysql

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/model"
)

const maxParams = 65535

// MySQLConnector implements connector.Connector for MySQL.
type MySQLConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a MySQLConnector. Without a configured schema, unqualified
// targets go to the DSN's database.
func New() connector.Connector {
	return &MySQLConnector{}
}

// Connect opens the pool. A DSN that go-sql-driver cannot parse is
// normalized first.
func (c *MySQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("mysql", connector.SanitizeDSN("mysql", cfg.DSN))
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)
	c.schemaName = cfg.SchemaName
	c.db = db
	return nil
}

// Disconnect closes the connection pool.
func (c *MySQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the connection is alive.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *MySQLConnector) DB() *sqlx.DB       { return c.db }
func (c *MySQLConnector) SchemaName() string { return c.schemaName }
func (c *MySQLConnector) DriverName() string { return "mysql" }
func (c *MySQLConnector) MaxParams() int     { return maxParams }

// QuoteIdentifier wraps a name in backticks.
func (c *MySQLConnector) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ParameterPlaceholder returns "?"; MySQL placeholders are positional.
func (c *MySQLConnector) ParameterPlaceholder(_ int) string {
	return "?"
}

// ColumnType maps a column type to a MySQL type.
func (c *MySQLConnector) ColumnType(t model.ColumnType) string {
	switch t {
	case model.TypeNumber, model.TypeFile:
		return "BIGINT"
	case model.TypeFloat:
		return "DOUBLE"
	case model.TypeDate:
		return "DATE"
	case model.TypeDateTime:
		return "DATETIME"
	case model.TypeBoolean:
		return "TINYINT(1)"
	case model.TypeJSON:
		return "JSON"
	default:
		return "TEXT"
	}
}

func (c *MySQLConnector) BindValue(t model.ColumnType, v interface{}) interface{} {
	return connector.BindBoolAsInt(t, v)
}
