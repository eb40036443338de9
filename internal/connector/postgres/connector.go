// Package postgres publishes tables into PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/model"
)

// maxParams is the PostgreSQL wire protocol limit.
const maxParams = 65535

// PostgresConnector implements connector.Connector for PostgreSQL.
type PostgresConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a PostgresConnector that publishes into "public".
func New() connector.Connector {
	return &PostgresConnector{schemaName: "public"}
}

// Connect opens the pool and records the target schema.
func (c *PostgresConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	connector.ApplyPool(db, cfg)
	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}
	c.db = db
	return nil
}

// Disconnect closes the connection pool.
func (c *PostgresConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the connection is alive.
func (c *PostgresConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *PostgresConnector) DB() *sqlx.DB       { return c.db }
func (c *PostgresConnector) SchemaName() string { return c.schemaName }
func (c *PostgresConnector) DriverName() string { return "postgres" }
func (c *PostgresConnector) MaxParams() int     { return maxParams }

// QuoteIdentifier wraps a name in double quotes.
func (c *PostgresConnector) QuoteIdentifier(name string) string {
	return connector.QuoteDouble(name)
}

// ParameterPlaceholder returns $1, $2, ...
func (c *PostgresConnector) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// ColumnType maps a column type to a PostgreSQL type.
func (c *PostgresConnector) ColumnType(t model.ColumnType) string {
	switch t {
	case model.TypeNumber, model.TypeFile:
		return "BIGINT"
	case model.TypeFloat:
		return "DOUBLE PRECISION"
	case model.TypeDate:
		return "DATE"
	case model.TypeDateTime:
		return "TIMESTAMP"
	case model.TypeBoolean:
		return "BOOLEAN"
	case model.TypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (c *PostgresConnector) BindValue(t model.ColumnType, v interface{}) interface{} {
	return connector.BindCommon(t, v)
}
