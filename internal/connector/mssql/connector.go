// Package mssql publishes tables into SQL Server.
package mssql

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/model"
)

// maxParams stays below the 2100 parameter limit of an RPC call.
const maxParams = 2000

// MSSQLConnector implements connector.Connector for SQL Server.
type MSSQLConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates an MSSQLConnector that publishes into "dbo".
func New() connector.Connector {
	return &MSSQLConnector{schemaName: "dbo"}
}

// Connect opens the pool and records the target schema.
func (c *MSSQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlserver", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)
	if cfg.SchemaName != "" {
		c.schemaName = cfg.SchemaName
	}
	c.db = db
	return nil
}

// Disconnect closes the connection pool.
func (c *MSSQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the connection is alive.
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *MSSQLConnector) DB() *sqlx.DB       { return c.db }
func (c *MSSQLConnector) SchemaName() string { return c.schemaName }
func (c *MSSQLConnector) DriverName() string { return "mssql" }
func (c *MSSQLConnector) MaxParams() int     { return maxParams }

// QuoteIdentifier wraps a name in square brackets.
func (c *MSSQLConnector) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// ParameterPlaceholder returns @p1, @p2, ...
func (c *MSSQLConnector) ParameterPlaceholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

// ColumnType maps a column type to a SQL Server type.
func (c *MSSQLConnector) ColumnType(t model.ColumnType) string {
	switch t {
	case model.TypeNumber, model.TypeFile:
		return "BIGINT"
	case model.TypeFloat:
		return "FLOAT"
	case model.TypeDate:
		return "DATE"
	case model.TypeDateTime:
		return "DATETIME2"
	case model.TypeBoolean:
		return "BIT"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (c *MSSQLConnector) BindValue(t model.ColumnType, v interface{}) interface{} {
	return connector.BindCommon(t, v)
}
