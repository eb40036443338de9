// Package sqlite publishes tables into SQLite database files.
package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/model"
)

// maxParams is SQLITE_MAX_VARIABLE_NUMBER of the bundled library.
const maxParams = 32766

// SQLiteConnector implements connector.Connector for SQLite.
type SQLiteConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a SQLiteConnector.
func New() connector.Connector {
	return &SQLiteConnector{}
}

// Connect opens the database file named by the DSN. Query parameters such
// as ?_pragma=journal_mode(WAL) are passed to the driver.
func (c *SQLiteConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlite", cfg.DSN)
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
	}
	connector.ApplyPool(db, cfg)
	c.schemaName = cfg.SchemaName
	c.db = db
	return nil
}

// Disconnect closes the database.
func (c *SQLiteConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the connection is alive.
func (c *SQLiteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLiteConnector) DB() *sqlx.DB       { return c.db }
func (c *SQLiteConnector) SchemaName() string { return c.schemaName }
func (c *SQLiteConnector) DriverName() string { return "sqlite" }
func (c *SQLiteConnector) MaxParams() int     { return maxParams }

// QuoteIdentifier wraps a name in double quotes.
func (c *SQLiteConnector) QuoteIdentifier(name string) string {
	return connector.QuoteDouble(name)
}

// ParameterPlaceholder returns "?".
func (c *SQLiteConnector) ParameterPlaceholder(_ int) string {
	return "?"
}

// ColumnType maps a column type to a SQLite storage class. Dates are
// stored as text in the canonical layouts.
func (c *SQLiteConnector) ColumnType(t model.ColumnType) string {
	switch t {
	case model.TypeNumber, model.TypeFile, model.TypeBoolean:
		return "INTEGER"
	case model.TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (c *SQLiteConnector) BindValue(t model.ColumnType, v interface{}) interface{} {
	return connector.BindDatesAsText(t, v)
}
