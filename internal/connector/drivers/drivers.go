// Package drivers registers every publish target driver.
package drivers

import (
	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/connector/mssql"
	"github.com/grebion/tables/internal/connector/mysql"
	"github.com/grebion/tables/internal/connector/oracle"
	"github.com/grebion/tables/internal/connector/postgres"
	"github.com/grebion/tables/internal/connector/snowflake"
	"github.com/grebion/tables/internal/connector/sqlite"
)

// Register adds the postgres, mysql, sqlite, mssql, oracle and snowflake
// factories to r.
func Register(r *connector.Registry) {
	r.RegisterDriver("postgres", postgres.New)
	r.RegisterDriver("mysql", mysql.New)
	r.RegisterDriver("sqlite", sqlite.New)
	r.RegisterDriver("mssql", mssql.New)
	r.RegisterDriver("oracle", oracle.New)
	r.RegisterDriver("snowflake", snowflake.New)
}

// NewRegistry returns a registry with every driver registered.
func NewRegistry() *connector.Registry {
	r := connector.NewRegistry()
	Register(r)
	return r
}
