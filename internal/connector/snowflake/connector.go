// Package snowflake publishes tables into Snowflake. Password and key pair
// (JWT) authentication are supported.
package snowflake

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	gosnowflake "github.com/snowflakedb/gosnowflake"

	"github.com/grebion/tables/internal/connector"
	"github.com/grebion/tables/internal/model"
)

// maxParams keeps a multi-row INSERT below the size Snowflake binds
// inline.
const maxParams = 16384

// SnowflakeConnector implements connector.Connector for Snowflake.
type SnowflakeConnector struct {
	db         *sqlx.DB
	schemaName string
}

// New creates a SnowflakeConnector. Without a configured schema, unqualified
// targets go to the DSN's schema.
func New() connector.Connector {
	return &SnowflakeConnector{}
}

// Connect opens the pool. With PrivateKeyPath set the DSN is rewritten for
// key pair authentication; the PEM file may hold a PKCS#1 or PKCS#8 key.
func (c *SnowflakeConnector) Connect(cfg connector.ConnectionConfig) error {
	dsn := cfg.DSN
	if cfg.PrivateKeyPath != "" {
		var err error
		dsn, err = buildJWTDSN(cfg.DSN, cfg.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("snowflake jwt auth: %w", err)
		}
	}

	db, err := sqlx.Connect("snowflake", dsn)
	if err != nil {
		return fmt.Errorf("snowflake connect: %w", err)
	}
	connector.ApplyPool(db, cfg)
	c.schemaName = cfg.SchemaName
	c.db = db
	return nil
}

// Disconnect closes the connection pool.
func (c *SnowflakeConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the connection is alive.
func (c *SnowflakeConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SnowflakeConnector) DB() *sqlx.DB       { return c.db }
func (c *SnowflakeConnector) SchemaName() string { return c.schemaName }
func (c *SnowflakeConnector) DriverName() string { return "snowflake" }
func (c *SnowflakeConnector) MaxParams() int     { return maxParams }

// QuoteIdentifier wraps a name in double quotes. Quoted names are case
// sensitive in Snowflake.
func (c *SnowflakeConnector) QuoteIdentifier(name string) string {
	return connector.QuoteDouble(name)
}

// ParameterPlaceholder returns "?".
func (c *SnowflakeConnector) ParameterPlaceholder(_ int) string {
	return "?"
}

// ColumnType maps a column type to a Snowflake type. JSON goes to VARCHAR
// because VARIANT columns cannot be bound directly.
func (c *SnowflakeConnector) ColumnType(t model.ColumnType) string {
	switch t {
	case model.TypeNumber, model.TypeFile:
		return "NUMBER(38,0)"
	case model.TypeFloat:
		return "FLOAT"
	case model.TypeDate:
		return "DATE"
	case model.TypeDateTime:
		return "TIMESTAMP_NTZ"
	case model.TypeBoolean:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

func (c *SnowflakeConnector) BindValue(t model.ColumnType, v interface{}) interface{} {
	return connector.BindCommon(t, v)
}

// buildJWTDSN switches a DSN to JWT authentication with the key at keyPath.
func buildJWTDSN(dsn, keyPath string) (string, error) {
	// ParseDSN insists on a password even for JWT auth; a placeholder is
	// injected for user@account DSNs and cleared again below.
	sfConfig, err := gosnowflake.ParseDSN(dsn)
	if err != nil && strings.Contains(err.Error(), "password is empty") {
		if idx := strings.Index(dsn, "@"); idx > 0 && !strings.Contains(dsn[:idx], ":") {
			dsn = dsn[:idx] + ":_" + dsn[idx:]
		}
		sfConfig, err = gosnowflake.ParseDSN(dsn)
	}
	if err != nil {
		return "", fmt.Errorf("parse DSN: %w", err)
	}
	sfConfig.Password = ""

	privKey, err := loadPrivateKey(keyPath)
	if err != nil {
		return "", err
	}

	sfConfig.Authenticator = gosnowflake.AuthTypeJwt
	sfConfig.PrivateKey = privKey

	newDSN, err := gosnowflake.DSN(sfConfig)
	if err != nil {
		return "", fmt.Errorf("rebuild DSN: %w", err)
	}
	return newDSN, nil
}

// loadPrivateKey reads an unencrypted RSA key in PKCS#1 or PKCS#8 PEM.
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key file %q: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %q", path)
	}

	var key interface{}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q (expected RSA PRIVATE KEY or PRIVATE KEY)", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA (got %T)", key)
	}
	return rsaKey, nil
}
