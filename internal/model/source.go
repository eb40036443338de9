package model

import "time"

// Source is an external database that table instances can be published to.
type Source struct {
	ID             int64      `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	Label          string     `json:"label" db:"label"`
	Driver         string     `json:"driver" db:"driver"` // postgres, mysql, sqlite, mssql, oracle, snowflake
	DSN            string     `json:"dsn,omitempty" db:"dsn"`
	PrivateKeyPath string     `json:"private_key_path,omitempty" db:"private_key_path"`
	Schema         string     `json:"schema" db:"schema_name"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	Pool           PoolConfig `json:"pool"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// PoolConfig controls the connection pool opened against a source.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultPoolConfig returns the pool used for publish connections. Publishing
// is bursty and short lived, so the pool stays small.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}
