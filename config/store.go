package config

import "fmt"

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// StoreConfig selects where units and alerts are persisted.
type StoreConfig struct {
	Backend  string         `json:"backend"`
	Path     string         `json:"path"`
	Postgres PostgresConfig `json:"postgres"`
}

type PostgresConfig struct {
	DSN      string `json:"dsn"`
	MaxConns int32  `json:"max_conns"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StoreMemory
	}
	if c.Backend == StoreSQLite && c.Path == "" {
		c.Path = "dispatch.db"
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 10
	}
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case StoreMemory:
	case StoreSQLite:
		if c.Path == "" {
			return fmt.Errorf("path is required for sqlite")
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
	return nil
}
