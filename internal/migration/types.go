// Package migration runs golang-migrate/migrate schema migrations against
// the two ancillary databases the broker's admin surface depends on:
// PostgreSQL (the archive manifest) and ClickHouse (the DLQ archive sink).
// Redis Streams themselves need no schema and are never migrated here.
package migration

import "context"

// DatabaseType identifies one of the two migrated databases.
type DatabaseType string

const (
	PostgresDB   DatabaseType = "postgres"
	ClickHouseDB DatabaseType = "clickhouse"
)

// Status reports one database's current migration version.
type Status struct {
	Database        DatabaseType `json:"database"`
	CurrentVersion  uint         `json:"current_version"`
	IsDirty         bool         `json:"is_dirty"`
	State           string       `json:"state"` // "healthy", "dirty", "error", "not_initialized"
	Error           string       `json:"error,omitempty"`
	MigrationsPath  string       `json:"migrations_path"`
	TotalMigrations int          `json:"total_migrations"`
}

// Info bundles the status of both databases for the migrate CLI's `info`
// command.
type Info struct {
	Postgres   Status `json:"postgres"`
	ClickHouse Status `json:"clickhouse"`
	Overall    string `json:"overall_status"`
}

// AutoMigrator runs pending migrations on process startup when configured.
type AutoMigrator interface {
	AutoMigrate(ctx context.Context) error
	CanAutoMigrate() bool
}
