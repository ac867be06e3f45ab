package migration

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"

	"rotif/internal/config"
	"rotif/internal/infrastructure/database"
	"rotif/pkg/logging"
)

// Manager coordinates schema migrations across PostgreSQL and ClickHouse.
type Manager struct {
	config *config.Config
	logger *logrus.Logger

	postgresDB     *database.PostgresDB
	postgresRunner *migrate.Migrate

	clickhouseDB     *database.ClickHouseDB
	clickhouseRunner *migrate.Migrate
}

// NewManager connects to both databases and opens their migration runners.
func NewManager(cfg *config.Config) (*Manager, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)

	m := &Manager{config: cfg, logger: logger}

	postgresDB, err := database.NewPostgresDB(cfg, logging.NewTextLogger(logging.ParseLevel("warn")))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres database: %w", err)
	}
	m.postgresDB = postgresDB
	if err := m.initPostgresRunner(); err != nil {
		return nil, fmt.Errorf("failed to initialize postgres runner: %w", err)
	}

	clickhouseDB, err := database.NewClickHouseDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize clickhouse database: %w", err)
	}
	m.clickhouseDB = clickhouseDB
	if err := m.initClickHouseRunner(); err != nil {
		return nil, fmt.Errorf("failed to initialize clickhouse runner: %w", err)
	}

	return m, nil
}

func (m *Manager) initPostgresRunner() error {
	sqlDB, err := m.postgresDB.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{
		MigrationsTable: "schema_migrations",
		DatabaseName:    m.config.Database.Database,
	})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	runner, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", m.path(PostgresDB)), "postgres", driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create postgres migration runner: %w", err)
	}
	m.postgresRunner = runner
	return nil
}

func (m *Manager) initClickHouseRunner() error {
	runner, err := migrate.New(
		fmt.Sprintf("file://%s", m.path(ClickHouseDB)), m.config.GetClickHouseURL(),
	)
	if err != nil {
		return fmt.Errorf("failed to create clickhouse migration runner: %w", err)
	}
	m.clickhouseRunner = runner
	return nil
}

func (m *Manager) path(db DatabaseType) string {
	switch db {
	case PostgresDB:
		if m.config.Database.MigrationsPath != "" {
			return m.config.Database.MigrationsPath
		}
		return filepath.Join("migrations", "postgres")
	case ClickHouseDB:
		if m.config.ClickHouse.MigrationsPath != "" {
			return m.config.ClickHouse.MigrationsPath
		}
		return filepath.Join("migrations", "clickhouse")
	default:
		return "migrations"
	}
}

// Up runs every pending migration for db. steps == 0 means "all of them".
func (m *Manager) Up(db DatabaseType, steps int) error {
	runner, err := m.runnerFor(db)
	if err != nil {
		return err
	}
	if steps == 0 {
		return ignoreNoChange(runner.Up())
	}
	return ignoreNoChange(runner.Steps(steps))
}

// Down rolls back migrations for db. steps == 0 rolls back everything.
func (m *Manager) Down(db DatabaseType, steps int) error {
	runner, err := m.runnerFor(db)
	if err != nil {
		return err
	}
	if steps == 0 {
		return ignoreNoChange(runner.Down())
	}
	return ignoreNoChange(runner.Steps(-steps))
}

// Force sets db's recorded version without running any migration, clearing
// a dirty flag left by a migration that failed partway through.
func (m *Manager) Force(db DatabaseType, version int) error {
	runner, err := m.runnerFor(db)
	if err != nil {
		return err
	}
	return runner.Force(version)
}

// Status reports db's current version and dirty flag.
func (m *Manager) Status(db DatabaseType) Status {
	runner, err := m.runnerFor(db)
	if err != nil {
		return Status{Database: db, State: "not_initialized", Error: err.Error(), MigrationsPath: m.path(db)}
	}
	version, dirty, err := runner.Version()
	status := Status{
		Database:        db,
		CurrentVersion:  version,
		IsDirty:         dirty,
		MigrationsPath:  m.path(db),
		TotalMigrations: countMigrations(m.path(db)),
	}
	switch {
	case err == migrate.ErrNilVersion:
		status.State = "healthy"
	case err != nil:
		status.State = "error"
		status.Error = err.Error()
	case dirty:
		status.State = "dirty"
	default:
		status.State = "healthy"
	}
	return status
}

// Info reports the status of both databases together.
func (m *Manager) Info() Info {
	pg := m.Status(PostgresDB)
	ch := m.Status(ClickHouseDB)
	info := Info{Postgres: pg, ClickHouse: ch}
	switch {
	case pg.State == "error" || ch.State == "error":
		info.Overall = "error"
	case pg.State == "dirty" || ch.State == "dirty":
		info.Overall = "dirty"
	default:
		info.Overall = "healthy"
	}
	return info
}

// AutoMigrate runs both databases' migrations up, for use at server startup.
func (m *Manager) AutoMigrate(ctx context.Context) error {
	if !m.CanAutoMigrate() {
		return fmt.Errorf("auto-migration is disabled")
	}
	if err := m.Up(PostgresDB, 0); err != nil {
		return fmt.Errorf("postgres auto-migration failed: %w", err)
	}
	if err := m.Up(ClickHouseDB, 0); err != nil {
		return fmt.Errorf("clickhouse auto-migration failed: %w", err)
	}
	return nil
}

// CanAutoMigrate reports whether the loaded configuration asked for
// automatic migrations on startup.
func (m *Manager) CanAutoMigrate() bool {
	return m.config.Database.AutoMigrate
}

func (m *Manager) runnerFor(db DatabaseType) (*migrate.Migrate, error) {
	switch db {
	case PostgresDB:
		if m.postgresRunner == nil {
			return nil, fmt.Errorf("postgres migration runner not initialized")
		}
		return m.postgresRunner, nil
	case ClickHouseDB:
		if m.clickhouseRunner == nil {
			return nil, fmt.Errorf("clickhouse migration runner not initialized")
		}
		return m.clickhouseRunner, nil
	default:
		return nil, fmt.Errorf("unknown database type %q", db)
	}
}

// Shutdown closes both migration runners and their underlying connections.
func (m *Manager) Shutdown() error {
	var lastErr error
	if m.postgresRunner != nil {
		if _, err := m.postgresRunner.Close(); err != nil {
			lastErr = err
		}
	}
	if m.clickhouseRunner != nil {
		if _, err := m.clickhouseRunner.Close(); err != nil {
			lastErr = err
		}
	}
	if m.postgresDB != nil {
		if err := m.postgresDB.Close(); err != nil {
			lastErr = err
		}
	}
	if m.clickhouseDB != nil {
		if err := m.clickhouseDB.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func ignoreNoChange(err error) error {
	if err == migrate.ErrNoChange {
		return nil
	}
	return err
}

func countMigrations(path string) int {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0
	}
	count := 0
	filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".up.sql") {
			count++
		}
		return nil
	})
	return count
}
