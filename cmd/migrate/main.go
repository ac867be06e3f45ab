// Package main provides the schema migration tool for Rotif's two ancillary
// databases: PostgreSQL (the DLQ archive manifest) and ClickHouse (the DLQ
// archive sink). Redis Streams themselves need no schema and are never
// migrated here.
//
// Usage Examples:
//
//	go run cmd/migrate/main.go up                  # Run all pending migrations, both databases
//	go run cmd/migrate/main.go up -db postgres      # Run PostgreSQL migrations only
//	go run cmd/migrate/main.go down -steps 1        # Rollback 1 migration (with confirmation)
//	go run cmd/migrate/main.go status               # Show migration status for both databases
//	go run cmd/migrate/main.go force -db postgres -version 3  # Force version (with confirmation)
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"rotif/internal/config"
	"rotif/internal/migration"
)

type migrateFlags struct {
	Database string
	Steps    int
	Version  int
}

func parseFlags(args []string) (*migrateFlags, string, error) {
	for _, arg := range args {
		if arg == "-h" || arg == "--help" || arg == "help" {
			return nil, "help", nil
		}
	}
	if len(args) == 0 {
		return nil, "", fmt.Errorf("no command specified")
	}

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	flags := &migrateFlags{}
	fs.StringVar(&flags.Database, "db", "all", "Database to migrate: all, postgres, clickhouse")
	fs.IntVar(&flags.Steps, "steps", 0, "Number of migration steps (0 = all for up, 1 for down)")
	fs.IntVar(&flags.Version, "version", 0, "Target version for the force command")

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		return nil, "", fmt.Errorf("no command specified")
	}
	command := remaining[0]

	if len(remaining) > 1 {
		if err := fs.Parse(remaining[1:]); err != nil {
			return nil, "", err
		}
	}

	return flags, command, nil
}

func main() {
	flags, command, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("Error parsing flags: %v", err)
	}

	if command == "help" || command == "" {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	databases, err := parseDatabaseSelection(flags.Database)
	if err != nil {
		log.Fatalf("Invalid database selection: %v", err)
	}

	manager, err := migration.NewManager(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize migration manager: %v", err)
	}
	defer func() {
		if err := manager.Shutdown(); err != nil {
			log.Printf("Warning: failed to shut down migration manager cleanly: %v", err)
		}
	}()

	switch command {
	case "up":
		for _, db := range databases {
			if err := manager.Up(db, flags.Steps); err != nil {
				log.Fatalf("%s migration failed: %v", db, err)
			}
		}
		fmt.Println("Migrations completed successfully")

	case "down":
		steps := flags.Steps
		if steps == 0 {
			steps = 1
		}
		if !confirmDestructiveOperation(fmt.Sprintf("rollback %d migration(s)", steps)) {
			fmt.Println("Operation cancelled")
			return
		}
		for _, db := range databases {
			if err := manager.Down(db, steps); err != nil {
				log.Fatalf("%s rollback failed: %v", db, err)
			}
		}
		fmt.Println("Rollback completed successfully")

	case "force":
		if flags.Version == 0 {
			log.Fatal("Version must be specified for force command (use -version flag)")
		}
		if !confirmDestructiveOperation(fmt.Sprintf("FORCE migration version to %d (DANGEROUS)", flags.Version)) {
			fmt.Println("Operation cancelled")
			return
		}
		for _, db := range databases {
			if err := manager.Force(db, flags.Version); err != nil {
				log.Fatalf("%s force failed: %v", db, err)
			}
		}
		fmt.Printf("Forced migration version to %d successfully\n", flags.Version)

	case "status":
		for _, db := range databases {
			printStatus(manager.Status(db))
		}

	case "info":
		printInfo(manager.Info())

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func confirmDestructiveOperation(operation string) bool {
	fmt.Printf("About to %s.\n", operation)
	fmt.Println("This action cannot be undone and may result in data loss.")
	fmt.Print("Type 'yes' to confirm (anything else will cancel): ")

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(response)) == "yes"
}

func printStatus(s migration.Status) {
	fmt.Printf("[%s] state=%s version=%d dirty=%v migrations=%d path=%s\n",
		s.Database, s.State, s.CurrentVersion, s.IsDirty, s.TotalMigrations, s.MigrationsPath)
	if s.Error != "" {
		fmt.Printf("  error: %s\n", s.Error)
	}
}

func printInfo(info migration.Info) {
	fmt.Println("Migration Information")
	fmt.Println(strings.Repeat("=", 40))
	printStatus(info.Postgres)
	printStatus(info.ClickHouse)
	fmt.Printf("Overall: %s\n", info.Overall)
}

func parseDatabaseSelection(database string) ([]migration.DatabaseType, error) {
	switch database {
	case "postgres":
		return []migration.DatabaseType{migration.PostgresDB}, nil
	case "clickhouse":
		return []migration.DatabaseType{migration.ClickHouseDB}, nil
	case "all":
		return []migration.DatabaseType{migration.PostgresDB, migration.ClickHouseDB}, nil
	default:
		return nil, fmt.Errorf("unknown database: %s (valid options: postgres, clickhouse, all)", database)
	}
}

func printUsage() {
	fmt.Println("Rotif Migration Tool")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  migrate <command> [flags]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  up                   Run pending migrations")
	fmt.Println("  down                 Rollback migrations (use -steps, default 1)")
	fmt.Println("  force -version N     Force the recorded version without migrating (DANGEROUS)")
	fmt.Println("  status               Show current migration status")
	fmt.Println("  info                 Show detailed status for both databases")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -db string       Database to target: all, postgres, clickhouse (default: all)")
	fmt.Println("  -steps int       Number of migration steps (0 = all for up, 1 for down)")
	fmt.Println("  -version int     Target version for the force command")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  migrate up")
	fmt.Println("  migrate up -db postgres")
	fmt.Println("  migrate down -steps 1")
	fmt.Println("  migrate status")
	fmt.Println("  migrate force -db postgres -version 3")
}
