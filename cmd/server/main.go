// Package main provides the main entry point for the Rotif admin server.
//
// This process serves the broker's admin HTTP API (publish, subscription
// introspection, DLQ operations, live-tail websocket) alongside the
// broker's own background loops (scheduler, pattern registry sync, DLQ
// auto-cleanup).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rotif/internal/app"
	"rotif/internal/config"
	"rotif/internal/migration"
)

// @title Rotif Admin API
// @version 1.0.0
// @description Admin surface for the Rotif notification broker: publish, subscription introspection, and dead-letter queue management.
//
// @contact.name Rotif Maintainers
//
// @license.name MIT License
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8090
// @schemes http https
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Database.AutoMigrate {
		log.Println("Running archive-store migrations...")

		migrationManager, migErr := migration.NewManager(cfg)
		if migErr != nil {
			log.Fatalf("Failed to initialize migration manager: %v", migErr)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := migrationManager.AutoMigrate(ctx); err != nil {
			log.Fatalf("Auto-migration failed: %v", err)
		}

		if err := migrationManager.Shutdown(); err != nil {
			log.Printf("Warning: failed to shut down migration manager cleanly: %v", err)
		}

		log.Println("Migrations completed successfully")
	}

	application, err := app.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- application.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case <-quit:
		fmt.Println("Shutting down server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	fmt.Println("Server stopped")
}
