// Package main provides the main entry point for the Rotif worker process.
//
// This process runs only the broker's background loops — the delayed-
// message scheduler, the pattern registry pub/sub sync, and DLQ
// auto-cleanup — with no admin HTTP surface. It exists so a deployment can
// scale consumer-side work independently of the admin API.
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
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	worker, err := app.NewWorker(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize worker: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- worker.Start() }()

	log.Println("Worker started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Worker failed: %v", err)
		}
	case <-quit:
		fmt.Println("Shutting down worker...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := worker.Shutdown(ctx); err != nil {
		log.Printf("Worker forced to shutdown: %v", err)
	}

	fmt.Println("Worker stopped")
}
