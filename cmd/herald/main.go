package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"herald/internal/app"
	"herald/internal/config"
)

var (
	configPath = flag.String("config", "config.toml", "Path to configuration file")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal: %v\n", sig)
		fmt.Println("Shutting down gracefully...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(ctx context.Context) error {
	fmt.Printf("Loading configuration from: %s\n", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	application, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	fmt.Printf("Starting herald (check interval: %s)\n", cfg.Scheduler.Interval)

	errChan := make(chan error, 1)
	go func() {
		if err := application.Run(ctx); err != nil && err != context.Canceled {
			errChan <- err
		}
		close(errChan)
	}()

	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		fmt.Println("\nInitiating shutdown...")
	}

	// Both exits release the same resources: a loop failure must not leave
	// the store and correlation client open.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		if runErr != nil {
			return runErr
		}
		return fmt.Errorf("shutdown error: %w", err)
	}

	if runErr != nil {
		return runErr
	}

	fmt.Println("Herald stopped successfully")
	return nil
}
