package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/farmkeeper/internal/config"
	"github.com/iudanet/farmkeeper/internal/logging"
	"github.com/iudanet/farmkeeper/internal/server"
	"github.com/iudanet/farmkeeper/internal/server/storage/sqlite"
)

// JWTSecretEnv переменная окружения с секретом для подписи токенов
const JWTSecretEnv = "FARMKEEPER_JWT_SECRET"

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse flags
	showVersion := flag.Bool("version", false, "Show version information")
	configPath := flag.String("config", "farmkeeper-server.yaml", "Path to configuration file")
	addr := flag.String("addr", "", "Listen address (overrides addr)")
	dbPath := flag.String("db", "", "Path to database (overrides db_path)")
	verbose := flag.Bool("v", false, "Log debug messages")
	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if err := run(*configPath, *addr, *dbPath, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr, dbPath string, verbose bool) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if secret := os.Getenv(JWTSecretEnv); secret != "" {
		cfg.JWT.Secret = secret
	}
	if cfg.JWT.Secret == "" {
		return errors.New("jwt secret is not configured, set jwt.secret or " + JWTSecretEnv)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logCloser, err := logging.New(cfg.Log, verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = logCloser.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close database", slog.Any("error", err))
		}
	}()

	logger.Info("Farmkeeper server starting", "version", Version, "addr", cfg.Addr, "db", cfg.DBPath)
	return server.New(cfg, store, logger, Version).ListenAndServe(ctx)
}

func printVersion() {
	fmt.Printf("Farmkeeper Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
