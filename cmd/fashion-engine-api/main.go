// Package main provides the fashion engine API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/browse"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/extractor"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/matching"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/storage"
)

func main() {
	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Strs("sources", cfg.Catalog.Sources).
		Str("extractor", cfg.Extractor.BaseURL).
		Msg("Starting fashion engine API")

	db, err := storage.Open(context.Background(), cfg.Database.Driver, databaseDSN(cfg, cfgPath), poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	aliases := catalog.DefaultAliasTable()
	whitelist := catalog.NewWhitelist(cfg.Catalog.Sources)
	composer := catalog.NewComposer(whitelist)

	if cfg.Database.Driver == "sqlite" {
		if err := storage.EnsureSchema(context.Background(), db, composer); err != nil {
			logger.Fatal().Err(err).Msg("Failed to prepare sqlite schema")
		}
	}

	store := storage.NewProductStore(db, composer)

	browser := browse.NewService(browse.Config{
		Aliases:    aliases,
		Composer:   composer,
		Store:      store,
		Logger:     logger,
		Concurrent: cfg.Catalog.ConcurrentFetch,
	})

	matcher := matching.NewOrchestrator(matching.Config{
		Extractor: extractor.NewClient(extractor.Config{
			BaseURL:   cfg.Extractor.BaseURL,
			Path:      cfg.Extractor.Path,
			Field:     cfg.Extractor.Field,
			Dimension: cfg.Extractor.Dimension,
			Timeout:   cfg.Extractor.Timeout,
		}),
		Store:          store,
		Composer:       composer,
		Logger:         logger,
		ExtractTimeout: cfg.Extractor.Timeout,
		K:              cfg.Matching.TopK,
	})

	appCfg := &AppConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}

	// Initialize router with all handlers
	router := NewRouter(logger, Services{
		Browser:   browser,
		Matcher:   matcher,
		Store:     store,
		Aliases:   aliases,
		Whitelist: whitelist,
	}, appCfg)

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	// Wait for interrupt or error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}

// databaseDSN resolves a relative sqlite path against the config file.
func databaseDSN(cfg *config.Config, cfgPath string) string {
	dsn := cfg.DatabaseDSN()
	if cfg.Database.Driver == "sqlite" && cfgPath != "" {
		return config.ResolveRelativePath(cfgPath, dsn)
	}
	return dsn
}

func poolConfig(cfg *config.Config) storage.PoolConfig {
	if cfg.Database.Driver == "sqlite" {
		return storage.PoolConfig{MaxOpenConns: cfg.Database.SQLite.MaxOpenConns}
	}
	return storage.PoolConfig{
		MaxOpenConns:    cfg.Database.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Database.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.Postgres.ConnMaxLifetime,
	}
}
