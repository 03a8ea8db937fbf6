// Package main provides the API router setup.
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical-ai/spherical/libs/fashion-engine/cmd/fashion-engine-api/handlers"
	"github.com/spherical-ai/spherical/libs/fashion-engine/cmd/fashion-engine-api/middleware"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
)

// Services are the collaborators behind the HTTP routes.
type Services struct {
	Browser   handlers.Browser
	Matcher   handlers.Matcher
	Store     handlers.Pinger
	Aliases   *catalog.AliasTable
	Whitelist *catalog.Whitelist
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, svc Services, cfg *AppConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.TraceID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger) // Use chi's built-in logger
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	healthHandler := handlers.NewHealthHandler(logger, svc.Store)
	productsHandler := handlers.NewProductsHandler(logger, svc.Browser)
	analyzeHandler := handlers.NewAnalyzeHandler(logger, svc.Matcher, cfg.MaxUploadBytes)
	catalogHandler := handlers.NewCatalogHandler(logger, svc.Aliases, svc.Whitelist)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Get("/products", productsHandler.List)
	r.Post("/analyze", analyzeHandler.Analyze)
	r.Get("/categories", catalogHandler.Categories)
	r.Get("/sources", catalogHandler.Sources)

	return r
}

// AppConfig holds application configuration.
type AppConfig struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
}

// DefaultAppConfig returns default configuration values.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		RequestTimeout: 60 * time.Second,
		MaxUploadBytes: 10 << 20,
		AllowedOrigins: []string{"*"},
	}
}
