package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/captrack/internal/api"
	"github.com/wonny/captrack/internal/api/handlers"
	"github.com/wonny/captrack/internal/cache"
	"github.com/wonny/captrack/internal/names"
	"github.com/wonny/captrack/internal/query"
	"github.com/wonny/captrack/internal/ratelimit"
	"github.com/wonny/captrack/internal/store"
	"github.com/wonny/captrack/pkg/config"
	"github.com/wonny/captrack/pkg/database"
	"github.com/wonny/captrack/pkg/logger"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the ranking query API server",
	Long: `Starts the REST API serving ranking snapshots and analytics.

Endpoints:
  GET /health                      - Health check
  GET /api/ranks/latest            - Latest ranking snapshot
  GET /api/ranks/timeline          - Cross-symbol rank timeline
  GET /api/rank-history/{symbol}   - One symbol's rank history
  GET /api/events/new-entrants     - Top-N entry events
  GET /api/events/big-movers       - Rank improvement events

Example:
  go run ./cmd/captrack api
  go run ./cmd/captrack api --port 8080`,
	RunE: runAPIServer,
}

var apiPort string

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port (overrides PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if apiPort != "" {
		cfg.Port = apiPort
	}

	log := logger.New(cfg)

	log.WithFields(map[string]interface{}{
		"port": cfg.Port,
		"env":  cfg.Env,
	}).Info("Initializing API server")

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	log.Info("Connected to database")

	rankStore := store.NewRankStore(db.Pool)
	if err := rankStore.EnsureSchema(cmd.Context()); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	resolver := names.NewResolver(cfg.Names.FilePath, log)
	responseCache := cache.New(cfg.API.CacheTTL, cfg.API.CacheMaxEntries, time.Now)
	engine := query.NewEngine(rankStore, resolver, responseCache, log)

	limiter := ratelimit.New(cfg.API.RateLimitWindow, cfg.API.RateLimitMax, time.Now)

	rankHandler := handlers.NewRankHandler(engine, log)
	router := api.NewRouter(rankHandler, cfg, limiter, log)
	server := api.New(cfg, log, router)

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.Info("API server started successfully")
	fmt.Printf("\nServer running on http://localhost:%s\n", cfg.Port)
	fmt.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
