/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the claims engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file, CLAIMS_* environment, flags)
  2. Build the logger
  3. Open and migrate the store (SQLite or PostgreSQL)
  4. Load reference data; seed defaults into an empty store
  5. Create metrics, resilience executor and API handler
  6. Start the lock expiry scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file path (default: search ./config.yaml, ./config/, /etc/claims-engine/)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/claims.db"

  # Run against PostgreSQL
  CLAIMS_DATABASE_DRIVER=postgres CLAIMS_DATABASE_URL=postgres://... ./server

  # Demo mode (SQLite only)
  CLAIMS_SCENARIOS_ENABLED=true CLAIMS_SCENARIOS_LOAD_ON_START=injury-queue ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/warp/claims-engine/api"
	"github.com/warp/claims-engine/config"
	"github.com/warp/claims-engine/generic"
	"github.com/warp/claims-engine/metrics"
	"github.com/warp/claims-engine/reference"
	"github.com/warp/claims-engine/resilience"
	"github.com/warp/claims-engine/store/sqlstore"
)

func main() {
	// Flags
	configFile := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = *dbPath
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	ctx := context.Background()

	// Initialize store
	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer store.Close()

	// Reference data
	data, err := reference.Load(ctx, store)
	if errors.Is(err, generic.ErrReferenceData) {
		logger.WithError(err).Warn("Reference data incomplete, seeding defaults")
		data, err = api.SeedReference(ctx, store)
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to load reference data")
	}
	holder := reference.NewHolder(data)

	// Initialize handler
	m := metrics.New()
	executor := resilience.NewExecutor(cfg.Resilience.Executor(), logger, m)
	handler := api.NewHandler(store, holder, api.Options{
		Logger:      logger,
		Metrics:     m,
		Executor:    executor,
		LockTTL:     cfg.Locks.TTL,
		PageSize:    cfg.Listing.PageSize,
		SubmitRate:  cfg.RateLimit.SubmitPerSecond,
		SubmitBurst: cfg.RateLimit.SubmitBurst,
	})

	if cfg.Scenarios.LoadOnStart != "" {
		if err := handler.LoadScenarioByID(ctx, cfg.Scenarios.LoadOnStart); err != nil {
			logger.WithError(err).Warn("Failed to load start-up scenario")
		}
	}

	scheduler := api.NewLockExpiryScheduler(store, cfg.Locks.TTL, logger, m)
	scheduler.CheckInterval = cfg.Locks.SweepInterval
	scheduler.Start()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Scenarios:      cfg.Scenarios.Enabled,
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":     server.Addr,
			"database": cfg.Database.Driver,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	scheduler.Stop()

	logger.Info("Server stopped")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*sqlstore.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return sqlstore.OpenPostgres(ctx, cfg.PostgresURL(), sqlstore.PoolOptions{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, logger)
	default:
		return sqlstore.OpenSQLite(cfg.Path, logger)
	}
}
