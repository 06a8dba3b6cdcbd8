/*
main.go - Application entry point

PURPOSE:
  Starts the CO2 ledger server: cylinder registry, filling and transfer
  batches, bulk tank, reversals and adjustments behind one HTTP API.

STARTUP SEQUENCE:
  1. Parse command-line flags, load .env and configuration
  2. Open the SQLite store (migrations run on open)
  3. Choose the tank lock: Redis when configured, in-process otherwise
  4. Build the ledger with metrics observer and shrinkage rates
  5. Seed the tank if this is a fresh database
  6. Start the reconciliation scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  Optional YAML config file (default: $CO2_CONFIG)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciliation scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (http.shutdown_timeout)
  4. Close database and Redis connections

EXAMPLES:
  # Defaults: co2.db, :8080, in-process lock
  ./server

  # Shared Redis lock and scenarios enabled
  CO2_REDIS_ADDR=localhost:6379 CO2_HTTP_ENABLE_SCENARIOS=true ./server

  # In-memory database
  CO2_DB_PATH=":memory:" ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
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
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/co2-ledger/api"
	"github.com/warp/co2-ledger/config"
	"github.com/warp/co2-ledger/ledger"
	"github.com/warp/co2-ledger/lock"
	"github.com/warp/co2-ledger/metrics"
	"github.com/warp/co2-ledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("CO2_CONFIG"), "YAML config file")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := config.NewLogger(cfg.App.LogLevel, os.Stdout)
	entry := log.WithFields(logrus.Fields{"module": "main", "env": cfg.App.Env})

	// Initialize store
	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		entry.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	var locker ledger.Locker = ledger.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			entry.Fatalf("Failed to reach redis at %s: %v", cfg.Redis.Addr, err)
		}
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, log)
		entry.WithField("redis", cfg.Redis.Addr).Info("using redis tank lock")
	}

	collector := metrics.New(prometheus.DefaultRegisterer)

	l := ledger.New(store,
		ledger.WithLogger(log),
		ledger.WithObserver(collector),
		ledger.WithLocker(locker),
		ledger.WithRates(cfg.Rates()),
		ledger.WithTankID(ledger.TankID(cfg.Tank.ID)),
		ledger.WithFillingTankDebit(cfg.Tank.DebitFillings),
	)

	if _, err := l.Tank.EnsureTank(context.Background(), cfg.TankConfig()); err != nil {
		entry.Fatalf("Failed to initialize tank: %v", err)
	}
	level, err := l.Tank.CurrentLevel(context.Background())
	if err != nil {
		entry.Fatalf("Failed to read tank level: %v", err)
	}
	collector.SetTankLevel(level)
	entry.WithFields(logrus.Fields{
		"tank":  level.TankID,
		"level": level.Level.String(),
		"tier":  level.Tier,
	}).Info("tank ready")

	handler := api.NewHandler(l, store, cfg.TankConfig(), log)

	scheduler := api.NewReconciliationScheduler(handler, cfg.Reconcile.Interval)
	scheduler.Start()

	opts := api.RouterOptions{
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		EnableScenarios: cfg.HTTP.EnableScenarios,
		Scheduler:       scheduler,
	}
	if cfg.Metrics.Enabled {
		opts.Requests = collector
		opts.Gatherer = prometheus.DefaultGatherer
	}
	router := api.NewRouter(handler, opts)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		entry.WithField("addr", cfg.HTTP.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	entry.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		entry.Errorf("Server forced to shutdown: %v", err)
	}

	entry.Info("server stopped")
}
