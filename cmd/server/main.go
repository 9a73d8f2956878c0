/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the station engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the record store and wrap it in a circuit breaker
  3. Choose the locker (Redis when REDIS_ADDR is set, else in-process)
  4. Build the unit-of-work runner, handler and router
  5. Seed the station setup file, if one is given
  6. Start the balance audit and the HTTP server

EXAMPLES:
  # SQLite file database
  ./server -db="./data/station.db"

  # In-memory store seeded from a setup file
  ./server -store=memory -setup=station.yaml

  # MongoDB with Redis locks shared by several terminals
  STATION_STORE=mongo MONGO_URI=mongodb://db:27017 REDIS_ADDR=redis:6379 ./server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit and close the store

SEE ALSO:
  - config/config.go: all settings
  - api/server.go: router configuration
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/station-engine/api"
	"github.com/warp/station-engine/config"
	"github.com/warp/station-engine/factory"
	"github.com/warp/station-engine/lock"
	"github.com/warp/station-engine/logging"
	"github.com/warp/station-engine/metrics"
	"github.com/warp/station-engine/station"
	memstore "github.com/warp/station-engine/station/store"
	"github.com/warp/station-engine/store/breaker"
	"github.com/warp/station-engine/store/mongodb"
	"github.com/warp/station-engine/store/sqlite"
	"github.com/warp/station-engine/txn"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open record store")
	}
	defer closeStore()
	store = breaker.Wrap(store, breaker.DefaultConfig("station-store"), log)

	locker, closeLocker := openLocker(cfg, log)
	defer closeLocker()

	m := metrics.New("station")
	runner := txn.New(store, locker,
		txn.WithRetries(cfg.MaxRetries),
		txn.WithLogger(log),
		txn.WithMetrics(m),
	)

	handler := api.NewHandler(runner, api.Options{Location: loc, Logger: log, Metrics: m})

	if cfg.SetupFile != "" {
		if err := seed(ctx, runner, cfg.SetupFile, log); err != nil {
			log.WithError(err).Fatal("failed to seed station setup")
		}
	}

	audit := api.NewAuditScheduler(handler, cfg.Audit)
	audit.Start()
	defer audit.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":          cfg.Port,
			"store":         cfg.Store,
			"transactional": runner.Transactional(),
			"timezone":      loc.String(),
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	log.Info("server stopped")
}

// openStore returns the configured backend and its close function.
func openStore(ctx context.Context, cfg config.Config) (station.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		s := memstore.NewTxMemory()
		return s, func() { s.Close() }, nil
	case config.StoreFile:
		s, err := memstore.OpenTx(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.StoreMongo:
		mcfg := mongodb.DefaultConfig()
		mcfg.URI = cfg.MongoURI
		mcfg.Database = cfg.MongoDB
		s, err := mongodb.New(ctx, mcfg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close(context.Background()) }, nil
	default:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}

func openLocker(cfg config.Config, log logrus.FieldLogger) (lock.Locker, func()) {
	if cfg.RedisAddr == "" {
		return lock.NewKeyed(cfg.LockTimeout), func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return lock.NewRedis(rdb, lock.RedisConfig{Timeout: cfg.LockTimeout}, log), func() { rdb.Close() }
}

func seed(ctx context.Context, runner *txn.Runner, path string, log logrus.FieldLogger) error {
	setup, err := factory.Load(path)
	if err != nil {
		return err
	}
	// An already seeded store keeps its records.
	if _, err := runner.Store().Get(ctx, station.FuelTypes, firstFuelType(setup)); err == nil {
		log.WithField("setup", path).Info("station already seeded")
		return nil
	}
	sum, err := factory.Seed(ctx, runner, setup)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"setup":      path,
		"fuel_types": sum.FuelTypes,
		"tanks":      sum.Tanks,
		"nozzles":    sum.Nozzles,
	}).Info("station seeded")
	return nil
}

func firstFuelType(s factory.Setup) string {
	if len(s.FuelTypes) == 0 {
		return ""
	}
	return s.FuelTypes[0].ID
}
