// Package main provides the sync worker entry point for the portfolio aggregator.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/portfolio-aggregator/internal/adapter"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/lock"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/security"
	"github.com/portfolio-aggregator/internal/service"
	"github.com/portfolio-aggregator/internal/storage"
	"github.com/portfolio-aggregator/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger.Info("Portfolio sync worker starting")

	encryptor, err := security.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize credential encryption")
		os.Exit(1)
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to Postgres")
		os.Exit(1)
	}
	defer postgres.Close()

	redisStore, err := storage.NewRedisStore(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to Redis")
		os.Exit(1)
	}
	defer func() { _ = redisStore.Close() }()

	logger.Info("Database connections established")

	integrationRepo := storage.NewIntegrationRepository(postgres.Pool())
	holdingRepo := storage.NewHoldingRepository(postgres.Pool())
	snapshotRepo := storage.NewSnapshotRepository(postgres.Pool())
	priceHistoryRepo := storage.NewPriceHistoryRepository(postgres.Pool())

	registry := adapter.NewRegistry(
		adapter.NewBinanceAdapter(cfg.Sync.FetchTimeout),
		adapter.NewTrading212Adapter(cfg.Sync.FetchTimeout),
		adapter.NewEthereumAdapter(cfg.Providers.EthereumRPCURL),
	)
	logger.WithField("providers", len(registry.Providers())).Info("Provider adapters initialized")

	locks := lock.NewManager(redisStore.Client(), cfg.Sync.LockTTL, cfg.Snapshot.LockTTL)
	tracker := service.NewSyncTracker(redisStore.Client())
	currencyService := service.NewCurrencyService(&cfg.Currency, logger)
	priceService := service.NewPriceService(priceHistoryRepo, cfg.Sync.PriceThrottle, logger)
	snapshotService := service.NewSnapshotService(
		snapshotRepo, holdingRepo, integrationRepo, locks,
		&cfg.Snapshot, cfg.Lock.RetryInterval, logger,
	)
	syncService := service.NewSyncService(
		integrationRepo, holdingRepo, priceService, currencyService,
		snapshotService, locks, encryptor, registry, tracker,
		&cfg.Sync, cfg.Lock.RetryInterval, logger,
	)

	dispatcher, err := worker.NewDispatcher(&worker.DispatcherConfig{
		Syncer:            syncService,
		Integrations:      integrationRepo,
		Snapshots:         snapshotRepo,
		Prices:            priceHistoryRepo,
		Interval:          cfg.Dispatcher.Interval,
		Concurrency:       cfg.Dispatcher.Concurrency,
		PruneInterval:     cfg.Dispatcher.PruneInterval,
		SnapshotRetention: time.Duration(cfg.Snapshot.RetentionDays) * 24 * time.Hour,
		PriceRetention:    time.Duration(cfg.Sync.PriceHistoryKeepHours) * time.Hour,
		Logger:            logger,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to create dispatcher")
		os.Exit(1)
	}

	ctx := context.Background()
	if err := dispatcher.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start dispatcher")
		os.Exit(1)
	}

	statusServer := newStatusServer(cfg, dispatcher, postgres, redisStore)
	go func() {
		logger.WithField("addr", statusServer.Addr).Info("Status endpoint listening")
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Status server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Status server shutdown failed")
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Dispatcher shutdown failed")
	}

	logger.Info("Worker stopped")
}

func newStatusServer(cfg *config.Config, dispatcher *worker.Dispatcher, postgres *storage.PostgresDB, redisStore *storage.RedisStore) *http.Server {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := map[string]string{"postgres": "ok", "redis": "ok"}
		if err := postgres.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := redisStore.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(checks)
	}).Methods(http.MethodGet)

	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"running": dispatcher.Running(),
			"lastRun": dispatcher.Stats(),
		})
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
