package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"stockledger-api/internal/cache"
	"stockledger-api/internal/config"
	"stockledger-api/internal/handler"
	"stockledger-api/internal/metrics"
	"stockledger-api/internal/repository"
	"stockledger-api/internal/router"
	"stockledger-api/internal/service"
	"stockledger-api/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: cfg.App.Name,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Environment,
		"version": cfg.App.Version,
	})
	logg.Info(ctx, "api.starting")

	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := openStore(bootCtx, cfg, logg)
	if err != nil {
		cancel()
		logg.Error(ctx, "failed to bootstrap inventory store", err)
		os.Exit(1)
	}
	statsCache, err := openCache(bootCtx, cfg, logg)
	cancel()
	if err != nil {
		_ = store.Close()
		logg.Error(ctx, "failed to bootstrap cache", err)
		os.Exit(1)
	}

	var (
		registry      *prometheus.Registry
		ledgerMetrics *metrics.LedgerMetrics
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		ledgerMetrics = metrics.NewLedgerMetrics(registry)
	}

	stats := service.NewStatsEngine(store, statsCache, cfg.Cache.TTL, ledgerMetrics, logg)
	ledger := service.NewLedgerService(store, stats, ledgerMetrics, logg)

	var refresher *service.StatsRefresher
	if cfg.Metrics.Enabled {
		refresher = service.NewStatsRefresher(stats, service.RefresherConfig{
			Interval: cfg.Metrics.RefreshInterval,
		}, logg)
		refresher.Start()
	}

	routerCfg := router.Config{
		Logger:             logg,
		Handler:            handler.New(store, cfg.App.Version, logg),
		InventoryHandler:   handler.NewInventoryHandler(ledger, stats, logg),
		TransactionHandler: handler.NewTransactionHandler(ledger, logg),
		AdminHandler:       handler.NewAdminHandler(store, stats, statsCache, cfg.InventoryDB.Type, cfg.Cache.Type, logg),
	}
	if registry != nil {
		routerCfg.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router.New(routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", srv.Addr), "api.listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "api.shutting_down")
	case err := <-serverErr:
		logg.Error(ctx, "server error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "server shutdown error", err)
	}
	if refresher != nil {
		refresher.Stop()
	}
	if err := multierr.Combine(statsCache.Close(), store.Close()); err != nil {
		logg.Error(ctx, "error closing resources", err)
	}
	logg.Info(ctx, "api.stopped")
}

// openStore connects the configured inventory backend and, for SQL backends,
// applies pending migrations when auto-migrate is on.
func openStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (repository.Store, error) {
	db := cfg.InventoryDB
	ctx = logg.WithField(ctx, "db_type", db.Type)

	if db.Type == "mongodb" {
		store, err := repository.NewMongoStore(ctx, db.MongoURI, db.MongoDatabase)
		if err != nil {
			return nil, err
		}
		logg.Info(ctx, "store.ready")
		return store, nil
	}

	store, err := openSQLStore(ctx, db)
	if err != nil {
		return nil, err
	}
	if db.AutoMigrate {
		applied, err := repository.Migrate(ctx, store)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		logg.Info(logg.WithField(ctx, "applied", applied), "store.migrated")
	}
	logg.Info(ctx, "store.ready")
	return store, nil
}

func openSQLStore(ctx context.Context, db config.InventoryDBConfig) (*repository.SQLStore, error) {
	switch db.Type {
	case "sqlite":
		return repository.NewSQLiteStore(ctx, db.Path)
	case "postgres":
		return repository.NewPostgresStore(ctx, db.PostgresDSN(), db.MaxConns)
	case "mysql":
		return repository.NewMySQLStore(ctx, db.MySQLDSN(), db.MaxConns)
	}
	return nil, fmt.Errorf("unsupported inventory db type %q", db.Type)
}

func openCache(ctx context.Context, cfg *config.Config, logg *logger.Logger) (cache.Cache, error) {
	ctx = logg.WithField(ctx, "cache_type", cfg.Cache.Type)
	var c cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddress(),
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		c = rc
	case "none":
		c = cache.NopCache{}
	default:
		c = cache.NewMemoryCache(time.Minute)
	}
	logg.Info(ctx, "cache.ready")
	return c, nil
}
