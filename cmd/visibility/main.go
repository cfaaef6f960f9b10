package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/adapter/horizons"
	httpadapter "github.com/couchcryptid/iso-visibility-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/iso-visibility-service/internal/adapter/kafka"
	"github.com/couchcryptid/iso-visibility-service/internal/adapter/sqlite"
	"github.com/couchcryptid/iso-visibility-service/internal/cache"
	"github.com/couchcryptid/iso-visibility-service/internal/config"
	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/couchcryptid/iso-visibility-service/internal/forecast"
	"github.com/couchcryptid/iso-visibility-service/internal/notify"
	"github.com/couchcryptid/iso-visibility-service/internal/observability"
	"github.com/couchcryptid/iso-visibility-service/internal/visibility"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	limits, err := config.LoadTierLimits(cfg.NotifyLimitsFile)
	if err != nil {
		logger.Error("failed to load notification limits", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}

	durable, err := cache.OpenBadger(cfg.CacheDir)
	if err != nil {
		logger.Error("failed to open cache", "dir", cfg.CacheDir, "error", err)
		os.Exit(1)
	}
	c := cache.New(durable, cache.NewMemoryStore(cfg.SessionCacheSize),
		cache.TTL{Ephemeris: cfg.EphemerisCacheTTL, Visibility: cfg.VisibilityCacheTTL},
		clock, logger, metrics)

	// Window events are feature-flagged via KAFKA_ENABLED / KAFKA_BROKERS.
	var (
		publisher domain.WindowPublisher
		writer    *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("window events enabled", "topic", cfg.KafkaWindowTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("window events disabled")
	}

	source := horizons.NewClient(cfg.HorizonsURL, cfg.HorizonsTimeout, cfg.HorizonsRetryMax, logger, metrics)
	assembler := forecast.NewAssembler(
		store, source, c,
		visibility.NewEngine(cfg.VisibilityThresholdDeg, visibility.DarkSky{}),
		publisher, clock,
		forecast.Options{Step: cfg.EphemerisStep, FetchTimeout: cfg.HorizonsTimeout},
		logger, metrics,
	)
	policy := notify.NewPolicy(store, limits, clock, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Forecasts:          assembler,
		Objects:            store,
		Notifications:      policy,
		Preferences:        store,
		Cache:              c,
		Ready:              store,
		Clock:              clock,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start cache sweeper and counter pruner.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.RunSweeper(ctx, cfg.CacheSweepInterval)
	}()
	go func() {
		defer wg.Done()
		policy.RunPruner(ctx, store, time.Hour, cfg.NotifyRetainDays)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	wg.Wait()

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := durable.Close(); err != nil {
		logger.Error("cache close error", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("shutdown complete")
}
