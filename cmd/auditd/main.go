package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/config"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/database"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/events"
	"github.com/scoopworks/retail-audit-backend/internal/infrastructure/telemetry"
	"github.com/scoopworks/retail-audit-backend/internal/service/ingest"
	"github.com/scoopworks/retail-audit-backend/internal/service/obsmetrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("starting audit pipeline",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"consumer_group", cfg.Consumer.Group,
		"streams", len(cfg.Consumer.Streams))

	otelProvider, err := telemetry.Initialize(ctx, &telemetry.Config{
		ServiceName:    "retail-audit-backend",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  30 * time.Second,
		BatchTimeout:   5 * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown incomplete", "error", err)
		}
	}()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	pool, err := database.NewPool(ctx, &cfg.Database, zapLogger)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	audits := database.NewAuditRepository(pool, cfg.Database.StoreTimeout)
	incidents := database.NewSecurityRepository(pool, cfg.Database.StoreTimeout)
	metricStore := database.NewMetricRepository(pool, cfg.Database.StoreTimeout)

	transport, err := events.NewStreamConsumer(ctx, redisClient, events.StreamConsumerConfig{
		Group:    cfg.Consumer.Group,
		Consumer: cfg.Consumer.Name,
		Streams:  cfg.Consumer.Streams,
		BatchMax: cfg.Consumer.BatchMax,
		Block:    cfg.Consumer.Block,
	}, zapLogger)
	if err != nil {
		return err
	}

	recorder := obsmetrics.NewRecorder(metricStore, logger)
	sampler := obsmetrics.NewSampler(metricStore, cfg.Sampler.Interval, logger)

	ingestMetrics := ingest.NewMetrics(prometheus.DefaultRegisterer)
	consumer := ingest.NewConsumer(transport, audits, incidents, recorder, ingestMetrics, logger, ingest.Config{
		MaxConsecutiveFailures: cfg.Consumer.MaxConsecutiveFailures,
	})
	defer consumer.Close()

	metricsServer := &http.Server{Addr: ":9090", Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sampler.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		errCh <- consumer.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	wg.Wait()
	logger.Info("audit pipeline stopped")
	return nil
}
