package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/analytics"
	"github.com/onehubexpress/search/internal/api"
	"github.com/onehubexpress/search/internal/auth"
	"github.com/onehubexpress/search/internal/cache"
	"github.com/onehubexpress/search/internal/clickhouse"
	"github.com/onehubexpress/search/internal/config"
	"github.com/onehubexpress/search/internal/firestore"
	"github.com/onehubexpress/search/internal/gemini"
	"github.com/onehubexpress/search/internal/kafka"
	"github.com/onehubexpress/search/internal/observability"
	"github.com/onehubexpress/search/internal/orchestrator"
	"github.com/onehubexpress/search/internal/suggest"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional KEY=VALUE file loaded before the config is expanded")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting search service",
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("model", cfg.Gemini.Model),
		zap.Bool("require_auth", cfg.Search.RequireAuth),
	)

	tracerShutdown, err := observability.InitTracer(cfg.Observability.ServiceName)
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without tracing", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisCache, err := cache.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("initializing redis: %w", err)
	}
	defer redisCache.Close()
	logger.Info("redis cache initialized")

	var chClient *clickhouse.Client
	chClient, err = clickhouse.NewClient(cfg.ClickHouse, logger)
	if err != nil {
		logger.Warn("clickhouse initialization failed, analytics will be unavailable", zap.Error(err))
		chClient = nil
	} else {
		defer chClient.Close()
		if err := chClient.EnsureTables(ctx); err != nil {
			logger.Warn("clickhouse table creation failed", zap.Error(err))
		}
		logger.Info("clickhouse client initialized")
	}

	var fsClient *firestore.Client
	if cfg.Firestore.ProjectID != "" {
		fsClient, err = firestore.NewClient(ctx, cfg.Firestore, logger)
		if err != nil {
			logger.Warn("firestore initialization failed, search history will be unavailable", zap.Error(err))
			fsClient = nil
		} else {
			defer fsClient.Close()
			logger.Info("firestore client initialized")
		}
	}

	// Interfaces below must stay nil, not typed-nil, when a backend is missing.
	var (
		analyticsWriter observability.AnalyticsWriter
		historyStore    orchestrator.HistoryStore
		historyReader   api.HistoryReader
		queryStats      api.QueryStats
		eventSink       analytics.EventSink
	)
	if chClient != nil {
		analyticsWriter = chClient
		queryStats = chClient
		eventSink = chClient
	}
	if fsClient != nil {
		historyStore = fsClient
		historyReader = fsClient
	}

	slowCallDetector := observability.NewSlowCallDetector(
		cfg.Search.SlowCall.WarningThreshold,
		cfg.Search.SlowCall.CriticalThreshold,
		logger,
		analyticsWriter,
	)

	producer := kafka.NewProducer(cfg.Kafka, logger)
	defer producer.Close()

	generator := gemini.NewClient(cfg.Gemini, cfg.Search, logger)

	orch := orchestrator.New(
		generator, historyStore, redisCache, producer,
		slowCallDetector, cfg.Search, logger,
	)

	streamProcessor := analytics.NewStreamProcessor(eventSink, redisCache, analytics.Options{
		BatchSize:     cfg.Kafka.BatchSize,
		FlushInterval: cfg.Kafka.BatchTimeout,
	}, logger)
	defer streamProcessor.Stop()

	consumer := kafka.NewConsumer(cfg.Kafka, streamProcessor.HandleEvent, logger)
	if err := consumer.Start(ctx); err != nil {
		logger.Warn("kafka consumer start failed, analytics pipeline will be unavailable", zap.Error(err))
	} else {
		defer consumer.Stop()
	}

	handler := api.NewHandler(orch, historyReader, redisCache, queryStats, suggest.Options{
		MinLength:    cfg.Search.MinSuggestionLength,
		FetchTimeout: cfg.Gemini.Timeout,
	}, logger)

	healthHandler := api.NewHealthHandler(logger)
	healthHandler.Register("redis", redisCache)
	healthHandler.RegisterOptional("kafka", consumer)
	if chClient != nil {
		healthHandler.RegisterOptional("clickhouse", chClient)
	}
	if fsClient != nil {
		healthHandler.RegisterOptional("firestore", fsClient)
	}

	router := api.NewRouter(handler, healthHandler, auth.NewVerifier(cfg.Auth), cfg.Server, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	logger.Info("starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	cancel()

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}
