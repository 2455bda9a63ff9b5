package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	appruns "riskfeed/internal/application/service/runs"
	"riskfeed/internal/bootstrap"
	"riskfeed/internal/config"
	"riskfeed/internal/domain/interfaces"
	"riskfeed/internal/infrastructure/broker"
	infraruns "riskfeed/internal/infrastructure/runs"
	infrahttp "riskfeed/internal/interfaces/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)
	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	stopProfiler, err := bootstrap.StartProfiler(cfg.Profiling, cfg.Env, logger)
	if err != nil {
		logger.Fatalf("failed to start profiler: %v", err)
	}
	defer stopProfiler()

	pipeline, closePipeline, err := bootstrap.Pipeline(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to init pipeline: %v", err)
	}
	defer closePipeline()

	var (
		repo     interfaces.RunsRepository
		runsRepo *infraruns.Repository
	)
	if cfg.Postgres.DSN != "" {
		runsRepo, err = infraruns.NewRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Fatalf("failed to init runs repo: %v", err)
		}
		defer runsRepo.Close()
		if err := runsRepo.Migrate(ctx); err != nil {
			logger.Fatalf("failed to migrate runs schema: %v", err)
		}
		repo = runsRepo
	} else {
		logger.Warn("DATABASE_DSN is empty, runs are not stored")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	runsService, err := appruns.NewService(pipeline, repo, nil, logger)
	if err != nil {
		logger.Fatalf("failed to init runs service: %v", err)
	}

	cacheTTL := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	handler := infrahttp.NewHandler(runsService, redisClient, cacheTTL, logger)

	// Runs published by the producer are stored as they arrive.
	if runsRepo != nil && cfg.RabbitMQ.URL != "" {
		consumer, err := broker.NewConsumer(broker.ConsumerConfig{
			URL:             cfg.RabbitMQ.URL,
			Exchange:        cfg.RabbitMQ.Exchange,
			Queue:           cfg.RabbitMQ.Queue,
			Prefetch:        cfg.RabbitMQ.Prefetch,
			AssemblyTimeout: cfg.RabbitMQ.AssemblyTimeout,
		}, runsRepo, logger)
		if err != nil {
			logger.Fatalf("failed to init consumer: %v", err)
		}
		consumer.OnRunSaved(handler.InvalidateLatest)
		if err := consumer.Start(ctx); err != nil {
			logger.Fatalf("failed to start consumer: %v", err)
		}
		defer consumer.Close()
	}

	server := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: handler,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", cfg.HTTP.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown error: %v", err)
	}
	logger.Info("server stopped")
}
