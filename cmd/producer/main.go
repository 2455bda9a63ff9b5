package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	appruns "riskfeed/internal/application/service/runs"
	"riskfeed/internal/bootstrap"
	"riskfeed/internal/config"
	"riskfeed/internal/infrastructure/broker"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)
	if cfg.RabbitMQ.URL == "" {
		logger.Fatal("RABBITMQ_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub, err := broker.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, broker.BatchConfig{
		Size:    cfg.RabbitMQ.BatchSize,
		Timeout: cfg.RabbitMQ.BatchTimeout,
	}, logger)
	if err != nil {
		logger.Fatalf("init publisher: %v", err)
	}
	defer pub.Close()

	pipeline, closePipeline, err := bootstrap.Pipeline(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("init pipeline: %v", err)
	}
	defer closePipeline()

	svc, err := appruns.NewService(pipeline, nil, pub, logger)
	if err != nil {
		logger.Fatalf("init runs service: %v", err)
	}

	// Runs never overlap; ticks that arrive during a run are dropped.
	ticks := make(chan time.Time, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ticks)
		ticks <- time.Now().UTC()
		ticker := time.NewTicker(cfg.Producer.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case t := <-ticker.C:
				select {
				case ticks <- t.UTC():
				default:
					logger.Warn("previous run still in progress, skipping tick")
				}
			}
		}
	})
	g.Go(func() error {
		for t := range ticks {
			run, err := svc.Execute(gctx, t)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.WithError(err).Error("run failed")
				continue
			}
			logger.WithFields(logrus.Fields{
				"run_id":    run.ID.String(),
				"positions": len(run.Positions),
			}).Info("run produced")
		}
		return nil
	})

	logger.WithFields(logrus.Fields{
		"interval": cfg.Producer.Interval.String(),
		"exchange": cfg.RabbitMQ.Exchange,
		"source":   cfg.Source,
	}).Info("producer started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("producer stopped with error: %v", err)
	}
	logger.Info("producer stopped")
}
