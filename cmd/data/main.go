package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	appruns "riskfeed/internal/application/service/runs"
	"riskfeed/internal/bootstrap"
	"riskfeed/internal/config"
	"riskfeed/internal/domain/interfaces"
	infraruns "riskfeed/internal/infrastructure/runs"
	"riskfeed/internal/infrastructure/traders"

	"github.com/sirupsen/logrus"
)

func main() {
	asOfFlag := flag.String("as-of", "", "trading day to process (YYYY-MM-DD, default today)")
	syncTraders := flag.Bool("sync-traders", true, "store TRADERS_FILE in Postgres before the run")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	logger := bootstrap.NewLogger(cfg.LogLevel)

	asOf := time.Now().UTC()
	if *asOfFlag != "" {
		asOf, err = time.Parse(time.DateOnly, *asOfFlag)
		if err != nil {
			logger.Fatalf("invalid -as-of %q: %v", *asOfFlag, err)
		}
	}

	if *syncTraders && cfg.TradersFile != "" && cfg.Postgres.DSN != "" {
		if err := syncTraderDirectory(ctx, cfg, logger); err != nil {
			logger.Fatalf("sync traders: %v", err)
		}
	}

	pipeline, closePipeline, err := bootstrap.Pipeline(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("init pipeline: %v", err)
	}
	defer closePipeline()

	var repo interfaces.RunsRepository
	if cfg.Postgres.DSN != "" {
		runsRepo, err := infraruns.NewRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Fatalf("connect postgres: %v", err)
		}
		defer runsRepo.Close()
		if err := runsRepo.Migrate(ctx); err != nil {
			logger.Fatalf("migrate runs schema: %v", err)
		}
		repo = runsRepo
	}

	svc, err := appruns.NewService(pipeline, repo, nil, logger)
	if err != nil {
		logger.Fatalf("init runs service: %v", err)
	}
	run, err := svc.Execute(ctx, asOf)
	if err != nil {
		logger.Fatalf("run failed: %v", err)
	}

	logger.WithFields(logrus.Fields{
		"run_id":         run.ID.String(),
		"as_of":          run.AsOf.Format(time.DateOnly),
		"positions":      len(run.Positions),
		"missing_prices": run.MissingPriceAssets,
		"rows_fetched":   run.Stats.RowsFetched,
		"rows_dust":      run.Stats.RowsDust,
		"rows_excluded":  run.Stats.RowsExcluded,
		"stored":         repo != nil,
	}).Info("run finished")
}

func syncTraderDirectory(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	f, err := traders.LoadFile(cfg.TradersFile)
	if err != nil {
		return err
	}
	repo, err := traders.NewRepository(cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		return err
	}
	if err := repo.Sync(ctx, f); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"traders": len(f.Traders),
		"aliases": len(f.Aliases),
	}).Info("trader directory synced")
	return nil
}
