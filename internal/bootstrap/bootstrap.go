// Package bootstrap wires configuration into the pipeline components shared
// by the binaries.
package bootstrap

import (
	"context"
	"fmt"

	"riskfeed/internal/application/service/positions"
	"riskfeed/internal/config"
	"riskfeed/internal/domain/interfaces"
	"riskfeed/internal/infrastructure/beacon"
	"riskfeed/internal/infrastructure/prices"
	"riskfeed/internal/infrastructure/traders"
	"riskfeed/internal/infrastructure/warehouse"

	"github.com/grafana/pyroscope-go"
	"github.com/sirupsen/logrus"
)

func NewLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(level)
	return logger
}

// StartProfiler starts continuous profiling when a server address is set.
// The returned stop function is always safe to call.
func StartProfiler(cfg config.ProfilingConfig, env string, logger *logrus.Logger) (func(), error) {
	if cfg.ServerAddress == "" {
		return func() {}, nil
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.AppName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            map[string]string{"env": env},
		Logger:          logger,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return func() {}, fmt.Errorf("start profiler: %w", err)
	}
	return func() { _ = profiler.Stop() }, nil
}

// OpenSource builds the raw position source selected by cfg.Source.
func OpenSource(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (interfaces.RawPositionSource, func(), error) {
	switch cfg.Source {
	case config.SourceWarehouse:
		src, err := warehouse.NewSource(ctx, cfg.Warehouse.DSN, cfg.Warehouse.Table, cfg.Warehouse.RowLimit)
		if err != nil {
			return nil, nil, fmt.Errorf("open warehouse: %w", err)
		}
		return src, src.Close, nil
	default:
		client, err := beacon.NewClient(beacon.Config{
			SecretsDir:         cfg.Beacon.SecretsDir,
			TokenFile:          cfg.Beacon.TokenFile,
			ClientIDFile:       cfg.Beacon.ClientIDFile,
			APIURL:             cfg.Beacon.APIURL,
			Timeout:            cfg.Beacon.Timeout,
			InsecureSkipVerify: cfg.Beacon.InsecureSkipVerify,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init beacon client: %w", err)
		}
		logger.WithField("domain", client.DomainURL()).Info("using beacon source")
		return beacon.NewSource(client, cfg.Beacon.Function, logger), func() {}, nil
	}
}

func NewPriceProvider(cfg config.PricesConfig, logger *logrus.Logger) (*prices.Client, error) {
	mapping, err := prices.LoadMapping(cfg.MappingFile)
	if err != nil {
		return nil, err
	}
	return prices.NewClient(prices.Config{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		LookbackDays: cfg.LookbackDays,
		Timeout:      cfg.Timeout,
		Mapping:      mapping,
	}, logger), nil
}

// LoadTraders reads the trader directory from TRADERS_FILE, falling back to
// the copy stored in Postgres. With neither, every pod resolves to an
// unknown trader.
func LoadTraders(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*traders.Directory, error) {
	if cfg.TradersFile != "" {
		f, err := traders.LoadFile(cfg.TradersFile)
		if err != nil {
			return nil, err
		}
		return f.Directory(), nil
	}
	if cfg.Postgres.DSN == "" {
		logger.Warn("no trader directory configured")
		return traders.NewDirectory(nil, nil), nil
	}
	repo, err := traders.NewRepository(cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	return repo.Load(ctx)
}

func NewPipeline(
	cfg config.PipelineConfig,
	source interfaces.RawPositionSource,
	provider interfaces.PriceHistoryProvider,
	resolver interfaces.TraderResolver,
	logger *logrus.Logger,
) (*positions.Service, error) {
	return positions.NewService(source, provider, resolver, positions.Options{
		Rules:           positions.NewRules(positions.RulesConfig{AllowedPods: cfg.AllowedPods}),
		Workers:         cfg.Workers,
		PinPricesToAsOf: cfg.PinPricesToAsOf,
		FetchTimeout:    cfg.FetchTimeout,
		PriceTimeout:    cfg.PriceTimeout,
	}, logger)
}

// Pipeline opens the source, price provider and trader directory and returns
// the assembled pipeline with a cleanup function.
func Pipeline(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*positions.Service, func(), error) {
	source, closeSource, err := OpenSource(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	provider, err := NewPriceProvider(cfg.Prices, logger)
	if err != nil {
		closeSource()
		return nil, nil, err
	}
	directory, err := LoadTraders(ctx, cfg, logger)
	if err != nil {
		closeSource()
		return nil, nil, err
	}
	logger.WithFields(logrus.Fields{"source": cfg.Source, "traders": directory.Len()}).Info("pipeline ready")

	svc, err := NewPipeline(cfg.Pipeline, source, provider, directory, logger)
	if err != nil {
		closeSource()
		return nil, nil, err
	}
	return svc, closeSource, nil
}
