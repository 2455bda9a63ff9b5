package positions

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "riskfeed/internal/domain/entity/positions"
	"riskfeed/internal/domain/interfaces"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNilSource   = errors.New("raw position source is nil")
	ErrNilProvider = errors.New("price history provider is nil")
	ErrNilResolver = errors.New("trader resolver is nil")
)

// Options tune a pipeline Service. Zero values fall back to defaults.
type Options struct {
	Rules Rules
	// Workers bounds concurrent row building. 1 builds rows sequentially.
	Workers int
	// PinPricesToAsOf ends the price history at the as-of date instead of now.
	PinPricesToAsOf bool
	FetchTimeout    time.Duration
	PriceTimeout    time.Duration
}

// Result is the output of one pipeline run.
type Result struct {
	Positions          []domain.Position
	MissingPriceAssets []string
	Stats              domain.Stats
}

// Service runs the normalization and risk-enrichment pipeline.
type Service struct {
	source  interfaces.RawPositionSource
	prices  interfaces.PriceHistoryProvider
	traders interfaces.TraderResolver
	opts    Options
	logger  *logrus.Entry
}

func NewService(
	source interfaces.RawPositionSource,
	prices interfaces.PriceHistoryProvider,
	traders interfaces.TraderResolver,
	opts Options,
	logger *logrus.Logger,
) (*Service, error) {
	switch {
	case source == nil:
		return nil, ErrNilSource
	case prices == nil:
		return nil, ErrNilProvider
	case traders == nil:
		return nil, ErrNilResolver
	}
	if opts.Rules.allowedPods == nil {
		opts.Rules = DefaultRules()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		source:  source,
		prices:  prices,
		traders: traders,
		opts:    opts,
		logger:  logger.WithField("component", "positions_pipeline"),
	}, nil
}

// Process fetches the raw table for asOf and returns the enriched positions
// together with the canonical assets that had no price coverage.
func (s *Service) Process(ctx context.Context, asOf time.Time) (Result, error) {
	started := time.Now()

	rows, err := s.fetch(ctx, asOf)
	if err != nil {
		return Result{}, err
	}

	cache := NewPriceCache(s.prices)
	if err := s.preload(ctx, cache, rows, asOf); err != nil {
		return Result{}, err
	}

	stats := domain.Stats{RowsFetched: len(rows)}
	builder := NewBuilder(s.opts.Rules, cache, s.logger)
	built := make([]*domain.Position, len(rows))
	outcomes := make([]buildOutcome, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range rows {
		row := &rows[i]
		if !s.opts.Rules.InTaxonomy(row.BookLabel, row.BusinessLabel) {
			stats.RowsOutsideTaxonomy++
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trader := s.traders.Resolve(row.PodLabel)
			built[i], outcomes[i] = builder.build(row, trader, Canonicalize(row.Underlier))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("build positions: %w", err)
	}

	out := make([]domain.Position, 0, len(rows))
	for i, pos := range built {
		switch outcomes[i] {
		case outcomeDust:
			stats.RowsDust++
		case outcomeExcluded:
			stats.RowsExcluded++
		case outcomeBuiltUnparsed:
			stats.OptionTickersUnparsed++
		}
		if pos != nil {
			out = append(out, *pos)
		}
	}
	stats.PositionsEmitted = len(out)
	missing := cache.Missing()

	s.logger.WithFields(logrus.Fields{
		"as_of":          asOf.Format(time.DateOnly),
		"rows":           stats.RowsFetched,
		"positions":      stats.PositionsEmitted,
		"missing_prices": len(missing),
		"took_ms":        time.Since(started).Milliseconds(),
	}).Info("positions processed")

	return Result{Positions: out, MissingPriceAssets: missing, Stats: stats}, nil
}

func (s *Service) fetch(ctx context.Context, asOf time.Time) ([]domain.RawRecord, error) {
	if s.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
	}
	rows, err := s.source.FetchRawPositions(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("fetch raw positions for %s: %w", asOf.Format(time.DateOnly), err)
	}
	return rows, nil
}

func (s *Service) preload(ctx context.Context, cache *PriceCache, rows []domain.RawRecord, asOf time.Time) error {
	if s.opts.PriceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.PriceTimeout)
		defer cancel()
	}
	var end *time.Time
	if s.opts.PinPricesToAsOf {
		end = &asOf
	}
	return cache.Preload(ctx, rows, end)
}
