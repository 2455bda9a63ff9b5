package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"riskfeed/internal/application/service/positions"
	domain "riskfeed/internal/domain/entity/positions"
	"riskfeed/internal/domain/interfaces"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrNilPipeline     = errors.New("pipeline is nil")
	ErrNoRepository    = errors.New("runs repository is not configured")
	ErrInvalidSubGroup = errors.New("unknown sub grouping")
	ErrInvalidRunID    = errors.New("run id is empty")
	ErrFutureAsOf      = errors.New("as-of date is in the future")
)

// Pipeline produces the positions of one run.
type Pipeline interface {
	Process(ctx context.Context, asOf time.Time) (positions.Result, error)
}

// Service executes pipeline runs and fans finished runs out to storage and
// the broker. Both sinks are optional.
type Service struct {
	pipeline  Pipeline
	repo      interfaces.RunsRepository
	publisher interfaces.RunPublisher
	logger    *logrus.Entry
	now       func() time.Time
}

func NewService(pipeline Pipeline, repo interfaces.RunsRepository, publisher interfaces.RunPublisher, logger *logrus.Logger) (*Service, error) {
	if pipeline == nil {
		return nil, ErrNilPipeline
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		pipeline:  pipeline,
		repo:      repo,
		publisher: publisher,
		logger:    logger.WithField("component", "runs"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Execute runs the pipeline for asOf and stores and publishes the result.
func (s *Service) Execute(ctx context.Context, asOf time.Time) (*domain.Run, error) {
	asOf = dateOnly(asOf)
	if asOf.After(dateOnly(s.now())) {
		return nil, ErrFutureAsOf
	}

	result, err := s.pipeline.Process(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", asOf.Format(time.DateOnly), err)
	}
	run := &domain.Run{
		ID:                 uuid.New(),
		AsOf:               asOf,
		CreatedAt:          s.now(),
		Positions:          result.Positions,
		MissingPriceAssets: result.MissingPriceAssets,
		Stats:              result.Stats,
	}
	log := s.logger.WithFields(logrus.Fields{"run_id": run.ID.String(), "as_of": asOf.Format(time.DateOnly)})

	if s.repo != nil {
		if err := s.repo.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
		log.Debug("run saved")
	}
	if s.publisher != nil {
		if err := s.publisher.PublishRun(ctx, run); err != nil {
			return nil, fmt.Errorf("publish run: %w", err)
		}
	}
	if len(run.MissingPriceAssets) > 0 {
		log.WithField("assets", run.MissingPriceAssets).Warn("assets without price history")
	}
	return run, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	if s.repo == nil {
		return nil, ErrNoRepository
	}
	if id == uuid.Nil {
		return nil, ErrInvalidRunID
	}
	return s.repo.GetRun(ctx, id)
}

func (s *Service) Latest(ctx context.Context, asOf time.Time) (*domain.Run, error) {
	if s.repo == nil {
		return nil, ErrNoRepository
	}
	return s.repo.LatestRun(ctx, dateOnly(asOf))
}

// LatestPositions returns the positions of the latest run for asOf. A
// non-empty subGrouping keeps only positions of that bucket.
func (s *Service) LatestPositions(ctx context.Context, asOf time.Time, subGrouping string) ([]domain.Position, error) {
	var filter domain.SubGrouping
	if subGrouping != "" {
		sg, err := domain.NewSubGrouping(subGrouping)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSubGroup, subGrouping)
		}
		filter = sg
	}
	run, err := s.Latest(ctx, asOf)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		return run.Positions, nil
	}
	out := make([]domain.Position, 0, len(run.Positions))
	for _, p := range run.Positions {
		if p.InternalSubGrouping == filter {
			out = append(out, p)
		}
	}
	return out, nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
