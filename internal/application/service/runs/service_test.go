package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskfeed/internal/application/service/positions"
	domain "riskfeed/internal/domain/entity/positions"
	"riskfeed/internal/domain/interfaces"

	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPipeline struct {
	result positions.Result
	err    error
	asOf   []time.Time
}

func (p *stubPipeline) Process(_ context.Context, asOf time.Time) (positions.Result, error) {
	p.asOf = append(p.asOf, asOf)
	return p.result, p.err
}

type memoryRepo struct {
	runs    map[uuid.UUID]*domain.Run
	saveErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{runs: make(map[uuid.UUID]*domain.Run)}
}

func (r *memoryRepo) SaveRun(_ context.Context, run *domain.Run) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.runs[run.ID] = run
	return nil
}

func (r *memoryRepo) GetRun(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	run, ok := r.runs[id]
	if !ok {
		return nil, interfaces.ErrRunNotFound
	}
	return run, nil
}

func (r *memoryRepo) LatestRun(_ context.Context, asOf time.Time) (*domain.Run, error) {
	var latest *domain.Run
	for _, run := range r.runs {
		if run.AsOf.Equal(asOf) && (latest == nil || run.CreatedAt.After(latest.CreatedAt)) {
			latest = run
		}
	}
	if latest == nil {
		return nil, interfaces.ErrRunNotFound
	}
	return latest, nil
}

func (r *memoryRepo) Close() {}

type recordingPublisher struct {
	runs []*domain.Run
	err  error
}

func (p *recordingPublisher) PublishRun(_ context.Context, run *domain.Run) error {
	if p.err != nil {
		return p.err
	}
	p.runs = append(p.runs, run)
	return nil
}

func fixedNow(s *Service, t time.Time) {
	s.now = func() time.Time { return t }
}

func sampleResult() positions.Result {
	return positions.Result{
		Positions: []domain.Position{
			{Ticker: "BTC", InternalSubGrouping: domain.SubGroupingBTC},
			{Ticker: "ETH", InternalSubGrouping: domain.SubGroupingETH},
			{Ticker: "IBIT", InternalSubGrouping: domain.SubGroupingAlts},
		},
		MissingPriceAssets: []string{"ZZZ"},
		Stats:              domain.Stats{RowsFetched: 4, PositionsEmitted: 3, RowsDust: 1},
	}
}

func TestExecuteSavesAndPublishes(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	pipeline := &stubPipeline{result: sampleResult()}
	repo := newMemoryRepo()
	pub := &recordingPublisher{}
	svc, err := NewService(pipeline, repo, pub, logger)
	require.NoError(t, err)
	now := time.Date(2025, 2, 15, 9, 30, 0, 0, time.UTC)
	fixedNow(svc, now)

	run, err := svc.Execute(context.Background(), time.Date(2025, 2, 14, 17, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC), run.AsOf)
	assert.Equal(t, now, run.CreatedAt)
	assert.Len(t, run.Positions, 3)
	assert.Equal(t, []string{"ZZZ"}, run.MissingPriceAssets)
	assert.Equal(t, 1, run.Stats.RowsDust)
	assert.Equal(t, []time.Time{run.AsOf}, pipeline.asOf)
	assert.Same(t, run, repo.runs[run.ID])
	require.Len(t, pub.runs, 1)
	assert.Same(t, run, pub.runs[0])
}

func TestExecuteWithoutSinks(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	svc, err := NewService(&stubPipeline{result: sampleResult()}, nil, nil, logger)
	require.NoError(t, err)

	run, err := svc.Execute(context.Background(), time.Now().UTC().AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Len(t, run.Positions, 3)

	_, err = svc.Latest(context.Background(), run.AsOf)
	assert.ErrorIs(t, err, ErrNoRepository)
}

func TestExecuteErrors(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	asOf := time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)

	t.Run("pipeline", func(t *testing.T) {
		boom := errors.New("warehouse down")
		svc, err := NewService(&stubPipeline{err: boom}, newMemoryRepo(), nil, logger)
		require.NoError(t, err)
		fixedNow(svc, asOf)
		_, err = svc.Execute(context.Background(), asOf)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("save", func(t *testing.T) {
		repo := newMemoryRepo()
		repo.saveErr = errors.New("disk full")
		pub := &recordingPublisher{}
		svc, err := NewService(&stubPipeline{result: sampleResult()}, repo, pub, logger)
		require.NoError(t, err)
		fixedNow(svc, asOf)
		_, err = svc.Execute(context.Background(), asOf)
		assert.ErrorIs(t, err, repo.saveErr)
		assert.Empty(t, pub.runs)
	})

	t.Run("publish", func(t *testing.T) {
		pub := &recordingPublisher{err: errors.New("channel closed")}
		svc, err := NewService(&stubPipeline{result: sampleResult()}, nil, pub, logger)
		require.NoError(t, err)
		fixedNow(svc, asOf)
		_, err = svc.Execute(context.Background(), asOf)
		assert.ErrorIs(t, err, pub.err)
	})

	t.Run("future as-of", func(t *testing.T) {
		pipeline := &stubPipeline{}
		svc, err := NewService(pipeline, nil, nil, logger)
		require.NoError(t, err)
		fixedNow(svc, asOf)
		_, err = svc.Execute(context.Background(), asOf.AddDate(0, 0, 1))
		assert.ErrorIs(t, err, ErrFutureAsOf)
		assert.Empty(t, pipeline.asOf)
	})

	t.Run("nil pipeline", func(t *testing.T) {
		_, err := NewService(nil, nil, nil, logger)
		assert.ErrorIs(t, err, ErrNilPipeline)
	})
}

func TestLatestPositionsFiltersSubGrouping(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	repo := newMemoryRepo()
	svc, err := NewService(&stubPipeline{result: sampleResult()}, repo, nil, logger)
	require.NoError(t, err)
	asOf := time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)
	fixedNow(svc, asOf)
	run, err := svc.Execute(context.Background(), asOf)
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Same(t, run, got)

	all, err := svc.LatestPositions(context.Background(), asOf, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	eth, err := svc.LatestPositions(context.Background(), asOf, "ETH")
	require.NoError(t, err)
	require.Len(t, eth, 1)
	assert.Equal(t, "ETH", eth[0].Ticker)

	_, err = svc.LatestPositions(context.Background(), asOf, "DOGE")
	assert.ErrorIs(t, err, ErrInvalidSubGroup)

	_, err = svc.Get(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, ErrInvalidRunID)
}
