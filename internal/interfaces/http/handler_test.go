package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appruns "riskfeed/internal/application/service/runs"
	domain "riskfeed/internal/domain/entity/positions"
	"riskfeed/internal/domain/interfaces"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuns struct {
	run        *domain.Run
	err        error
	asOf       []time.Time
	subGroup   string
	executions int
}

func (f *fakeRuns) Execute(_ context.Context, asOf time.Time) (*domain.Run, error) {
	f.executions++
	f.asOf = append(f.asOf, asOf)
	return f.run, f.err
}

func (f *fakeRuns) Get(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.run == nil || f.run.ID != id {
		return nil, interfaces.ErrRunNotFound
	}
	return f.run, nil
}

func (f *fakeRuns) Latest(_ context.Context, asOf time.Time) (*domain.Run, error) {
	f.asOf = append(f.asOf, asOf)
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

func (f *fakeRuns) LatestPositions(_ context.Context, asOf time.Time, subGrouping string) ([]domain.Position, error) {
	f.asOf = append(f.asOf, asOf)
	f.subGroup = subGrouping
	if f.err != nil {
		return nil, f.err
	}
	return f.run.Positions, nil
}

func newTestHandler(runs RunsService) *Handler {
	gin.SetMode(gin.TestMode)
	logger, _ := logtest.NewNullLogger()
	h := NewHandler(runs, nil, time.Minute, logger)
	h.now = func() time.Time { return time.Date(2025, 2, 14, 15, 4, 5, 0, time.UTC) }
	return h
}

func testRun() *domain.Run {
	return &domain.Run{
		ID:        uuid.New(),
		AsOf:      time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC),
		CreatedAt: time.Date(2025, 2, 14, 18, 0, 0, 0, time.UTC),
		Positions: []domain.Position{
			{Ticker: "BTC", InternalSubGrouping: domain.SubGroupingBTC},
			{Ticker: "ETH", InternalSubGrouping: domain.SubGroupingETH},
		},
		Stats: domain.Stats{PositionsEmitted: 2},
	}
}

func serve(h *Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := serve(newTestHandler(&fakeRuns{}), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestExecuteRun(t *testing.T) {
	runs := &fakeRuns{run: testRun()}
	h := newTestHandler(runs)

	rec := serve(h, http.MethodPost, "/api/v1/runs?as_of=2025-02-13")
	require.Equal(t, http.StatusCreated, rec.Code)

	var body runSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, runs.run.ID, body.ID)
	assert.Equal(t, "2025-02-14", body.AsOf)
	assert.Equal(t, 2, body.Positions)
	assert.Equal(t, []string{}, body.MissingPriceAssets)
	assert.Equal(t, []time.Time{time.Date(2025, 2, 13, 0, 0, 0, 0, time.UTC)}, runs.asOf)
}

func TestExecuteRunDefaultsToToday(t *testing.T) {
	runs := &fakeRuns{run: testRun()}
	rec := serve(newTestHandler(runs), http.MethodPost, "/api/v1/runs")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []time.Time{time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)}, runs.asOf)
}

func TestGetRun(t *testing.T) {
	runs := &fakeRuns{run: testRun()}
	h := newTestHandler(runs)

	rec := serve(h, http.MethodGet, "/api/v1/runs/"+runs.run.ID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, runs.run.ID, got.ID)
	assert.Len(t, got.Positions, 2)

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/v1/runs/"+uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/api/v1/runs/not-a-uuid").Code)
}

func TestLatestPositions(t *testing.T) {
	runs := &fakeRuns{run: testRun()}
	h := newTestHandler(runs)

	rec := serve(h, http.MethodGet, "/api/v1/runs/latest/positions?as_of=2025-02-14&sub_grouping=BTC")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTC", runs.subGroup)

	rec = serve(h, http.MethodGet, "/api/v1/runs/latest?as_of=2025-02-14")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		method string
		target string
		status int
	}{
		{"bad as_of", nil, http.MethodGet, "/api/v1/runs/latest?as_of=14/02/2025", http.StatusBadRequest},
		{"not found", interfaces.ErrRunNotFound, http.MethodGet, "/api/v1/runs/latest", http.StatusNotFound},
		{"bad sub grouping", appruns.ErrInvalidSubGroup, http.MethodGet, "/api/v1/runs/latest/positions?sub_grouping=DOGE", http.StatusBadRequest},
		{"no repository", appruns.ErrNoRepository, http.MethodGet, "/api/v1/runs/latest", http.StatusServiceUnavailable},
		{"future", appruns.ErrFutureAsOf, http.MethodPost, "/api/v1/runs?as_of=2030-01-01", http.StatusBadRequest},
		{"pipeline", errors.New("warehouse down"), http.MethodPost, "/api/v1/runs", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(newTestHandler(&fakeRuns{run: testRun(), err: tc.err}), tc.method, tc.target)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}
