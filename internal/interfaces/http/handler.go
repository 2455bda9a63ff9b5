package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	appruns "riskfeed/internal/application/service/runs"
	domain "riskfeed/internal/domain/entity/positions"
	"riskfeed/internal/domain/interfaces"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	runsBasePath = "/api/v1/runs"
	cachePrefix  = "cache:"
)

var (
	errMissingRunID = errors.New("missing run id")
	errBadAsOf      = errors.New("as_of must be YYYY-MM-DD")
)

// RunsService is the application surface the handler serves.
type RunsService interface {
	Execute(ctx context.Context, asOf time.Time) (*domain.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	Latest(ctx context.Context, asOf time.Time) (*domain.Run, error)
	LatestPositions(ctx context.Context, asOf time.Time, subGrouping string) ([]domain.Position, error)
}

type Handler struct {
	router   *gin.Engine
	runs     RunsService
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *logrus.Entry
	now      func() time.Time
}

var _ http.Handler = (*Handler)(nil)

func NewHandler(runs RunsService, cache *redis.Client, cacheTTL time.Duration, logger *logrus.Logger) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router:   router,
		runs:     runs,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger.WithField("component", "http"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.health)

	runs := h.router.Group(runsBasePath)
	if h.cache != nil {
		runs.Use(h.cacheMiddleware())
	}
	{
		runs.POST("", h.executeRun)
		runs.GET("/latest", h.latestRun)
		runs.GET("/latest/positions", h.latestPositions)
		runs.GET("/:id", h.getRun)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// runSummary is what POST returns; the positions are fetched separately.
type runSummary struct {
	ID                 uuid.UUID    `json:"id"`
	AsOf               string       `json:"as_of"`
	CreatedAt          time.Time    `json:"created_at"`
	Positions          int          `json:"positions"`
	MissingPriceAssets []string     `json:"missing_price_assets"`
	Stats              domain.Stats `json:"stats"`
}

func summarize(run *domain.Run) runSummary {
	missing := run.MissingPriceAssets
	if missing == nil {
		missing = []string{}
	}
	return runSummary{
		ID:                 run.ID,
		AsOf:               run.AsOf.Format(time.DateOnly),
		CreatedAt:          run.CreatedAt,
		Positions:          len(run.Positions),
		MissingPriceAssets: missing,
		Stats:              run.Stats,
	}
}

func (h *Handler) executeRun(c *gin.Context) {
	asOf, err := h.parseAsOf(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	run, err := h.runs.Execute(c.Request.Context(), asOf)
	if err != nil {
		h.logger.WithError(err).WithField("as_of", asOf.Format(time.DateOnly)).Error("run failed")
		writeError(c, statusFor(err), err)
		return
	}
	h.InvalidateLatest(c.Request.Context())
	c.JSON(http.StatusCreated, summarize(run))
}

func (h *Handler) getRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, errMissingRunID)
		return
	}
	run, err := h.runs.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) latestRun(c *gin.Context) {
	asOf, err := h.parseAsOf(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	run, err := h.runs.Latest(c.Request.Context(), asOf)
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) latestPositions(c *gin.Context) {
	asOf, err := h.parseAsOf(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	positions, err := h.runs.LatestPositions(c.Request.Context(), asOf, c.Query("sub_grouping"))
	if err != nil {
		writeError(c, statusFor(err), err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, appruns.ErrInvalidSubGroup),
		errors.Is(err, appruns.ErrInvalidRunID),
		errors.Is(err, appruns.ErrFutureAsOf):
		return http.StatusBadRequest
	case errors.Is(err, appruns.ErrNoRepository):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// parseAsOf reads the as_of query parameter, defaulting to today.
func (h *Handler) parseAsOf(c *gin.Context) (time.Time, error) {
	value := c.Query("as_of")
	if value == "" {
		y, m, d := h.now().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	asOf, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, errBadAsOf
	}
	return asOf, nil
}

// cacheMiddleware caches GET responses in Redis.
func (h *Handler) cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cache == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := h.cacheKey(c)
		ctx := c.Request.Context()

		if cached, err := h.cache.Get(ctx, key).Result(); err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			c.Abort()
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			status:         http.StatusOK,
			body:           &bytes.Buffer{},
		}
		c.Writer = recorder

		c.Next()

		if recorder.status >= 200 && recorder.status < 300 && recorder.body.Len() > 0 {
			if err := h.cache.Set(ctx, key, recorder.body.Bytes(), h.cacheTTL).Err(); err != nil {
				h.logger.WithError(err).Debug("cache set failed")
			}
		}
	}
}

// InvalidateLatest drops cached "latest" responses after a new run is
// stored, whether through the API or the run consumer.
func (h *Handler) InvalidateLatest(ctx context.Context) {
	if h.cache == nil {
		return
	}
	pattern := fmt.Sprintf("%s%s:%s/latest*", cachePrefix, http.MethodGet, runsBasePath)
	iter := h.cache.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		h.logger.WithError(err).Warn("cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := h.cache.Del(ctx, keys...).Err(); err != nil {
		h.logger.WithError(err).Warn("cache invalidation failed")
	}
}

type responseRecorder struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if len(data) > 0 {
		r.body.Write(data)
	}
	return r.ResponseWriter.Write(data)
}

func (h *Handler) cacheKey(c *gin.Context) string {
	return fmt.Sprintf("%s%s:%s?%s", cachePrefix, c.Request.Method, c.Request.URL.Path, c.Request.URL.RawQuery)
}
