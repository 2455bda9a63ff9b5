package interfaces

import (
	"context"
	"errors"
	"time"

	positions "riskfeed/internal/domain/entity/positions"

	"github.com/google/uuid"
)

// RawPositionSource loads the raw position table for a trading day.
type RawPositionSource interface {
	FetchRawPositions(ctx context.Context, asOf time.Time) ([]positions.RawRecord, error)
}

// PriceHistoryProvider returns return series and latest prices for a batch of
// canonical assets. Assets without coverage are omitted from the result.
// A nil asOf means "up to now".
type PriceHistoryProvider interface {
	FetchPriceHistory(ctx context.Context, assets []string, asOf *time.Time) (map[string]positions.PriceRecord, error)
}

// TraderResolver maps a pod label to a trader. It never returns nil.
type TraderResolver interface {
	Resolve(podLabel string) *positions.Trader
}

// ErrRunNotFound is returned by a RunsRepository when no run matches.
var ErrRunNotFound = errors.New("run not found")

type RunsRepository interface {
	SaveRun(ctx context.Context, run *positions.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*positions.Run, error)
	LatestRun(ctx context.Context, asOf time.Time) (*positions.Run, error)
	Close()
}

type RunPublisher interface {
	PublishRun(ctx context.Context, run *positions.Run) error
}
