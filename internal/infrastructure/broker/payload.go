package broker

import (
	"time"

	domain "riskfeed/internal/domain/entity/positions"

	"github.com/google/uuid"
)

type messageKind string

const (
	kindPositions messageKind = "positions"
	kindSummary   messageKind = "summary"
)

// Message is the envelope published on the positions exchange. A run is a
// sequence of positions messages followed by one summary message.
type Message struct {
	Kind      messageKind       `json:"kind"`
	RunID     uuid.UUID         `json:"run_id"`
	AsOf      time.Time         `json:"as_of"`
	Seq       int               `json:"seq"`
	Positions []domain.Position `json:"positions,omitempty"`
	Summary   *RunSummary       `json:"summary,omitempty"`
}

type RunSummary struct {
	CreatedAt          time.Time    `json:"created_at"`
	Batches            int          `json:"batches"`
	Positions          int          `json:"positions"`
	MissingPriceAssets []string     `json:"missing_price_assets"`
	Stats              domain.Stats `json:"stats"`
}
