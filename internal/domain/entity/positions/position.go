package positions

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UnknownTraderGroup is assigned to traders missing from the directory.
const UnknownTraderGroup = "Unknown Group"

// Trader is a desk member as listed in the trader directory.
type Trader struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

type Grouping string

const (
	GroupingCryptoMacro Grouping = "Crypto_Macro"
	GroupingOtherMacro  Grouping = "Other_Macro"
)

type SubGrouping string

const (
	SubGroupingBTC  SubGrouping = "BTC"
	SubGroupingETH  SubGrouping = "ETH"
	SubGroupingSOL  SubGrouping = "SOL"
	SubGroupingAlts SubGrouping = "Alts"
)

func (sg SubGrouping) String() string {
	return string(sg)
}

func (sg SubGrouping) IsValid() bool {
	switch sg {
	case SubGroupingBTC, SubGroupingETH, SubGroupingSOL, SubGroupingAlts:
		return true
	default:
		return false
	}
}

func NewSubGrouping(s string) (SubGrouping, error) {
	sg := SubGrouping(s)
	if !sg.IsValid() {
		return "", fmt.Errorf("invalid sub grouping: %s", s)
	}
	return sg, nil
}

// PriceSource tells whether a position was enriched with market data.
type PriceSource string

const (
	PriceSourceCoinMetrics PriceSource = "CoinMetrics"
	PriceSourceMissing     PriceSource = "Missing"
)

// PriceRecord is the per-asset enrichment data cached for one run.
// Returns is chronological and non-nil, though it may be empty.
type PriceRecord struct {
	Returns     []float64 `json:"returns"`
	LatestPrice float64   `json:"latest_price"`
}

// Position is a normalized, risk-enriched holding.
type Position struct {
	ID                  uuid.UUID    `json:"id"`
	Trader              *Trader      `json:"trader"`
	TraderName          string       `json:"trader_name"`
	Strategy            string       `json:"strategy"`
	SecurityType        SecurityType `json:"security_type"`
	Underlier           string       `json:"underlier"`
	Ticker              string       `json:"ticker"`
	MarketValue         float64      `json:"market_value"`
	NotionalValue       float64      `json:"notional_value"`
	Delta               float64      `json:"delta"`
	Gamma               float64      `json:"gamma"`
	Vega                float64      `json:"vega"`
	Theta               float64      `json:"theta"`
	PercentDelta        float64      `json:"percent_delta"`
	Expiry              *string      `json:"expiry,omitempty"`
	Strike              *float64     `json:"strike,omitempty"`
	Quantity            float64      `json:"quantity"`
	Price               float64      `json:"price"`
	UnderlyingPrice     float64      `json:"underlying_price"`
	ContractSize        float64      `json:"contract_size"`
	ReturnSeries        []float64    `json:"return_series"`
	Volatility          float64      `json:"volatility"`
	DollarVolatility    float64      `json:"dollar_volatility"`
	AmountRisked        float64      `json:"amount_risked"`
	PriceSource         PriceSource  `json:"price_source"`
	InternalGrouping    Grouping     `json:"internal_grouping"`
	InternalSubGrouping SubGrouping  `json:"internal_sub_grouping"`
	Ignore              bool         `json:"ignore"`
}

// Stats counts what happened to the rows of a run.
type Stats struct {
	RowsFetched           int `json:"rows_fetched"`
	RowsOutsideTaxonomy   int `json:"rows_outside_taxonomy"`
	RowsDust              int `json:"rows_dust"`
	RowsExcluded          int `json:"rows_excluded"`
	PositionsEmitted      int `json:"positions_emitted"`
	OptionTickersUnparsed int `json:"option_tickers_unparsed"`
}

// Run is one persisted pipeline execution.
type Run struct {
	ID                 uuid.UUID  `json:"id"`
	AsOf               time.Time  `json:"as_of"`
	CreatedAt          time.Time  `json:"created_at"`
	Positions          []Position `json:"positions"`
	MissingPriceAssets []string   `json:"missing_price_assets"`
	Stats              Stats      `json:"stats"`
}
