package positions

import (
	"math"

	domain "riskfeed/internal/domain/entity/positions"

	"github.com/sirupsen/logrus"
)

const (
	dustThreshold = 1e-10
	contractSize  = 1.0
)

// Builder turns eligible raw rows into positions.
type Builder struct {
	rules  Rules
	cache  *PriceCache
	logger *logrus.Entry
}

func NewBuilder(rules Rules, cache *PriceCache, logger *logrus.Entry) *Builder {
	return &Builder{rules: rules, cache: cache, logger: logger}
}

// Build returns the position for row, or false when the row is dust or not
// eligible. asset is the canonical asset of the row.
func (b *Builder) Build(row *domain.RawRecord, trader *domain.Trader, asset string) (*domain.Position, bool) {
	pos, _ := b.build(row, trader, asset)
	return pos, pos != nil
}

type buildOutcome int

const (
	outcomeBuilt buildOutcome = iota
	outcomeDust
	outcomeExcluded
	outcomeBuiltUnparsed
)

func (b *Builder) build(row *domain.RawRecord, trader *domain.Trader, asset string) (*domain.Position, buildOutcome) {
	if math.Abs(row.Delta) < dustThreshold {
		return nil, outcomeDust
	}
	if !b.rules.Include(row.PodLabel, row.Ticker) {
		return nil, outcomeExcluded
	}

	outcome := outcomeBuilt
	returns := []float64{}
	volatility, dollarVolatility := 0.0, 0.0
	source := domain.PriceSourceMissing
	if record, ok := b.cache.Lookup(asset); ok {
		returns = append(returns, record.Returns...)
		volatility = populationStdDev(record.Returns)
		dollarVolatility = volatility * row.Delta
		source = domain.PriceSourceCoinMetrics
	}

	var strike *float64
	expiry := row.Expiry
	if row.SecurityType.IsOption() {
		details, err := ParseOptionTicker(row.Ticker)
		if err != nil {
			outcome = outcomeBuiltUnparsed
			if b.logger != nil {
				b.logger.WithError(err).WithField("ticker", row.Ticker).Warn("unparsed option ticker, falling back to spot notional")
			}
		}
		strike, expiry = details.Strike, details.Expiry
	}

	notional := row.Quantity * row.Price * contractSize
	if row.SecurityType.IsOption() && strike != nil {
		notional = row.Quantity * *strike * contractSize
	}

	grouping, subGrouping := b.rules.Grouping(row.PodLabel, row.Underlier, row.Ticker)
	traderName := ""
	if trader != nil {
		traderName = trader.Name
	}

	return &domain.Position{
		Trader:              trader,
		TraderName:          traderName,
		Strategy:            row.Strategy + " " + row.StrategyBlock,
		SecurityType:        row.SecurityType,
		Underlier:           row.Underlier,
		Ticker:              row.Ticker,
		MarketValue:         row.MarketValue,
		NotionalValue:       notional,
		Delta:               row.Delta,
		Gamma:               row.Gamma,
		Vega:                row.Vega,
		Theta:               row.Theta,
		PercentDelta:        row.PercentDelta,
		Expiry:              expiry,
		Strike:              strike,
		Quantity:            row.Quantity,
		Price:               row.Price,
		UnderlyingPrice:     row.Price,
		ContractSize:        contractSize,
		ReturnSeries:        returns,
		Volatility:          volatility,
		DollarVolatility:    dollarVolatility,
		AmountRisked:        row.Delta,
		PriceSource:         source,
		InternalGrouping:    grouping,
		InternalSubGrouping: subGrouping,
	}, outcome
}

// populationStdDev is the divide-by-N standard deviation; 0 for an empty series.
func populationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
