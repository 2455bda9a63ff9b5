package positions

import (
	"context"
	"math"
	"testing"

	domain "riskfeed/internal/domain/entity/positions"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T, records map[string]domain.PriceRecord, rows ...domain.RawRecord) (*Builder, *PriceCache, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	cache := NewPriceCache(&stubProvider{records: records})
	require.NoError(t, cache.Preload(context.Background(), rows, nil))
	return NewBuilder(DefaultRules(), cache, logger.WithField("component", "test")), cache, hook
}

func TestBuildSuppressesDust(t *testing.T) {
	b, _, _ := newTestBuilder(t, nil)
	trader := &domain.Trader{Name: "Novo"}
	for _, delta := range []float64{0, 1e-11, -9e-11} {
		row := rawRow("Novo", "BTC", "BTC", delta)
		pos, ok := b.Build(&row, trader, "BTC")
		assert.False(t, ok)
		assert.Nil(t, pos)
	}
	row := rawRow("Novo", "BTC", "BTC", 1e-9)
	_, ok := b.Build(&row, trader, "BTC")
	assert.True(t, ok)
}

func TestBuildHedgeBucket(t *testing.T) {
	b, _, _ := newTestBuilder(t, nil)
	trader := &domain.Trader{Name: "CryptoHedges", Group: "Hedges"}

	row := rawRow("CryptoHedges", "ETH", "GBTC", -3)
	pos, ok := b.Build(&row, trader, Canonicalize(row.Underlier))
	require.True(t, ok)
	assert.Equal(t, domain.GroupingOtherMacro, pos.InternalGrouping)
	assert.Equal(t, domain.SubGroupingBTC, pos.InternalSubGrouping)

	row = rawRow("CryptoHedges", "ETH", "ETHE", -3)
	_, ok = b.Build(&row, trader, "ETH")
	assert.False(t, ok)
}

func TestBuildExcludedPod(t *testing.T) {
	b, _, _ := newTestBuilder(t, nil)
	row := rawRow("Rates", "BTC", "BTC", 10)
	_, ok := b.Build(&row, &domain.Trader{Name: "Rates"}, "BTC")
	assert.False(t, ok)
}

func TestBuildOptionNotionalUsesStrike(t *testing.T) {
	b, _, hook := newTestBuilder(t, nil)
	row := rawRow("Beimnet", "BTC", "BTCUSD-2025FEB28-C-100=DESK", 1)
	row.SecurityType = domain.SecurityTypeCryptoOption
	row.Quantity = 5
	row.Price = 97000

	pos, ok := b.Build(&row, &domain.Trader{Name: "Beimnet"}, "BTC")
	require.True(t, ok)
	require.NotNil(t, pos.Strike)
	assert.Equal(t, 100.0, *pos.Strike)
	assert.Equal(t, 500.0, pos.NotionalValue)
	assert.Equal(t, "2025-02-28T00:00:00", *pos.Expiry)
	assert.Equal(t, 1.0, pos.ContractSize)
	assert.Empty(t, hook.AllEntries())
}

func TestBuildOptionFallsBackToSpot(t *testing.T) {
	b, _, hook := newTestBuilder(t, nil)
	expiry := "2025-03-28T00:00:00"
	row := rawRow("Novo", "BTC", "BTCUSD", 1)
	row.SecurityType = domain.SecurityTypeCryptoOption
	row.Expiry = &expiry
	row.Quantity = 4
	row.Price = 25

	pos, outcome := b.build(&row, &domain.Trader{Name: "Novo"}, "BTC")
	require.NotNil(t, pos)
	assert.Equal(t, outcomeBuiltUnparsed, outcome)
	assert.Nil(t, pos.Strike)
	assert.Nil(t, pos.Expiry)
	assert.Equal(t, 100.0, pos.NotionalValue)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "BTCUSD", hook.LastEntry().Data["ticker"])
}

func TestBuildNonOptionKeepsRawExpiry(t *testing.T) {
	b, _, _ := newTestBuilder(t, nil)
	expiry := "2025-06-27T00:00:00"
	row := rawRow("Felman", "BTC", "BTC-27JUN25", 2)
	row.SecurityType = "CryptoFuture"
	row.Expiry = &expiry

	pos, ok := b.Build(&row, &domain.Trader{Name: "Felman"}, "BTC")
	require.True(t, ok)
	assert.Equal(t, &expiry, pos.Expiry)
	assert.Nil(t, pos.Strike)
	assert.Equal(t, row.Quantity*row.Price, pos.NotionalValue)
}

func TestBuildEnrichesFromCache(t *testing.T) {
	returns := []float64{0.02, -0.01, 0.03, 0.0}
	records := map[string]domain.PriceRecord{"BTC": {Returns: returns, LatestPrice: 96000}}
	row := rawRow("Novo", "IBIT", "IBIT", 2000)
	b, _, _ := newTestBuilder(t, records, row)

	pos, ok := b.Build(&row, &domain.Trader{Name: "Novo", Group: "Macro"}, "BTC")
	require.True(t, ok)

	mean := (0.02 - 0.01 + 0.03 + 0.0) / 4
	var sq float64
	for _, r := range returns {
		sq += (r - mean) * (r - mean)
	}
	wantVol := math.Sqrt(sq / 4)

	assert.Equal(t, domain.PriceSourceCoinMetrics, pos.PriceSource)
	assert.InDelta(t, wantVol, pos.Volatility, 1e-12)
	assert.InDelta(t, wantVol*2000, pos.DollarVolatility, 1e-9)
	assert.Equal(t, returns, pos.ReturnSeries)
	assert.Equal(t, pos.Delta, pos.AmountRisked)
	assert.Equal(t, "Directional Core", pos.Strategy)
	assert.Equal(t, "Novo", pos.TraderName)
	assert.Equal(t, row.Price, pos.UnderlyingPrice)
	assert.Equal(t, domain.GroupingCryptoMacro, pos.InternalGrouping)
	assert.Equal(t, domain.SubGroupingBTC, pos.InternalSubGrouping)
	assert.False(t, pos.Ignore)

	pos.ReturnSeries[0] = 42
	assert.Equal(t, 0.02, returns[0])
}

func TestBuildMissingPrice(t *testing.T) {
	row := rawRow("Bouchra", "DOGE", "DOGE", 50)
	b, cache, _ := newTestBuilder(t, nil, row)

	pos, ok := b.Build(&row, &domain.Trader{Name: "Bouchra"}, "DOGE")
	require.True(t, ok)
	assert.Equal(t, domain.PriceSourceMissing, pos.PriceSource)
	assert.Zero(t, pos.Volatility)
	assert.Zero(t, pos.DollarVolatility)
	assert.NotNil(t, pos.ReturnSeries)
	assert.Empty(t, pos.ReturnSeries)
	assert.Equal(t, domain.SubGroupingAlts, pos.InternalSubGrouping)
	assert.Equal(t, []string{"DOGE"}, cache.Missing())
}

func TestPopulationStdDev(t *testing.T) {
	assert.Zero(t, populationStdDev(nil))
	assert.Zero(t, populationStdDev([]float64{0.5}))
	assert.InDelta(t, 1.0, populationStdDev([]float64{1, 3}), 1e-12)
	assert.InDelta(t, 2.0, populationStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-12)
}
