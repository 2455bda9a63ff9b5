package positions

import (
	"testing"

	domain "riskfeed/internal/domain/entity/positions"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"IBIT", "BTC"},
		{"GBTC", "BTC"},
		{"BTC_MT_GOX", "BTC"},
		{"ETHE", "ETH"},
		{"QETH", "ETH"},
		{"FTX_SOL", "SOL"},
		{"LOCKED_ENA", "ENA"},
		{"LOCKED_AVAX", "AVAX"},
		{"DOGE", "DOGE"},
		{"", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Canonicalize(tc.in))
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	for raw := range canonicalAssets {
		once := Canonicalize(raw)
		assert.Equal(t, once, Canonicalize(once), raw)
	}
	for _, sym := range []string{"BTC", "ETH", "SOL", "ENA", "AVAX", "LINK"} {
		assert.Equal(t, sym, Canonicalize(sym))
	}
}

func TestRulesInclude(t *testing.T) {
	rules := DefaultRules()
	testCases := []struct {
		desc   string
		pod    string
		ticker string
		want   bool
	}{
		{desc: "allowed pod", pod: "Novo", ticker: "DOGE", want: true},
		{desc: "allowed pod without ticker", pod: "Felman", want: true},
		{desc: "unknown pod", pod: "Rates", ticker: "BTC", want: false},
		{desc: "hedge with btc ticker", pod: "CryptoHedges", ticker: "IBIT", want: true},
		{desc: "hedge with wrapped btc", pod: "CryptoHedges", ticker: "WBTC", want: true},
		{desc: "hedge with eth ticker", pod: "CryptoHedges", ticker: "ETH", want: false},
		{desc: "hedge without ticker", pod: "CryptoHedges", want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, rules.Include(tc.pod, tc.ticker))
		})
	}
}

func TestRulesCustomPods(t *testing.T) {
	rules := NewRules(RulesConfig{AllowedPods: []string{"Desk7"}, HedgePod: "Hedges"})
	assert.True(t, rules.Include("Desk7", ""))
	assert.False(t, rules.Include("Novo", ""))
	assert.True(t, rules.Include("Hedges", "BTC"))
	assert.True(t, rules.InTaxonomy("Crypto", "PrincipalTrading"))
	assert.False(t, rules.InTaxonomy("Crypto", "Lending"))
}

func TestSubGroup(t *testing.T) {
	testCases := []struct {
		desc      string
		underlier string
		ticker    string
		want      domain.SubGrouping
	}{
		{desc: "btc underlier", underlier: "BTC", ticker: "BTCUSD-2025FEB28-C-110000", want: domain.SubGroupingBTC},
		{desc: "etf ticker", underlier: "", ticker: "IBIT", want: domain.SubGroupingBTC},
		{desc: "eth underlier", underlier: "ETHE", ticker: "X", want: domain.SubGroupingETH},
		{desc: "sol ticker", underlier: "UNKNOWN", ticker: "FTX_SOL", want: domain.SubGroupingSOL},
		{desc: "underlier wins over ticker", underlier: "SOL", ticker: "BTC", want: domain.SubGroupingSOL},
		{desc: "alts", underlier: "DOGE", ticker: "DOGE", want: domain.SubGroupingAlts},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, SubGroup(tc.underlier, tc.ticker))
		})
	}
}

func TestRulesGroupingHedgeOverride(t *testing.T) {
	rules := DefaultRules()

	g, sg := rules.Grouping("CryptoHedges", "ETH", "IBIT")
	assert.Equal(t, domain.GroupingOtherMacro, g)
	assert.Equal(t, domain.SubGroupingBTC, sg)

	g, sg = rules.Grouping("Novo", "ETH", "ETH")
	assert.Equal(t, domain.GroupingCryptoMacro, g)
	assert.Equal(t, domain.SubGroupingETH, sg)
}
