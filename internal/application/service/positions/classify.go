package positions

import (
	domain "riskfeed/internal/domain/entity/positions"
)

const (
	DefaultHedgePod = "CryptoHedges"
	DefaultBook     = "Crypto"
	DefaultBusiness = "PrincipalTrading"
)

// DefaultAllowedPods are the pods whose rows are always eligible.
var DefaultAllowedPods = []string{"Novo", "Beimnet", "Bouchra", "Felman"}

type identifierSet map[string]struct{}

func newIdentifierSet(ids ...string) identifierSet {
	set := make(identifierSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s identifierSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

// Identifier sets shared by the inclusion filter and the sub-group classifier.
var (
	btcIdentifiers = newIdentifierSet("BTC", "IBIT", "FBTC", "WBTC", "BTC_MT_GOX", "ARKB", "BTCO", "GBTC", "XAPO")
	ethIdentifiers = newIdentifierSet("ETH", "QETH", "ETHE")
	solIdentifiers = newIdentifierSet("SOL", "FTX_SOL")
)

// Rules holds the eligibility configuration of a pipeline. The zero value is
// not usable; build it with NewRules or DefaultRules.
type Rules struct {
	allowedPods identifierSet
	hedgePod    string
	book        string
	business    string
}

// RulesConfig overrides the default eligibility labels. Empty fields keep
// their defaults.
type RulesConfig struct {
	AllowedPods []string
	HedgePod    string
	Book        string
	Business    string
}

func NewRules(cfg RulesConfig) Rules {
	pods := cfg.AllowedPods
	if len(pods) == 0 {
		pods = DefaultAllowedPods
	}
	r := Rules{
		allowedPods: newIdentifierSet(pods...),
		hedgePod:    cfg.HedgePod,
		book:        cfg.Book,
		business:    cfg.Business,
	}
	if r.hedgePod == "" {
		r.hedgePod = DefaultHedgePod
	}
	if r.book == "" {
		r.book = DefaultBook
	}
	if r.business == "" {
		r.business = DefaultBusiness
	}
	return r
}

func DefaultRules() Rules {
	return NewRules(RulesConfig{})
}

// InTaxonomy is the pre-filter applied before a row reaches the builder.
func (r Rules) InTaxonomy(book, business string) bool {
	return book == r.book && business == r.business
}

// Include reports whether a row of the given pod and ticker is eligible.
// Hedge bucket rows only count when they hedge BTC.
func (r Rules) Include(pod, ticker string) bool {
	if pod == r.hedgePod {
		return ticker != "" && btcIdentifiers.has(ticker)
	}
	return r.allowedPods.has(pod)
}

// Grouping returns the reporting bucket of an eligible row.
func (r Rules) Grouping(pod, underlier, ticker string) (domain.Grouping, domain.SubGrouping) {
	if pod == r.hedgePod {
		return domain.GroupingOtherMacro, domain.SubGroupingBTC
	}
	return domain.GroupingCryptoMacro, SubGroup(underlier, ticker)
}

// SubGroup checks the underlier first, then the ticker, against the BTC, ETH
// and SOL sets in that order.
func SubGroup(underlier, ticker string) domain.SubGrouping {
	for _, id := range [...]string{underlier, ticker} {
		switch {
		case btcIdentifiers.has(id):
			return domain.SubGroupingBTC
		case ethIdentifiers.has(id):
			return domain.SubGroupingETH
		case solIdentifiers.has(id):
			return domain.SubGroupingSOL
		}
	}
	return domain.SubGroupingAlts
}
