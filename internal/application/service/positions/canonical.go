package positions

// canonicalAssets folds wrappers, ETFs and locked or bankrupt-estate variants
// into the underlying asset used for price lookups.
var canonicalAssets = map[string]string{
	"IBIT":        "BTC",
	"ARKB":        "BTC",
	"BTCO":        "BTC",
	"GBTC":        "BTC",
	"XAPO":        "BTC",
	"BTC_MT_GOX":  "BTC",
	"QETH":        "ETH",
	"ETHE":        "ETH",
	"FTX_SOL":     "SOL",
	"LOCKED_ENA":  "ENA",
	"LOCKED_AVAX": "AVAX",
}

// Canonicalize maps an underlier to its canonical asset symbol. Unknown
// symbols pass through unchanged.
func Canonicalize(underlier string) string {
	if canonical, ok := canonicalAssets[underlier]; ok {
		return canonical
	}
	return underlier
}
