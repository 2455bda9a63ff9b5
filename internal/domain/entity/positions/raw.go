package positions

// SecurityType is the instrument type label carried by the book-of-record feed.
type SecurityType string

const (
	SecurityTypeCryptoOption SecurityType = "CryptoOption"
)

func (st SecurityType) String() string {
	return string(st)
}

// IsOption reports whether the row carries an option ticker that must be parsed.
func (st SecurityType) IsOption() bool {
	return st == SecurityTypeCryptoOption
}

// RawRecord is one row of the raw position feed after column validation.
// Values are populated once at the ingestion boundary and never mutated.
type RawRecord struct {
	PodLabel      string
	BookLabel     string
	BusinessLabel string
	Strategy      string
	StrategyBlock string
	SecurityType  SecurityType
	Underlier     string
	Ticker        string
	Delta         float64
	Gamma         float64
	Vega          float64
	Theta         float64
	PercentDelta  float64
	Quantity      float64
	Price         float64
	MarketValue   float64
	Expiry        *string
}

// Feed column names. Both raw sources are normalized to these before decoding.
const (
	ColumnPod           = "Pod(L2)"
	ColumnBook          = "Book(L3)"
	ColumnBusiness      = "Business(L0)"
	ColumnStrategy      = "Strategy(L4)"
	ColumnPositionBlock = "PositionBlock(L5)"
	ColumnType          = "Type"
	ColumnUnderlier     = "Underlier"
	ColumnTicker        = "Ticker"
	ColumnDelta         = "$Delta"
	ColumnGamma         = "$Gamma"
	ColumnVega          = "$Vega"
	ColumnTheta         = "$Theta"
	ColumnPercentDelta  = "%Delta"
	ColumnQuantity      = "Quantity"
	ColumnPrice         = "Price"
	ColumnValue         = "Value"
	ColumnExpiry        = "Expiry"
)

// RequiredColumns lists every column a raw table must expose.
var RequiredColumns = []string{
	ColumnPod,
	ColumnBook,
	ColumnBusiness,
	ColumnStrategy,
	ColumnPositionBlock,
	ColumnType,
	ColumnUnderlier,
	ColumnTicker,
	ColumnDelta,
	ColumnGamma,
	ColumnVega,
	ColumnTheta,
	ColumnPercentDelta,
	ColumnQuantity,
	ColumnPrice,
	ColumnValue,
	ColumnExpiry,
}
