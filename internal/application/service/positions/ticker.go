package positions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	tickerExpiryLayout = "2006Jan2"
	expiryOutputLayout = "2006-01-02T00:00:00"
)

var ErrTickerFormat = errors.New("option ticker format")

// OptionDetails is what can be recovered from an option ticker such as
// BTCUSD-2025FEB28-C-110000=GALAXY_HK. Both fields are nil when parsing fails.
type OptionDetails struct {
	Strike *float64
	Expiry *string
}

// ParseOptionTicker extracts strike and expiry from
// <PAIR>-<EXPIRY>-<C|P>-<STRIKE>[=<SUFFIX>].
func ParseOptionTicker(ticker string) (OptionDetails, error) {
	if ticker == "" || !strings.Contains(ticker, "-") {
		return OptionDetails{}, fmt.Errorf("%w: %q has no segments", ErrTickerFormat, ticker)
	}
	base, _, _ := strings.Cut(ticker, "=")
	parts := strings.Split(base, "-")
	if len(parts) < 4 {
		return OptionDetails{}, fmt.Errorf("%w: %q has %d segments", ErrTickerFormat, ticker, len(parts))
	}

	strike, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return OptionDetails{}, fmt.Errorf("%w: strike %q: %v", ErrTickerFormat, parts[3], err)
	}
	// month abbreviations match case-insensitively
	expiry, err := time.Parse(tickerExpiryLayout, parts[1])
	if err != nil {
		return OptionDetails{}, fmt.Errorf("%w: expiry %q: %v", ErrTickerFormat, parts[1], err)
	}
	formatted := expiry.Format(expiryOutputLayout)
	return OptionDetails{Strike: &strike, Expiry: &formatted}, nil
}
