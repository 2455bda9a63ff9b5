package prices

import (
	"sort"
	"time"

	domain "riskfeed/internal/domain/entity/positions"
)

type point struct {
	at    time.Time
	price float64
}

// buildRecord sorts the observations, drops duplicate days and computes
// simple daily returns. The latest price is the last observation.
func buildRecord(points []point) (domain.PriceRecord, bool) {
	if len(points) == 0 {
		return domain.PriceRecord{}, false
	}
	sorted := append([]point(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].at.Before(sorted[j].at) })

	uniq := sorted[:1]
	for _, p := range sorted[1:] {
		if p.at.Equal(uniq[len(uniq)-1].at) {
			uniq[len(uniq)-1] = p
			continue
		}
		uniq = append(uniq, p)
	}

	returns := make([]float64, 0, len(uniq)-1)
	for i := 1; i < len(uniq); i++ {
		returns = append(returns, uniq[i].price/uniq[i-1].price-1)
	}
	return domain.PriceRecord{
		Returns:     returns,
		LatestPrice: uniq[len(uniq)-1].price,
	}, true
}
