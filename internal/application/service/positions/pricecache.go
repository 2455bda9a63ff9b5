package positions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "riskfeed/internal/domain/entity/positions"
	"riskfeed/internal/domain/interfaces"
)

// PriceCache holds the price enrichment of a single run. Every canonical
// asset seen by Preload ends up either cached or in the miss-set.
type PriceCache struct {
	provider interfaces.PriceHistoryProvider
	records  map[string]domain.PriceRecord

	mu      sync.Mutex
	missing map[string]struct{}
}

func NewPriceCache(provider interfaces.PriceHistoryProvider) *PriceCache {
	return &PriceCache{
		provider: provider,
		records:  make(map[string]domain.PriceRecord),
		missing:  make(map[string]struct{}),
	}
}

// Preload issues one batched history request for the distinct canonical
// assets of rows. It must complete before any Lookup.
func (c *PriceCache) Preload(ctx context.Context, rows []domain.RawRecord, asOf *time.Time) error {
	seen := make(map[string]struct{}, len(rows))
	assets := make([]string, 0, len(rows))
	for i := range rows {
		asset := Canonicalize(rows[i].Underlier)
		if _, ok := seen[asset]; ok {
			continue
		}
		seen[asset] = struct{}{}
		assets = append(assets, asset)
	}
	if len(assets) == 0 {
		return nil
	}
	sort.Strings(assets)

	history, err := c.provider.FetchPriceHistory(ctx, assets, asOf)
	if err != nil {
		return fmt.Errorf("fetch price history for %d assets: %w", len(assets), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, asset := range assets {
		record, ok := history[asset]
		if !ok {
			c.missing[asset] = struct{}{}
			continue
		}
		if record.Returns == nil {
			record.Returns = []float64{}
		}
		c.records[asset] = record
	}
	return nil
}

// Lookup returns the cached record for asset, or records a miss.
func (c *PriceCache) Lookup(asset string) (domain.PriceRecord, bool) {
	if record, ok := c.records[asset]; ok {
		return record, true
	}
	c.mu.Lock()
	c.missing[asset] = struct{}{}
	c.mu.Unlock()
	return domain.PriceRecord{}, false
}

// Missing returns the sorted assets that had no price coverage so far.
func (c *PriceCache) Missing() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.missing))
	for asset := range c.missing {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}
