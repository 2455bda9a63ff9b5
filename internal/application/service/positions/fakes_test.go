package positions

import (
	"context"
	"sync"
	"time"

	domain "riskfeed/internal/domain/entity/positions"
)

type stubProvider struct {
	mu      sync.Mutex
	calls   int
	assets  [][]string
	asOf    []*time.Time
	records map[string]domain.PriceRecord
	err     error
}

func (p *stubProvider) FetchPriceHistory(_ context.Context, assets []string, asOf *time.Time) (map[string]domain.PriceRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.assets = append(p.assets, append([]string(nil), assets...))
	p.asOf = append(p.asOf, asOf)
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]domain.PriceRecord)
	for _, asset := range assets {
		if rec, ok := p.records[asset]; ok {
			out[asset] = rec
		}
	}
	return out, nil
}

type stubSource struct {
	rows []domain.RawRecord
	err  error
}

func (s *stubSource) FetchRawPositions(context.Context, time.Time) ([]domain.RawRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.RawRecord(nil), s.rows...), nil
}

type stubResolver struct {
	mu      sync.Mutex
	traders map[string]*domain.Trader
	seen    []string
}

func (r *stubResolver) Resolve(pod string) *domain.Trader {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, pod)
	if r.traders == nil {
		r.traders = make(map[string]*domain.Trader)
	}
	if t, ok := r.traders[pod]; ok {
		return t
	}
	t := &domain.Trader{Name: pod, Group: domain.UnknownTraderGroup}
	r.traders[pod] = t
	return t
}

func rawRow(pod, underlier, ticker string, delta float64) domain.RawRecord {
	return domain.RawRecord{
		PodLabel:      pod,
		BookLabel:     DefaultBook,
		BusinessLabel: DefaultBusiness,
		Strategy:      "Directional",
		StrategyBlock: "Core",
		SecurityType:  "Spot",
		Underlier:     underlier,
		Ticker:        ticker,
		Delta:         delta,
		Quantity:      2,
		Price:         50,
		MarketValue:   100,
	}
}
