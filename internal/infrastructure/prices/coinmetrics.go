// Package prices fetches daily reference prices from the CoinMetrics
// timeseries API and turns them into return series.
package prices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	domain "riskfeed/internal/domain/entity/positions"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL      = "https://community-api.coinmetrics.io/v4"
	DefaultLookbackDays = 365
	defaultPageSize     = 10000
	defaultTimeout      = 30 * time.Second
	defaultMaxPages     = 100
	priceMetric         = "PriceUSD"
)

type Config struct {
	BaseURL      string
	APIKey       string
	LookbackDays int
	PageSize     int
	MaxPages     int
	Timeout      time.Duration
	Mapping      Mapping
}

type Client struct {
	http   *http.Client
	cfg    Config
	logger *logrus.Entry
	now    func() time.Time
}

func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultLookbackDays
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger.WithField("component", "coinmetrics"),
		now:    time.Now,
	}
}

type metricsPage struct {
	Data []struct {
		Asset string          `json:"asset"`
		Time  time.Time       `json:"time"`
		Price json.RawMessage `json:"PriceUSD"`
	} `json:"data"`
	NextPageURL string `json:"next_page_url"`
}

// FetchPriceHistory requests all mapped assets in one batched query and
// follows pagination. Assets without coverage are left out of the result.
func (c *Client) FetchPriceHistory(ctx context.Context, assets []string, asOf *time.Time) (map[string]domain.PriceRecord, error) {
	byProvider := make(map[string][]string)
	for _, asset := range assets {
		id, ok := c.cfg.Mapping.ProviderID(asset)
		if !ok {
			continue
		}
		byProvider[id] = append(byProvider[id], asset)
	}
	if len(byProvider) == 0 {
		return map[string]domain.PriceRecord{}, nil
	}
	ids := make([]string, 0, len(byProvider))
	for id := range byProvider {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	end := c.now().UTC()
	if asOf != nil {
		end = time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	}
	start := end.AddDate(0, 0, -c.cfg.LookbackDays)

	params := url.Values{
		"assets":     {strings.Join(ids, ",")},
		"metrics":    {priceMetric},
		"frequency":  {"1d"},
		"start_time": {start.Format(time.DateOnly)},
		"end_time":   {end.Format(time.DateOnly)},
		"page_size":  {strconv.Itoa(c.cfg.PageSize)},
	}
	if c.cfg.APIKey != "" {
		params.Set("api_key", c.cfg.APIKey)
	}
	// skip uncovered assets rather than failing the whole batch
	params.Set("ignore_unsupported_errors", "true")

	series := make(map[string][]point)
	next := c.cfg.BaseURL + "/timeseries/asset-metrics?" + params.Encode()
	var page int
	for ; next != "" && page < c.cfg.MaxPages; page++ {
		body, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		var mp metricsPage
		if err := json.Unmarshal(body, &mp); err != nil {
			return nil, fmt.Errorf("decode asset metrics: %w", err)
		}
		for _, d := range mp.Data {
			price, ok := parsePrice(d.Price)
			if !ok {
				continue
			}
			series[d.Asset] = append(series[d.Asset], point{at: d.Time, price: price})
		}
		next = mp.NextPageURL
	}
	if next != "" {
		c.logger.WithFields(logrus.Fields{
			"pages": page,
			"end":   end.Format(time.DateOnly),
		}).Warn("page limit reached, older price history is truncated")
	}

	out := make(map[string]domain.PriceRecord, len(assets))
	for id, canon := range byProvider {
		rec, ok := buildRecord(series[id])
		if !ok {
			continue
		}
		for _, asset := range canon {
			out[asset] = rec
		}
	}
	c.logger.WithFields(logrus.Fields{
		"requested": len(ids),
		"covered":   len(out),
		"end":       end.Format(time.DateOnly),
	}).Debug("price history fetched")
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coinmetrics request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read coinmetrics response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coinmetrics responded %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

// parsePrice accepts the API's quoted decimals as well as plain numbers.
func parsePrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	s := strings.Trim(string(raw), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
