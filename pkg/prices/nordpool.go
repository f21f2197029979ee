// Package prices fetches day-ahead spot prices from the
// hvakosterstrommen.no API.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/utilitycost/utilitycost/pkg/common"
	"github.com/utilitycost/utilitycost/pkg/log"
	"github.com/utilitycost/utilitycost/pkg/types"
)

// Client retrieves day-ahead hourly spot prices for a Norwegian price area.
// Prices are published one day at a time and cached per day+area.
type Client struct {
	apiURL string
	area   string
	client *http.Client

	mu         sync.Mutex
	cachedDay  string
	cachedArea string
	cached     []types.SpotPrice
}

// Configured sets up flags for the spot price client and returns the instance.
func Configured() *Client {
	c := &Client{
		client: common.HTTPClient(10 * time.Second),
	}
	apiURL := lflag.String("nordpool-api-url", "https://www.hvakosterstrommen.no/api/v1/prices", "base URL for the day-ahead spot price API")
	area := lflag.String("nordpool-area", "NO1", "Nord Pool price area (NO1-NO5)")

	lflag.Do(func() {
		c.apiURL = *apiURL
		c.area = *area
	})

	return c
}

// New returns a client against the given base URL and price area. Used by
// tests, production callers go through Configured.
func New(apiURL, area string) *Client {
	return &Client{
		apiURL: apiURL,
		area:   area,
		client: common.HTTPClient(10 * time.Second),
	}
}

// Validate ensures the configuration is valid.
func (c *Client) Validate() error {
	if c.apiURL == "" {
		return fmt.Errorf("nordpool-api-url is required")
	}
	if _, err := url.Parse(c.apiURL); err != nil {
		return fmt.Errorf("failed to parse nordpool url (%s): %w", c.apiURL, err)
	}
	if c.area == "" {
		return fmt.Errorf("nordpool-area is required")
	}
	return nil
}

// spotEntry represents one hour in the JSON returned by hvakosterstrommen.no.
type spotEntry struct {
	NOKPerKWH float64 `json:"NOK_per_kWh"`
	TimeStart string  `json:"time_start"`
}

// SetArea overrides the configured price area, e.g. from device settings.
func (c *Client) SetArea(area string) {
	if area == "" {
		return
	}
	c.mu.Lock()
	c.area = area
	c.mu.Unlock()
}

// FetchDailyPrices retrieves the hourly prices for the given local date.
// The result is cached so repeated calls within the same day are free.
func (c *Client) FetchDailyPrices(ctx context.Context, date time.Time) ([]types.SpotPrice, error) {
	day := date.Format("2006/01-02")

	c.mu.Lock()
	area := c.area
	if c.cachedDay == day && c.cachedArea == area && len(c.cached) > 0 {
		prices := c.cached
		c.mu.Unlock()
		return prices, nil
	}
	c.mu.Unlock()

	u := fmt.Sprintf("%s/%s_%s.json", c.apiURL, day, area)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching spot prices", slog.String("url", u))

	resp, err := c.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch spot prices", slog.Any("error", err))
		return nil, fmt.Errorf("failed to fetch spot prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spot price api returned status: %d", resp.StatusCode)
	}

	var data []spotEntry
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	prices := make([]types.SpotPrice, 0, len(data))
	for _, item := range data {
		ts, err := time.Parse(time.RFC3339, item.TimeStart)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse spot price time",
				slog.String("value", item.TimeStart), slog.Any("error", err))
			continue
		}
		prices = append(prices, types.SpotPrice{
			TSStart: ts,
			Price:   item.NOKPerKWH,
		})
	}
	sort.Slice(prices, func(i, j int) bool {
		return prices[i].TSStart.Before(prices[j].TSStart)
	})
	log.Ctx(ctx).DebugContext(ctx, "fetched spot prices",
		slog.Int("count", len(prices)), slog.String("day", day), slog.String("area", area))

	c.mu.Lock()
	c.cachedDay = day
	c.cachedArea = area
	c.cached = prices
	c.mu.Unlock()

	return prices, nil
}

// CurrentPrice returns the spot price covering the given instant, fetching the
// day's prices if needed.
func (c *Client) CurrentPrice(ctx context.Context, at time.Time) (types.SpotPrice, error) {
	prices, err := c.FetchDailyPrices(ctx, at)
	if err != nil {
		return types.SpotPrice{}, err
	}

	for i := len(prices) - 1; i >= 0; i-- {
		if !prices[i].TSStart.After(at) {
			return prices[i], nil
		}
	}
	return types.SpotPrice{}, fmt.Errorf("no spot price found for %s", at.Format(time.RFC3339))
}
