// Package weather is a small OpenWeatherMap SDK: current conditions and
// day-level forecasts, rate limited and cached per city and day.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Protocol-Lattice/agentflow/src/cache"
	"github.com/Protocol-Lattice/agentflow/src/dates"
)

// DefaultBaseURL is the public OpenWeatherMap API root.
const DefaultBaseURL = "https://api.openweathermap.org"

var (
	ErrMissingAPIKey = errors.New("OPENWEATHERMAP_API_KEY not set")
	ErrCityNotFound  = errors.New("city not found")
	ErrUnauthorized  = errors.New("weather api rejected the api key")
	ErrRateLimited   = errors.New("weather api rate limit exceeded")
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Report is the normalised view of a weather observation or forecast slot.
type Report struct {
	City        string  `json:"city"`
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
	Condition   string  `json:"condition"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
	Date        string  `json:"date,omitempty"`
	Forecast    bool    `json:"forecast"`
}

// Suitable reports whether conditions allow an outdoor meeting: clear or
// cloudy skies and a temperature strictly above thresholdC.
func (r Report) Suitable(thresholdC float64) bool {
	switch strings.ToLower(r.Condition) {
	case "clear", "clouds":
		return r.Temperature > thresholdC
	default:
		return false
	}
}

// Reasoning renders the audit line stored alongside scheduled meetings.
func (r Report) Reasoning() string {
	return fmt.Sprintf("Weather: %s, %sC", r.Condition, FormatTemp(r.Temperature))
}

// FormatTemp renders a temperature without a trailing ".0".
func FormatTemp(t float64) string {
	if t == math.Trunc(t) {
		return fmt.Sprintf("%.0f", t)
	}
	return fmt.Sprintf("%.1f", t)
}

// Options configure a Client.
type Options struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64 // requests per second
	Burst      int
	CacheTTL   time.Duration
	CacheSize  int
	HTTPClient HTTPClient
	Resolver   *dates.Resolver
}

// Client talks to the OpenWeatherMap REST API.
type Client struct {
	apiKey   string
	baseURL  string
	http     HTTPClient
	limiter  *rate.Limiter
	cache    *cache.LRU[Report]
	resolver *dates.Resolver
}

// New builds a client. A missing API key is reported per call, not here,
// so the service can start without weather support.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Resolver == nil {
		opts.Resolver = dates.NewResolver(nil)
	}
	return &Client{
		apiKey:   strings.TrimSpace(opts.APIKey),
		baseURL:  apiRoot(opts.BaseURL),
		http:     opts.HTTPClient,
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst),
		cache:    cache.New[Report](opts.CacheSize, opts.CacheTTL),
		resolver: opts.Resolver,
	}
}

type currentPayload struct {
	Name string `json:"name"`
	Dt   int64  `json:"dt"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

type forecastPayload struct {
	City struct {
		Name     string `json:"name"`
		Timezone int    `json:"timezone"`
	} `json:"city"`
	List []currentPayload `json:"list"`
}

// Current returns the present conditions for city.
func (c *Client) Current(ctx context.Context, city string) (Report, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return Report{}, errors.New("city is required")
	}
	key := cache.HashKey("current", strings.ToLower(city))
	if r, ok := c.cache.Get(key); ok {
		return r, nil
	}

	var payload currentPayload
	if err := c.get(ctx, "/data/2.5/weather", city, &payload); err != nil {
		return Report{}, err
	}
	if len(payload.Weather) == 0 {
		return Report{}, fmt.Errorf("weather api returned no conditions for %s", city)
	}
	report := toReport(payload, payload.Name)
	report.Date = c.resolver.Today().Format(dates.DayLayout)
	c.cache.Set(key, report)
	return report, nil
}

// Forecast returns the expected conditions for city on day. Today and days
// outside the five-day forecast window fall back to current conditions.
func (c *Client) Forecast(ctx context.Context, city string, day time.Time) (Report, error) {
	today := c.resolver.Today()
	target := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, today.Location())
	if !target.After(today) || target.Sub(today) > 5*24*time.Hour {
		return c.Current(ctx, city)
	}

	key := cache.HashKey("forecast", strings.ToLower(strings.TrimSpace(city)), target.Format(dates.DayLayout))
	if r, ok := c.cache.Get(key); ok {
		return r, nil
	}

	var payload forecastPayload
	if err := c.get(ctx, "/data/2.5/forecast", city, &payload); err != nil {
		return Report{}, err
	}
	slot, ok := pickSlot(payload, target)
	if !ok {
		return c.Current(ctx, city)
	}
	report := toReport(slot, payload.City.Name)
	report.Date = target.Format(dates.DayLayout)
	report.Forecast = true
	c.cache.Set(key, report)
	return report, nil
}

// pickSlot selects the 3-hour slot on day closest to local noon.
func pickSlot(payload forecastPayload, day time.Time) (currentPayload, bool) {
	zone := time.FixedZone("city", payload.City.Timezone)
	noon := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, zone)

	var (
		best     currentPayload
		bestDiff = time.Duration(math.MaxInt64)
		found    bool
	)
	for _, slot := range payload.List {
		at := time.Unix(slot.Dt, 0).In(zone)
		if at.Year() != day.Year() || at.YearDay() != day.YearDay() || len(slot.Weather) == 0 {
			continue
		}
		diff := at.Sub(noon)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff, found = slot, diff, true
		}
	}
	return best, found
}

func toReport(p currentPayload, city string) Report {
	r := Report{
		City:        city,
		Temperature: p.Main.Temp,
		Humidity:    p.Main.Humidity,
		WindSpeed:   p.Wind.Speed,
	}
	if len(p.Weather) > 0 {
		r.Condition = p.Weather[0].Main
		r.Description = p.Weather[0].Description
	}
	return r
}

func (c *Client) get(ctx context.Context, path, city string, out any) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("weather rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch weather: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrCityNotFound, city)
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("weather api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode weather response: %w", err)
	}
	return nil
}

// apiRoot trims a trailing slash and a trailing "/data/2.5" from base.
func apiRoot(base string) string {
	base = strings.TrimRight(base, "/")
	return strings.TrimSuffix(base, "/data/2.5")
}

// Permanent reports whether retrying err cannot succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrMissingAPIKey) || errors.Is(err, ErrCityNotFound) || errors.Is(err, ErrUnauthorized)
}
