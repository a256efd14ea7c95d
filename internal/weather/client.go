// Package weather is a small client for the WeatherAPI.com REST endpoints used
// by the weather and snow commands.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wordchat/internal/provider"
)

var (
	// ErrNoLocation is returned when the API cannot match the query to a place.
	ErrNoLocation = errors.New("no matching location")
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("weather api key not configured")
)

// APIError is the error object WeatherAPI embeds in failed responses.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("weather api error %d: %s", e.Code, e.Message)
}

// Is maps the "No matching location" family of codes to ErrNoLocation.
func (e *APIError) Is(target error) bool {
	return target == ErrNoLocation && (e.Code == 1006 || strings.Contains(strings.ToLower(e.Message), "no matching location"))
}

type Location struct {
	Name    string `json:"name"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

type Condition struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
}

// IconURL returns the condition icon with a scheme; the API sends "//cdn...".
func (c Condition) IconURL() string {
	if strings.HasPrefix(c.Icon, "//") {
		return "https:" + c.Icon
	}
	return c.Icon
}

type Current struct {
	TempC     float64   `json:"temp_c"`
	TempF     float64   `json:"temp_f"`
	WindMph   float64   `json:"wind_mph"`
	Humidity  int       `json:"humidity"`
	Condition Condition `json:"condition"`
}

type Hour struct {
	Time         string    `json:"time"` // "2024-12-25 14:00"
	TempC        float64   `json:"temp_c"`
	Humidity     int       `json:"humidity"`
	WillItSnow   int       `json:"will_it_snow"`
	ChanceOfSnow int       `json:"chance_of_snow"`
	PrecipMM     float64   `json:"precip_mm"`
	Condition    Condition `json:"condition"`
}

type Day struct {
	MaxTempC  float64   `json:"maxtemp_c"`
	MinTempC  float64   `json:"mintemp_c"`
	Condition Condition `json:"condition"`
}

type ForecastDay struct {
	Date  string `json:"date"`
	Day   Day    `json:"day"`
	Hours []Hour `json:"hour"`
}

// Report is the shared shape of current, forecast and history responses.
type Report struct {
	Location Location `json:"location"`
	Current  *Current `json:"current,omitempty"`
	Forecast struct {
		Days []ForecastDay `json:"forecastday"`
	} `json:"forecast"`
}

type Config struct {
	APIKey  string
	BaseURL string // default https://api.weatherapi.com/v1
	Timeout time.Duration
	Client  *http.Client
	Retry   provider.RetryPolicy // zero value: a single attempt
	Logger  *slog.Logger
}

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	retry   provider.RetryPolicy
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.weatherapi.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = provider.SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.Client,
		retry:   cfg.Retry,
		logger:  cfg.Logger,
	}
}

// Current fetches current conditions for a free-text location.
func (c *Client) Current(ctx context.Context, query string) (*Report, error) {
	r, err := c.get(ctx, "current.json", url.Values{"q": {query}})
	if err != nil {
		return nil, err
	}
	if r.Current == nil {
		return nil, fmt.Errorf("current weather for %q: missing current block", query)
	}
	return r, nil
}

// Forecast fetches an hourly forecast for the next days.
func (c *Client) Forecast(ctx context.Context, query string, days int) (*Report, error) {
	return c.get(ctx, "forecast.json", url.Values{"q": {query}, "days": {strconv.Itoa(days)}})
}

// History fetches the observed weather for a single past date.
func (c *Client) History(ctx context.Context, query string, date time.Time) (*Report, error) {
	return c.get(ctx, "history.json", url.Values{"q": {query}, "dt": {date.Format("2006-01-02")}})
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (*Report, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	params.Set("key", c.apiKey)
	u := c.baseURL + "/" + endpoint + "?" + params.Encode()

	resp, err := provider.DoWithRetry(ctx, c.client, c.retry, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", endpoint, err)
	}

	var envelope struct {
		Report
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s: HTTP %d", endpoint, resp.StatusCode)
		}
		return nil, fmt.Errorf("parse %s: %w", endpoint, err)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %d", endpoint, resp.StatusCode)
	}
	c.logger.Debug("weather fetched", "endpoint", endpoint, "location", envelope.Location.Name)
	return &envelope.Report, nil
}
