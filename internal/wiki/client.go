// Package wiki looks up encyclopedia summaries through the MediaWiki search
// API and the REST page summary endpoint.
package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wordchat/internal/provider"
)

// ErrNoData means the term has no usable page: no hits, or only a
// disambiguation page.
var ErrNoData = errors.New("no encyclopedia data")

const userAgent = "wordchat/1.0 (+https://github.com/wordchat)"

// Summary is what callers render for a looked-up page.
type Summary struct {
	Title     string
	Extract   string
	Thumbnail string
	Image     string
	URL       string
}

type Config struct {
	BaseURL string // default https://en.wikipedia.org
	Timeout time.Duration
	Client  *http.Client
	Retry   provider.RetryPolicy // zero value: a single attempt
	Logger  *slog.Logger
}

type Client struct {
	baseURL string
	client  *http.Client
	retry   provider.RetryPolicy
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://en.wikipedia.org"
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
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  cfg.Client,
		retry:   cfg.Retry,
		logger:  cfg.Logger,
	}
}

// Lookup searches for term and returns the summary of the best hit. An exact
// case-insensitive title match wins over search rank.
func (c *Client) Lookup(ctx context.Context, term string) (*Summary, error) {
	title, err := c.Search(ctx, term)
	if err != nil {
		return nil, err
	}
	return c.Summary(ctx, title)
}

// Search returns the best matching page title for term.
func (c *Client) Search(ctx context.Context, term string) (string, error) {
	params := url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {term},
		"srlimit":  {"5"},
		"format":   {"json"},
	}
	var out struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/w/api.php?"+params.Encode(), &out); err != nil {
		return "", err
	}

	hits := out.Query.Search
	if len(hits) == 0 {
		return "", ErrNoData
	}
	for _, h := range hits {
		if strings.EqualFold(h.Title, term) {
			return h.Title, nil
		}
	}
	return hits[0].Title, nil
}

type summaryResponse struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	Description string `json:"description"`
	Thumbnail   *struct {
		Source string `json:"source"`
	} `json:"thumbnail"`
	OriginalImage *struct {
		Source string `json:"source"`
	} `json:"originalimage"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Summary fetches the page summary for an exact title.
func (c *Client) Summary(ctx context.Context, title string) (*Summary, error) {
	var resp summaryResponse
	u := c.baseURL + "/api/rest_v1/page/summary/" + url.PathEscape(title)
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if resp.Type == "disambiguation" {
		return nil, ErrNoData
	}

	s := &Summary{
		Title:   resp.Title,
		Extract: resp.Extract,
		URL:     resp.ContentURLs.Desktop.Page,
	}
	if s.Title == "" {
		s.Title = title
	}
	if s.Extract == "" {
		s.Extract = resp.Description
	}
	if s.Extract == "" {
		s.Extract = "No description available."
	}
	if resp.Thumbnail != nil {
		s.Thumbnail = resp.Thumbnail.Source
	}
	if resp.OriginalImage != nil {
		s.Image = resp.OriginalImage.Source
	}
	if s.URL == "" {
		s.URL = c.baseURL + "/wiki/" + url.PathEscape(title)
	}
	return s, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	resp, err := provider.DoWithRetry(ctx, c.client, c.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, c.logger)
	if err != nil {
		return fmt.Errorf("wiki request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNoData
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wiki: HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(v); err != nil {
		return fmt.Errorf("parse wiki response: %w", err)
	}
	return nil
}
