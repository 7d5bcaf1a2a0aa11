// Package search queries a SearxNG instance for web results.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Category narrows the search engines SearxNG fans out to.
type Category = string

const (
	GeneralCategory Category = "general"
	NewsCategory    Category = "news"
)

// ErrNotConfigured is returned when no SearxNG base URL was provided.
var ErrNotConfigured = errors.New("web search is not configured (SEARXNG_URL)")

// Result is a single search hit.
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
	Query   string `json:"query"`
}

type response struct {
	Query           string   `json:"query"`
	NumberOfResults int      `json:"number_of_results"`
	Results         []Result `json:"results"`
}

// Searcher is implemented by Client and by test doubles.
type Searcher interface {
	Search(ctx context.Context, query string, category Category) ([]Result, error)
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

func WithMaxResults(n int) Option {
	return func(c *Client) { c.maxResults = n }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client is a SearxNG JSON API client.
type Client struct {
	baseURL    string
	language   string
	maxResults int
	httpClient *http.Client
}

func New(opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxResults <= 0 {
		c.maxResults = 5
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return c
}

// Search runs query and returns at most the configured number of results.
func (c *Client) Search(ctx context.Context, query string, category Category) ([]Result, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}
	if category == "" {
		category = GeneralCategory
	}

	values := url.Values{}
	values.Set("q", query)
	values.Set("format", "json")
	values.Set("safesearch", "0")
	values.Set("categories", category)
	if c.language != "" {
		values.Set("language", c.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/search?%s", c.baseURL, values.Encode()), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error querying search engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("non-200 response from search engine: %d", resp.StatusCode)
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, min(len(payload.Results), c.maxResults))
	for _, r := range payload.Results {
		if len(results) == c.maxResults {
			break
		}
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		r.Query = query
		results = append(results, r)
	}
	return results, nil
}
