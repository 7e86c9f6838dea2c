package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	httpClient *http.Client
	timeout    time.Duration
	pageLimit  int
	userAgent  string
}

func defaultConfig() config {
	return config{
		httpClient: nil,
		timeout:    10 * time.Second,
		pageLimit:  50,
		userAgent:  browserUserAgent,
	}
}

// WithHTTPClient supplies a custom HTTP client (proxies, instrumented
// transports). When unset a plain client with the configured timeout is used.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.httpClient = c
		}
	}
}

// WithTimeout bounds each outbound request. Ignored for non-positive values.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithPageLimit caps how many catalog products are fetched per lookup.
func WithPageLimit(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.pageLimit = n
		}
	}
}

// WithUserAgent overrides the User-Agent sent with page fetches.
func WithUserAgent(ua string) Option {
	return func(cfg *config) {
		if strings.TrimSpace(ua) != "" {
			cfg.userAgent = ua
		}
	}
}

// ----------------------------------------------------------------------------
// CatalogSource

// catalogProduct is the subset of the catalog payload the source reads.
type catalogProduct struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    struct {
		Name string `json:"name"`
	} `json:"category"`
}

// CatalogSource looks prices up in a JSON product catalog. One page of
// products is fetched per lookup and filtered case-insensitively against the
// query; the cheapest positive-priced match wins. Ignores productURL.
type CatalogSource struct {
	baseURL string
	cfg     config
}

// NewCatalogSource builds a CatalogSource for the catalog rooted at baseURL
// (trailing slashes are trimmed).
func NewCatalogSource(baseURL string, opts ...Option) (*CatalogSource, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("pricesource: catalog base URL is required")
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &CatalogSource{baseURL: baseURL, cfg: cfg}, nil
}

// ObservePrice implements Source.
func (s *CatalogSource) ObservePrice(ctx context.Context, query, _ string) (float64, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return 0, ErrNoPrice
	}

	u := fmt.Sprintf("%s/products?offset=0&limit=%d", s.baseURL, s.cfg.pageLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("pricesource: build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return 0, fmt.Errorf("pricesource: fetch catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("pricesource: catalog returned status %d", resp.StatusCode)
	}

	var products []catalogProduct
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return 0, fmt.Errorf("pricesource: decode catalog: %w", err)
	}

	best := 0.0
	found := false
	for _, p := range products {
		if p.Price <= 0 {
			continue
		}
		if !matchesQuery(p, query) {
			continue
		}
		if !found || p.Price < best {
			best = p.Price
			found = true
		}
	}
	if !found {
		return 0, ErrNoPrice
	}
	return best, nil
}

func (s *CatalogSource) client() *http.Client {
	if s.cfg.httpClient != nil {
		return s.cfg.httpClient
	}
	return &http.Client{Timeout: s.cfg.timeout}
}

// matchesQuery reports whether the query appears in the product's title,
// description, or category name (case-insensitive substring).
func matchesQuery(p catalogProduct, loweredQuery string) bool {
	return strings.Contains(strings.ToLower(p.Title), loweredQuery) ||
		strings.Contains(strings.ToLower(p.Description), loweredQuery) ||
		strings.Contains(strings.ToLower(p.Category.Name), loweredQuery)
}

// validateURL rejects non-absolute or non-HTTP product URLs early.
func validateURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("pricesource: not an absolute http(s) URL: %q", raw)
	}
	return u.String(), nil
}
