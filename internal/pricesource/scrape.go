package pricesource

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Selectors tried in order against the fetched document. Meta tags carry the
// machine-readable price on most storefronts; the rest cover common markup.
var priceSelectors = []string{
	`meta[property="product:price:amount"]`,
	`meta[property="og:price:amount"]`,
	`[itemprop="price"]`,
	`[data-testid="price"]`,
	`.price-current`,
	`.product-price`,
}

var jsonLDPriceRE = regexp.MustCompile(`"offers"[^}]*"price"\s*:\s*"?([0-9.]+)"?`)

// PageSource fetches a product page and extracts its listed price from
// structured markup: price meta tags, microdata, common price elements, and
// as a last resort a JSON-LD offers block. Requires a product URL; lookups
// without one return ErrNoPrice so a catalog fallback can take over.
type PageSource struct {
	cfg config
}

// NewPageSource builds a PageSource with the given options.
func NewPageSource(opts ...Option) *PageSource {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &PageSource{cfg: cfg}
}

// ObservePrice implements Source.
func (s *PageSource) ObservePrice(ctx context.Context, _ string, productURL string) (float64, error) {
	if strings.TrimSpace(productURL) == "" {
		return 0, ErrNoPrice
	}
	target, err := validateURL(productURL)
	if err != nil {
		return 0, fmt.Errorf("pricesource: invalid product URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("pricesource: build page request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client().Do(req)
	if err != nil {
		return 0, fmt.Errorf("pricesource: fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("pricesource: page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("pricesource: parse page: %w", err)
	}
	return extractPrice(doc)
}

func (s *PageSource) client() *http.Client {
	if s.cfg.httpClient != nil {
		return s.cfg.httpClient
	}
	return &http.Client{Timeout: s.cfg.timeout}
}

// extractPrice walks the selectors in order and returns the first parseable
// price. When markup yields nothing, JSON-LD script blocks are scanned for an
// offers price.
func extractPrice(doc *goquery.Document) (float64, error) {
	for _, sel := range priceSelectors {
		var price float64
		found := false
		doc.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			raw, ok := el.Attr("content")
			if !ok {
				raw = el.Text()
			}
			p, err := parsePriceText(raw)
			if err != nil {
				return true
			}
			price = p
			found = true
			return false
		})
		if found {
			return price, nil
		}
	}

	var ldPrice float64
	ldFound := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		m := jsonLDPriceRE.FindStringSubmatch(el.Text())
		if m == nil {
			return true
		}
		p, err := strconv.ParseFloat(m[1], 64)
		if err != nil || p <= 0 {
			return true
		}
		ldPrice = p
		ldFound = true
		return false
	})
	if ldFound {
		return ldPrice, nil
	}
	return 0, ErrNoPrice
}

var nonPriceCharsRE = regexp.MustCompile(`[^0-9.]`)

// parsePriceText normalizes a displayed price ("R$ 1.299,90", "$49.99",
// "1 299,00 €") into a float. Thousands separators are dropped and a decimal
// comma becomes a point before stripping everything non-numeric.
func parsePriceText(raw string) (float64, error) {
	t := strings.TrimSpace(raw)
	if t == "" {
		return 0, ErrNoPrice
	}
	if strings.Contains(t, ",") {
		t = strings.ReplaceAll(t, ".", "")
		t = strings.ReplaceAll(t, ",", ".")
	}
	t = nonPriceCharsRE.ReplaceAllString(t, "")
	if t == "" || t == "." {
		return 0, ErrNoPrice
	}
	p, err := strconv.ParseFloat(t, 64)
	if err != nil || p <= 0 {
		return 0, ErrNoPrice
	}
	return p, nil
}
