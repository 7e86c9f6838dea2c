// Package pricesource provides market price lookups for tracked products.
// It is intentionally small and engineered with production-grade ergonomics:
//
//   - No logging in the library (callers decide how/what to log)
//   - Clear, documented types and functional options (Option pattern)
//   - Context-aware HTTP with explicit timeouts
//   - Deterministic selection (stable order for price ties)
//
// Two implementations are provided. CatalogSource queries a JSON product
// catalog and returns the cheapest title match for the alert's query.
// PageSource fetches the alert's product page and extracts the listed price
// from structured markup. The evaluator composes them: page lookup when a
// product URL is known, catalog lookup otherwise.
package pricesource

import (
	"context"
	"errors"
)

// ErrNoPrice is returned when a lookup completed but no usable price was
// found for the product (no catalog match, or no recognizable price markup).
var ErrNoPrice = errors.New("no price found")

// Source resolves the current market price of a tracked product. The query
// is the alert's normalized product query; productURL is the alert's product
// page, or empty when unknown. Implementations return ErrNoPrice when the
// lookup succeeded but matched nothing.
type Source interface {
	ObservePrice(ctx context.Context, query, productURL string) (float64, error)
}

// Chain tries each source in order, returning the first usable price.
// A source returning ErrNoPrice hands over to the next; any other error
// aborts the chain.
type Chain []Source

// ObservePrice implements Source.
func (c Chain) ObservePrice(ctx context.Context, query, productURL string) (float64, error) {
	for _, s := range c {
		price, err := s.ObservePrice(ctx, query, productURL)
		if err == nil {
			return price, nil
		}
		if !errors.Is(err, ErrNoPrice) {
			return 0, err
		}
	}
	return 0, ErrNoPrice
}
