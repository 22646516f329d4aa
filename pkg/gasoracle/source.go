// Package gasoracle provides a middleware layer that prices transaction
// drafts from a pluggable gas price source behind a short-lived cache.
package gasoracle

import (
	"context"
	"fmt"
	"math/big"
)

// FixedSource serves prices from a static per-category table. Useful for
// private networks and tests where market pricing does not apply.
type FixedSource struct {
	prices map[Category]*big.Int
}

// NewFixedSource creates a source over a copy of the given price table.
func NewFixedSource(prices map[Category]*big.Int) *FixedSource {
	table := make(map[Category]*big.Int, len(prices))
	for category, price := range prices {
		table[category] = new(big.Int).Set(price)
	}
	return &FixedSource{prices: table}
}

// Price returns the configured price for the category.
func (s *FixedSource) Price(ctx context.Context, category Category) (*big.Int, error) {
	price, ok := s.prices[category]
	if !ok {
		return nil, fmt.Errorf("no price configured for category %q", category)
	}
	return new(big.Int).Set(price), nil
}

// GasPricer is the slice of a provider the delegating source needs.
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// ProviderSource derives category prices from the node's own gas price
// suggestion: fast pays a premium over it, slow shaves a little off.
type ProviderSource struct {
	pricer GasPricer
}

// NewProviderSource creates a source that delegates to the given pricer,
// typically the provider beneath the oracle layer.
func NewProviderSource(pricer GasPricer) *ProviderSource {
	return &ProviderSource{pricer: pricer}
}

// Price asks the pricer for its suggestion and scales it for the category:
// fast is 125% of the suggestion, standard is the suggestion itself, slow
// is 90%.
func (s *ProviderSource) Price(ctx context.Context, category Category) (*big.Int, error) {
	base, err := s.pricer.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	switch category {
	case CategoryFast:
		return scalePct(base, 125), nil
	case CategoryStandard:
		return new(big.Int).Set(base), nil
	case CategorySlow:
		return scalePct(base, 90), nil
	default:
		return nil, fmt.Errorf("unknown price category %q", category)
	}
}

// scalePct multiplies a price by pct percent, rounding up so scaled prices
// never lose a wei to truncation.
func scalePct(price *big.Int, pct int64) *big.Int {
	scaled := new(big.Int).Mul(price, big.NewInt(pct))
	scaled.Add(scaled, big.NewInt(99))
	return scaled.Div(scaled, big.NewInt(100))
}
