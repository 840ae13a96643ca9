// Package price looks up asset prices in a reference currency.
package price

import (
	"context"
	"errors"
	"fmt"
)

// ErrPriceNotFound is returned when the upstream source has no quote for an asset.
var ErrPriceNotFound = errors.New("price not found")

// Quotes maps an asset identifier to its price in the reference currency.
type Quotes map[string]float64

// Get returns the price for id or ErrPriceNotFound.
func (q Quotes) Get(id string) (float64, error) {
	p, ok := q[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPriceNotFound, id)
	}
	return p, nil
}

// Service fetches prices for a set of asset identifiers.
type Service interface {
	GetPrices(ctx context.Context, ids []string) (Quotes, error)
}

// Static is a fixed price table.
type Static Quotes

// GetPrices returns the requested subset of the table.
func (s Static) GetPrices(ctx context.Context, ids []string) (Quotes, error) {
	out := make(Quotes, len(ids))
	for _, id := range ids {
		p, ok := s[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPriceNotFound, id)
		}
		out[id] = p
	}
	return out, nil
}
