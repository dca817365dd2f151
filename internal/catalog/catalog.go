// Package catalog exposes read-only reference data (materials, per-market prices)
// consumed by the fulfillment core. Nothing here writes catalog tables.
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Price is the effective per-unit price of a product in one market, in minor
// currency units.
type Price struct {
	Amount   int64
	Currency string
}

// Catalog is an interface for reference-data lookups.
type Catalog interface {
	// PriceFor returns the effective price of a product in a market (sale price
	// when one is set, base price otherwise).
	// Returns ErrPriceNotFound if the product has no price in that market.
	PriceFor(ctx context.Context, productID uuid.UUID, market string) (*Price, error)

	// MaterialExists reports whether a material is registered.
	MaterialExists(ctx context.Context, materialID uuid.UUID) (bool, error)
}
