package catalog

import (
	"context"
	"sync"

	fferrors "github.com/dokuma/fabricstock/internal/fulfillment/errors"
	"github.com/google/uuid"
)

type priceKey struct {
	productID uuid.UUID
	market    string
}

// inMemory implements Catalog using maps, for tests.
type inMemory struct {
	mu        sync.RWMutex
	prices    map[priceKey]Price
	materials map[uuid.UUID]bool
}

// NewInMemoryCatalog creates an empty in-memory Catalog.
func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{
		inMemory: &inMemory{
			prices:    make(map[priceKey]Price),
			materials: make(map[uuid.UUID]bool),
		},
	}
}

// InMemoryCatalog is the seedable in-memory Catalog used in tests.
type InMemoryCatalog struct {
	*inMemory
}

// SetPrice registers the effective price of a product in a market.
func (c *InMemoryCatalog) SetPrice(productID uuid.UUID, market string, price Price) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[priceKey{productID: productID, market: market}] = price
}

// AddMaterial registers a material.
func (c *InMemoryCatalog) AddMaterial(materialID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materials[materialID] = true
}

func (c *inMemory) PriceFor(_ context.Context, productID uuid.UUID, market string) (*Price, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	price, ok := c.prices[priceKey{productID: productID, market: market}]
	if !ok {
		return nil, fferrors.ErrPriceNotFound
	}
	return &price, nil
}

func (c *inMemory) MaterialExists(_ context.Context, materialID uuid.UUID) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.materials[materialID], nil
}
