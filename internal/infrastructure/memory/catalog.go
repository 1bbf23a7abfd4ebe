package memory

import (
	"context"
	"sync"

	"github.com/cartloom/fulfillment/internal/application/checkout"
)

// Catalog is an in-memory product catalog for tests and local runs.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]checkout.Product
}

func NewCatalog() *Catalog {
	return &Catalog{products: make(map[string]checkout.Product)}
}

func (c *Catalog) Put(p checkout.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *Catalog) Get(ctx context.Context, productID string) (*checkout.Product, error) {
	_ = ctx

	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[productID]
	if !ok {
		return nil, checkout.ErrProductNotFound
	}
	clone := p
	return &clone, nil
}
