package checkout

import (
	"context"
	"errors"
)

var (
	ErrProductNotFound    = errors.New("checkout: product not found")
	ErrProductUnavailable = errors.New("checkout: product unavailable")
)

type CartItem struct {
	ProductID string
	Quantity  int
}

type Cart struct {
	Items    []CartItem
	Discount int64
}

// CartService is the external cart collaborator. The coordinator re-reads
// products from the catalog instead of trusting the cart snapshot.
type CartService interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Clear(ctx context.Context, userID string) error
}

type Product struct {
	ID     string
	Name   string
	Active bool
	// Price is the list price in cents. DiscountPrice, when greater than
	// zero and below Price, is the currently advertised sale price.
	Price         int64
	DiscountPrice int64
}

// FinalPrice is the per-unit price charged at checkout.
func (p *Product) FinalPrice() int64 {
	if p.DiscountPrice > 0 && p.DiscountPrice < p.Price {
		return p.DiscountPrice
	}
	return p.Price
}

// ProductCatalog is read-only here; stock mutation goes exclusively
// through the inventory manager.
type ProductCatalog interface {
	Get(ctx context.Context, productID string) (*Product, error)
}

// IdempotencyStore maps a client idempotency key to the order it already
// produced, so client retries of POST /orders are replay-safe.
// Get returns "" when the key is unknown.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, orderID string) error
}

// Refunder requests a compensating refund for an order's completed
// payment; implemented by the payment orchestrator.
type Refunder interface {
	RefundOrder(ctx context.Context, orderID string) error
}

type IDGenerator interface {
	NewID() string
}
