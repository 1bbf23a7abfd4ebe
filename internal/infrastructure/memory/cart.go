package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/cartloom/fulfillment/internal/application/checkout"
)

var ErrCartNotFound = errors.New("cart: not found")

// CartStore is an in-memory stand-in for the external cart service.
type CartStore struct {
	mu    sync.RWMutex
	carts map[string]*checkout.Cart
}

func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string]*checkout.Cart)}
}

func (s *CartStore) Put(userID string, cart checkout.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cart
	c.Items = append([]checkout.CartItem(nil), cart.Items...)
	s.carts[userID] = &c
}

func (s *CartStore) Get(ctx context.Context, userID string) (*checkout.Cart, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[userID]
	if !ok {
		return &checkout.Cart{}, nil
	}
	c := *cart
	c.Items = append([]checkout.CartItem(nil), cart.Items...)
	return &c, nil
}

func (s *CartStore) Clear(ctx context.Context, userID string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}
