package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/cartloom/fulfillment/internal/domain/payment"
)

// PaymentRepository enforces the at-most-one open payment per order
// invariant inside its write lock, standing in for the partial unique
// index the postgres implementation relies on.
type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
	byRef    map[string]string
	byOrder  map[string][]string
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]*domain.Payment),
		byRef:    make(map[string]string),
		byOrder:  make(map[string][]string),
	}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; exists {
		return domain.ErrDuplicate
	}
	for _, id := range r.byOrder[p.OrderID] {
		if existing := r.payments[id]; existing != nil && existing.Status.Open() {
			return domain.ErrDuplicate
		}
	}

	r.payments[p.ID] = p.Clone()
	r.byOrder[p.OrderID] = append(r.byOrder[p.OrderID], p.ID)
	if p.ExternalRef != "" {
		r.byRef[p.ExternalRef] = p.ID
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PaymentRepository) GetByExternalRef(ctx context.Context, externalRef string) (*domain.Payment, error) {
	_ = ctx
	if externalRef == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byRef[externalRef]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PaymentRepository) FindByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOrder[orderID]
	out := make([]*domain.Payment, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.payments[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; !exists {
		return domain.ErrNotFound
	}
	r.payments[p.ID] = p.Clone()
	if p.ExternalRef != "" {
		r.byRef[p.ExternalRef] = p.ID
	}
	return nil
}
