package payment

import "context"

type Repository interface {
	// Insert persists a new payment and fails with ErrDuplicate when the
	// order already has an open payment. The existence check and the
	// insert are one atomic operation.
	Insert(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*Payment, error)
	FindByOrder(ctx context.Context, orderID string) ([]*Payment, error)
	Update(ctx context.Context, p *Payment) error
}
