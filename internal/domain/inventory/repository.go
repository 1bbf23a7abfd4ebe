package inventory

import "context"

type Repository interface {
	Get(ctx context.Context, productID string) (*Stock, error)
	// GetByReservation resolves the stock facet owning the reservation.
	GetByReservation(ctx context.Context, reservationID string) (*Stock, error)
	// Save persists the stock with an optimistic version check and returns
	// ErrVersionConflict when the stored version moved underneath the caller.
	Save(ctx context.Context, stock *Stock) error
	// ProductIDs lists every product with a stock facet; used by the sweeper.
	ProductIDs(ctx context.Context) ([]string, error)
}
