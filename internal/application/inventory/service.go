package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/cartloom/fulfillment/internal/domain/inventory"
	"github.com/cartloom/fulfillment/internal/pkg/logging"
	"go.uber.org/zap"
)

const (
	// conflictRetries bounds the optimistic-concurrency retry loop. A
	// conflict means another request mutated the same stock facet between
	// our read and save; re-reading and re-checking is cheap.
	conflictRetries = 5

	DefaultReservationTTL = 15 * time.Minute
)

var ErrTooMuchContention = errors.New("inventory: too much contention on stock")

type IDGenerator interface {
	NewID() string
}

// Manager owns the reservation lifecycle. All stock mutation in the system
// goes through Reserve, Confirm, Release and Restock; no other component
// writes stock directly.
type Manager struct {
	repo  domain.Repository
	idGen IDGenerator
	ttl   time.Duration
	now   func() time.Time
}

func NewManager(repo domain.Repository, idGen IDGenerator, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &Manager{
		repo:  repo,
		idGen: idGen,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Reserve places a time-bounded hold of quantity units on the product for
// the given order. The availability check and the reservation append are
// one atomic unit: the repository save carries an optimistic version check
// and the whole read-check-write is retried on conflict.
func (m *Manager) Reserve(ctx context.Context, productID string, quantity int, orderID string) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	logger := logging.FromContext(ctx).With(zap.String("component", "inventory_manager"))

	for attempt := 0; attempt < conflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stock, err := m.repo.Get(ctx, productID)
		if err != nil {
			return nil, err
		}

		now := m.now()
		res := domain.NewReservation(m.idGen.NewID(), productID, orderID, quantity, m.ttl, now)
		if err := stock.Reserve(res, now); err != nil {
			return nil, err
		}

		err = m.repo.Save(ctx, stock)
		if errors.Is(err, domain.ErrVersionConflict) {
			logger.Warn("stock_reserve_conflict",
				zap.String("product_id", productID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inventory: save stock: %w", err)
		}
		return &res, nil
	}
	return nil, ErrTooMuchContention
}

// Confirm deducts the reserved quantity from physical stock and marks the
// reservation confirmed. Idempotent: confirming twice deducts once.
func (m *Manager) Confirm(ctx context.Context, reservationID string) error {
	return m.mutateReservation(ctx, reservationID, func(stock *domain.Stock, now time.Time) error {
		return stock.Confirm(reservationID, now)
	})
}

// Release returns an active reservation to the pool without touching
// physical stock. Safe to call on already-released reservations.
func (m *Manager) Release(ctx context.Context, reservationID string) error {
	return m.mutateReservation(ctx, reservationID, func(stock *domain.Stock, now time.Time) error {
		return stock.Release(reservationID, now)
	})
}

// Restock compensates a confirmed reservation by returning the deducted
// quantity to physical stock. Used when order persistence fails after
// confirmation and when a cancelled order holds confirmed reservations.
func (m *Manager) Restock(ctx context.Context, reservationID string) error {
	return m.mutateReservation(ctx, reservationID, func(stock *domain.Stock, now time.Time) error {
		return stock.Restock(reservationID, now)
	})
}

// Available reports the currently reservable quantity for the product.
func (m *Manager) Available(ctx context.Context, productID string) (int, error) {
	stock, err := m.repo.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	return stock.Available(m.now()), nil
}

// SweepExpired flips past-TTL active reservations to expired across all
// products. Availability already excludes them; this keeps the audit
// trail honest. Returns the number of reservations flipped.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	ids, err := m.repo.ProductIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, productID := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := m.sweepProduct(ctx, productID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (m *Manager) sweepProduct(ctx context.Context, productID string) (int, error) {
	for attempt := 0; attempt < conflictRetries; attempt++ {
		stock, err := m.repo.Get(ctx, productID)
		if err != nil {
			return 0, err
		}
		n := stock.SweepExpired(m.now())
		if n == 0 {
			return 0, nil
		}
		err = m.repo.Save(ctx, stock)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
	return 0, ErrTooMuchContention
}

func (m *Manager) mutateReservation(ctx context.Context, reservationID string, mutate func(*domain.Stock, time.Time) error) error {
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		stock, err := m.repo.GetByReservation(ctx, reservationID)
		if err != nil {
			return err
		}

		if err := mutate(stock, m.now()); err != nil {
			return err
		}

		err = m.repo.Save(ctx, stock)
		if errors.Is(err, domain.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("inventory: save stock: %w", err)
		}
		return nil
	}
	return ErrTooMuchContention
}

// SetClock overrides the time source; used by tests to drive TTL expiry.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}
