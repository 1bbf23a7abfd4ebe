package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("inventory: product not found")
	ErrReservationNotFound = errors.New("inventory: reservation not found")
	ErrReservationExpired  = errors.New("inventory: reservation expired")
	ErrReservationClosed   = errors.New("inventory: reservation already terminal")
	ErrInvalidQuantity     = errors.New("inventory: quantity must be greater than zero")
	ErrVersionConflict     = errors.New("inventory: stock version conflict")
)

// InsufficientStockError names the product and what was actually available
// at the time of the failed reserve.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Stock is the per-product stock facet: physical on-hand units plus the
// reservation ledger. OnHand is only decremented when a reservation is
// confirmed. Version backs the repository's optimistic concurrency check,
// so a lost read-check-write race surfaces as ErrVersionConflict instead
// of a silent oversell.
type Stock struct {
	ProductID    string
	OnHand       int
	Reservations []Reservation
	Version      int64
	UpdatedAt    time.Time
}

func NewStock(productID string, onHand int) (*Stock, error) {
	if onHand < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Stock{
		ProductID: productID,
		OnHand:    onHand,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Available is on-hand stock minus every holding (active, unexpired)
// reservation. Expired reservations stop counting immediately, even
// before the sweeper flips their status.
func (s *Stock) Available(now time.Time) int {
	held := 0
	for i := range s.Reservations {
		if s.Reservations[i].Holding(now) {
			held += s.Reservations[i].Quantity
		}
	}
	return s.OnHand - held
}

// Reserve appends a new active reservation after checking availability.
// The caller must persist the stock with a version check so that two
// concurrent reserves cannot both observe pre-append availability.
func (s *Stock) Reserve(res Reservation, now time.Time) error {
	if res.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if avail := s.Available(now); avail < res.Quantity {
		return &InsufficientStockError{ProductID: s.ProductID, Requested: res.Quantity, Available: avail}
	}
	s.Reservations = append(s.Reservations, res)
	s.touch(now)
	return nil
}

// Confirm converts a reservation into a permanent deduction. Confirming an
// already-confirmed reservation is a no-op success so that webhook and
// retry delivery can call it twice without double-deducting.
func (s *Stock) Confirm(reservationID string, now time.Time) error {
	r := s.find(reservationID)
	if r == nil {
		return ErrReservationNotFound
	}
	switch r.Status {
	case ReservationConfirmed:
		return nil
	case ReservationReleased, ReservationExpired:
		return ErrReservationClosed
	}
	if now.After(r.ExpiresAt) {
		return ErrReservationExpired
	}
	s.OnHand -= r.Quantity
	r.Status = ReservationConfirmed
	r.UpdatedAt = now
	s.touch(now)
	return nil
}

// Release marks an active reservation released without touching on-hand
// stock. Idempotent: releasing an already-released reservation succeeds.
func (s *Stock) Release(reservationID string, now time.Time) error {
	r := s.find(reservationID)
	if r == nil {
		return ErrReservationNotFound
	}
	switch r.Status {
	case ReservationReleased, ReservationExpired:
		return nil
	case ReservationConfirmed:
		return ErrReservationClosed
	}
	r.Status = ReservationReleased
	r.UpdatedAt = now
	s.touch(now)
	return nil
}

// Restock compensates a confirmed reservation: the deducted quantity is
// returned to on-hand stock and the reservation is closed as released.
// Used when order persistence fails after confirmation, and by order
// cancellation. Idempotent on already-released reservations.
func (s *Stock) Restock(reservationID string, now time.Time) error {
	r := s.find(reservationID)
	if r == nil {
		return ErrReservationNotFound
	}
	switch r.Status {
	case ReservationReleased, ReservationExpired:
		return nil
	case ReservationActive:
		// never confirmed, nothing was deducted
		r.Status = ReservationReleased
		r.UpdatedAt = now
		s.touch(now)
		return nil
	}
	s.OnHand += r.Quantity
	r.Status = ReservationReleased
	r.UpdatedAt = now
	s.touch(now)
	return nil
}

// SweepExpired flips past-TTL active reservations to expired and returns
// how many were flipped. Availability already ignores them; this is
// bookkeeping for the audit trail.
func (s *Stock) SweepExpired(now time.Time) int {
	n := 0
	for i := range s.Reservations {
		r := &s.Reservations[i]
		if r.Status == ReservationActive && now.After(r.ExpiresAt) {
			r.Status = ReservationExpired
			r.UpdatedAt = now
			n++
		}
	}
	if n > 0 {
		s.touch(now)
	}
	return n
}

func (s *Stock) find(reservationID string) *Reservation {
	for i := range s.Reservations {
		if s.Reservations[i].ID == reservationID {
			return &s.Reservations[i]
		}
	}
	return nil
}

func (s *Stock) touch(now time.Time) {
	s.UpdatedAt = now
}

func (s *Stock) Clone() *Stock {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Reservations = append([]Reservation(nil), s.Reservations...)
	return &clone
}
