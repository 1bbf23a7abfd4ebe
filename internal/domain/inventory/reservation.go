package inventory

import "time"

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation is a time-bounded hold against a product's stock, distinct
// from a confirmed deduction. Reservations are never deleted; terminal
// records remain as an audit trail.
type Reservation struct {
	ID        string
	ProductID string
	OrderID   string
	Quantity  int
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewReservation(id, productID, orderID string, quantity int, ttl time.Duration, now time.Time) Reservation {
	return Reservation{
		ID:        id,
		ProductID: productID,
		OrderID:   orderID,
		Quantity:  quantity,
		Status:    ReservationActive,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Holding reports whether the reservation still counts against
// availability: active and not yet past its TTL.
func (r *Reservation) Holding(now time.Time) bool {
	return r.Status == ReservationActive && !now.After(r.ExpiresAt)
}

func (r *Reservation) Terminal() bool {
	return r.Status == ReservationConfirmed || r.Status == ReservationReleased || r.Status == ReservationExpired
}
