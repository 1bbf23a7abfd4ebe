package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStock(t *testing.T, onHand int) *Stock {
	t.Helper()
	s, err := NewStock("p-1", onHand)
	require.NoError(t, err)
	return s
}

func reserve(t *testing.T, s *Stock, id string, qty int, now time.Time) {
	t.Helper()
	res := NewReservation(id, s.ProductID, "ord-1", qty, 15*time.Minute, now)
	require.NoError(t, s.Reserve(res, now))
}

func TestReserveHoldsAvailability(t *testing.T) {
	s := newTestStock(t, 10)
	reserve(t, s, "res-1", 4, base)

	assert.Equal(t, 10, s.OnHand, "reserve must not touch on-hand stock")
	assert.Equal(t, 6, s.Available(base))
}

func TestReserveInsufficientStock(t *testing.T) {
	s := newTestStock(t, 5)
	reserve(t, s, "res-1", 3, base)

	res := NewReservation("res-2", "p-1", "ord-2", 3, 15*time.Minute, base)
	err := s.Reserve(res, base)

	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "p-1", ise.ProductID)
	assert.Equal(t, 3, ise.Requested)
	assert.Equal(t, 2, ise.Available)
	assert.Len(t, s.Reservations, 1)
}

func TestConfirmDeductsOnce(t *testing.T) {
	s := newTestStock(t, 10)
	reserve(t, s, "res-1", 4, base)

	require.NoError(t, s.Confirm("res-1", base.Add(time.Minute)))
	assert.Equal(t, 6, s.OnHand)
	assert.Equal(t, 6, s.Available(base.Add(time.Minute)))

	// second delivery of the same confirmation
	require.NoError(t, s.Confirm("res-1", base.Add(2*time.Minute)))
	assert.Equal(t, 6, s.OnHand, "re-confirm must not deduct again")
}

func TestConfirmExpiredReservation(t *testing.T) {
	s := newTestStock(t, 10)
	reserve(t, s, "res-1", 4, base)

	err := s.Confirm("res-1", base.Add(16*time.Minute))
	assert.ErrorIs(t, err, ErrReservationExpired)
	assert.Equal(t, 10, s.OnHand)
}

func TestConfirmClosedReservation(t *testing.T) {
	s := newTestStock(t, 10)
	reserve(t, s, "res-1", 4, base)
	require.NoError(t, s.Release("res-1", base))

	assert.ErrorIs(t, s.Confirm("res-1", base), ErrReservationClosed)
}

func TestReleaseRestoresAvailability(t *testing.T) {
	s := newTestStock(t, 10)
	reserve(t, s, "res-1", 4, base)
	require.NoError(t, s.Release("res-1", base))

	assert.Equal(t, 10, s.OnHand)
	assert.Equal(t, 10, s.Available(base))

	// idempotent
	require.NoError(t, s.Release("res-1", base))
	assert.ErrorIs(t, s.Release("missing", base), ErrReservationNotFound)
}

func TestReleaseConfirmedIsRejected(t *testing.T) {
	s := newTestStock(t, 10)
	reserve(t, s, "res-1", 4, base)
	require.NoError(t, s.Confirm("res-1", base))

	assert.ErrorIs(t, s.Release("res-1", base), ErrReservationClosed)
	assert.Equal(t, 6, s.OnHand)
}

func TestRestockReturnsConfirmedQuantity(t *testing.T) {
	s := newTestStock(t, 10)
	reserve(t, s, "res-1", 4, base)
	require.NoError(t, s.Confirm("res-1", base))
	require.Equal(t, 6, s.OnHand)

	require.NoError(t, s.Restock("res-1", base))
	assert.Equal(t, 10, s.OnHand)
	assert.Equal(t, ReservationReleased, s.Reservations[0].Status)

	// idempotent: a second restock must not inflate stock
	require.NoError(t, s.Restock("res-1", base))
	assert.Equal(t, 10, s.OnHand)
}

func TestRestockActiveReservationDoesNotAddStock(t *testing.T) {
	s := newTestStock(t, 10)
	reserve(t, s, "res-1", 4, base)

	require.NoError(t, s.Restock("res-1", base))
	assert.Equal(t, 10, s.OnHand, "nothing was deducted, nothing to return")
	assert.Equal(t, ReservationReleased, s.Reservations[0].Status)
}

func TestExpiredReservationStopsHolding(t *testing.T) {
	s := newTestStock(t, 10)
	reserve(t, s, "res-1", 4, base)

	assert.Equal(t, 6, s.Available(base.Add(15*time.Minute)))
	assert.Equal(t, 10, s.Available(base.Add(15*time.Minute+time.Second)),
		"past-TTL reservation must not count even before the sweep")
}

func TestSweepExpired(t *testing.T) {
	s := newTestStock(t, 10)
	reserve(t, s, "res-1", 2, base)
	reserve(t, s, "res-2", 3, base.Add(10*time.Minute))
	require.NoError(t, s.Confirm("res-2", base.Add(11*time.Minute)))

	n := s.SweepExpired(base.Add(20 * time.Minute))
	assert.Equal(t, 1, n)
	assert.Equal(t, ReservationExpired, s.Reservations[0].Status)
	assert.Equal(t, ReservationConfirmed, s.Reservations[1].Status)

	assert.Equal(t, 0, s.SweepExpired(base.Add(21*time.Minute)))
}

func TestNewStockRejectsNegative(t *testing.T) {
	_, err := NewStock("p-1", -1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}
