package order

import "time"

// CreatedEvent is emitted after the order and its reservations commit.
// Handled by the notification worker; delivery is at-least-once.
type CreatedEvent struct {
	OrderID    string
	Number     string
	UserID     string
	Total      int64
	OccurredAt time.Time
}

func (CreatedEvent) EventName() string { return "order.created" }

func NewCreatedEvent(o *Order) CreatedEvent {
	return CreatedEvent{
		OrderID:    o.ID,
		Number:     o.Number,
		UserID:     o.UserID,
		Total:      o.Pricing.Total,
		OccurredAt: time.Now().UTC(),
	}
}

// StatusChangedEvent is emitted on every accepted status transition that
// callers want broadcast (paid, payment_failed, cancelled, refunded, ...).
type StatusChangedEvent struct {
	OrderID    string
	Number     string
	UserID     string
	From       Status
	To         Status
	Note       string
	OccurredAt time.Time
}

func (StatusChangedEvent) EventName() string { return "order.status_changed" }

func NewStatusChangedEvent(o *Order, from Status, note string) StatusChangedEvent {
	return StatusChangedEvent{
		OrderID:    o.ID,
		Number:     o.Number,
		UserID:     o.UserID,
		From:       from,
		To:         o.Status,
		Note:       note,
		OccurredAt: time.Now().UTC(),
	}
}
