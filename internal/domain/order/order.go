package order

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("order: not found")
	ErrConflict        = errors.New("order: conflict")
	ErrEmptyCart       = errors.New("order: cart is empty")
	ErrInvalidQuantity = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount   = errors.New("order: amount must be zero or greater")
	ErrNotCancellable  = errors.New("order: status does not permit cancellation")
)

// LineItem is a price/quantity snapshot taken from the product at
// order-creation time. It is never recalculated from live product data,
// which keeps historical orders stable against later price changes.
type LineItem struct {
	ProductID  string
	Name       string
	Quantity   int
	UnitPrice  int64
	Discount   int64
	FinalPrice int64
	Subtotal   int64
}

// Pricing holds the aggregate money amounts of an order, in cents.
type Pricing struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
}

// PaymentInfo mirrors the latest payment state onto the order for reads.
// The Payment record itself is owned by the payment orchestrator.
type PaymentInfo struct {
	Method        string `json:"method"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

type StatusChange struct {
	Status Status
	At     time.Time
	Note   string
	Actor  string
}

type Order struct {
	ID              string
	Number          string
	UserID          string
	IdempotencyKey  string
	Items           []LineItem
	Pricing         Pricing
	Status          Status
	Payment         PaymentInfo
	ShippingAddress Address
	// ReservationIDs are weak references; the reservations themselves are
	// owned by the inventory manager.
	ReservationIDs []string
	History        []StatusChange
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func New(id, number, userID string, items []LineItem, pricing Pricing, addr Address) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if it.FinalPrice < 0 {
			return nil, ErrInvalidAmount
		}
	}
	if pricing.Total < 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	o := &Order{
		ID:              id,
		Number:          number,
		UserID:          userID,
		Items:           items,
		Pricing:         pricing,
		Status:          StatusPending,
		ShippingAddress: addr,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.History = append(o.History, StatusChange{Status: StatusPending, At: now, Actor: "system", Note: "order created"})
	return o, nil
}

// Transition moves the order to the target status, appending a history
// entry. It fails without mutating state when the transition is not in the
// state-machine table.
func (o *Order) Transition(to Status, note, actor string) error {
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}
	now := time.Now().UTC()
	o.Status = to
	o.History = append(o.History, StatusChange{Status: to, At: now, Note: note, Actor: actor})
	switch to {
	case StatusShipped:
		if o.ShippedAt == nil {
			o.ShippedAt = &now
		}
	case StatusDelivered:
		if o.DeliveredAt == nil {
			o.DeliveredAt = &now
		}
	}
	o.UpdatedAt = now
	return nil
}

// CanCancel reports whether the order may still be cancelled.
func (o *Order) CanCancel() bool {
	switch o.Status {
	case StatusPending, StatusPaid, StatusProcessing:
		return true
	}
	return false
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]LineItem(nil), o.Items...)
	clone.ReservationIDs = append([]string(nil), o.ReservationIDs...)
	clone.History = append([]StatusChange(nil), o.History...)
	if o.ShippedAt != nil {
		t := *o.ShippedAt
		clone.ShippedAt = &t
	}
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		clone.DeliveredAt = &t
	}
	return &clone
}

// InvalidTransitionError names the current and requested status so the
// caller can report exactly which edge was rejected.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order: invalid status transition %s -> %s", e.From, e.To)
}
