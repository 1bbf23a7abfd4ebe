package payment

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("payment: not found")
	ErrDuplicate = errors.New("payment: open payment already exists for order")
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusRefundPending     Status = "refund_pending"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// Open reports whether the payment counts against the at-most-one
// non-terminal payment per order invariant.
func (s Status) Open() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusRefundPending, StatusPartiallyRefunded:
		return true
	}
	return false
}

type Payment struct {
	ID           string
	OrderID      string
	UserID       string
	Amount       int64
	Currency     string
	Gateway      string
	Method       string
	Status       Status
	ExternalRef  string
	RefundRef    string
	RefundAmount int64
	// PendingRefund is the amount claimed by an in-flight refund that the
	// gateway has not yet acknowledged.
	PendingRefund int64
	CapturedAt    *time.Time
	RefundedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func New(id, orderID, userID string, amount int64, currency, gateway, method string) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:        id,
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		Gateway:   gateway,
		Method:    method,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (p *Payment) MarkCompleted(now time.Time) {
	p.Status = StatusCompleted
	p.CapturedAt = &now
	p.UpdatedAt = now
}

func (p *Payment) MarkFailed(now time.Time) {
	p.Status = StatusFailed
	p.UpdatedAt = now
}

// ApplyRefund records an acknowledged refund of the given amount and moves
// the payment to refunded or partially_refunded depending on coverage.
func (p *Payment) ApplyRefund(amount int64, refundRef string, now time.Time) {
	p.RefundAmount += amount
	p.PendingRefund = 0
	p.RefundRef = refundRef
	if p.RefundAmount >= p.Amount {
		p.Status = StatusRefunded
	} else {
		p.Status = StatusPartiallyRefunded
	}
	p.RefundedAt = &now
	p.UpdatedAt = now
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	clone := *p
	if p.CapturedAt != nil {
		t := *p.CapturedAt
		clone.CapturedAt = &t
	}
	if p.RefundedAt != nil {
		t := *p.RefundedAt
		clone.RefundedAt = &t
	}
	return &clone
}
