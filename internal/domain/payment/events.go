package payment

import "time"

// CapturedEvent is emitted when reconciliation marks a payment completed.
type CapturedEvent struct {
	PaymentID   string
	OrderID     string
	UserID      string
	Amount      int64
	Gateway     string
	ExternalRef string
	OccurredAt  time.Time
}

func (CapturedEvent) EventName() string { return "payment.captured" }

// FailedEvent is emitted when reconciliation marks a payment failed.
type FailedEvent struct {
	PaymentID  string
	OrderID    string
	UserID     string
	Gateway    string
	Reason     string
	OccurredAt time.Time
}

func (FailedEvent) EventName() string { return "payment.failed" }

// RefundedEvent is emitted when a refund is acknowledged by the gateway.
type RefundedEvent struct {
	PaymentID    string
	OrderID      string
	UserID       string
	RefundAmount int64
	Partial      bool
	OccurredAt   time.Time
}

func (RefundedEvent) EventName() string { return "payment.refunded" }
