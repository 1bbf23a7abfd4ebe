package order

type Status string

const (
	StatusPending       Status = "pending"
	StatusPaid          Status = "paid"
	StatusPaymentFailed Status = "payment_failed"
	StatusProcessing    Status = "processing"
	StatusShipped       Status = "shipped"
	StatusDelivered     Status = "delivered"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
	StatusRefunded      Status = "refunded"
)

// validNext is the order lifecycle table. A missing edge means the
// transition is rejected. cancelled and refunded are terminal.
var validNext = map[Status]map[Status]bool{
	StatusPending:       {StatusPaid: true, StatusPaymentFailed: true, StatusCancelled: true},
	StatusPaymentFailed: {StatusPending: true, StatusCancelled: true},
	StatusPaid:          {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing:    {StatusShipped: true, StatusCancelled: true},
	StatusShipped:       {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:     {StatusCompleted: true, StatusRefunded: true},
	StatusCompleted:     {StatusRefunded: true},
	StatusCancelled:     {},
	StatusRefunded:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}
