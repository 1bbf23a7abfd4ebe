package notify

import (
	"context"

	domorder "github.com/cartloom/fulfillment/internal/domain/order"
	domoutbox "github.com/cartloom/fulfillment/internal/domain/outbox"
	dompay "github.com/cartloom/fulfillment/internal/domain/payment"
	"go.uber.org/zap"
)

// Worker subscribes to order and payment lifecycle events and forwards a
// notification per event to the sink. Forwarding is best effort; the sink
// consumer deduplicates.
type Worker struct {
	sink Sink
	log  *zap.Logger
}

func NewWorker(sink Sink, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.L()
	}
	return &Worker{
		sink: sink,
		log:  logger.With(zap.String("component", "notify_worker")),
	}
}

func (w *Worker) Register(sub domoutbox.Subscriber) {
	sub.Subscribe(domorder.CreatedEvent{}.EventName(), w.handle)
	sub.Subscribe(domorder.StatusChangedEvent{}.EventName(), w.handle)
	sub.Subscribe(dompay.CapturedEvent{}.EventName(), w.handle)
	sub.Subscribe(dompay.FailedEvent{}.EventName(), w.handle)
	sub.Subscribe(dompay.RefundedEvent{}.EventName(), w.handle)
}

func (w *Worker) handle(ctx context.Context, e domoutbox.Event) error {
	n, ok := w.toNotification(e)
	if !ok {
		return nil
	}
	if err := w.sink.Enqueue(ctx, n); err != nil {
		w.log.Warn("notification_enqueue_failed",
			zap.String("event", e.EventName()),
			zap.Error(err),
		)
	}
	return nil
}

func (w *Worker) toNotification(e domoutbox.Event) (Notification, bool) {
	switch ev := e.(type) {
	case domorder.CreatedEvent:
		return Notification{
			EventType: ev.EventName(),
			Recipient: ev.UserID,
			Payload: map[string]any{
				"order_id":     ev.OrderID,
				"order_number": ev.Number,
				"total":        ev.Total,
			},
		}, true
	case domorder.StatusChangedEvent:
		return Notification{
			EventType: ev.EventName(),
			Recipient: ev.UserID,
			Payload: map[string]any{
				"order_id":     ev.OrderID,
				"order_number": ev.Number,
				"from":         string(ev.From),
				"to":           string(ev.To),
				"note":         ev.Note,
			},
		}, true
	case dompay.CapturedEvent:
		return Notification{
			EventType: ev.EventName(),
			Recipient: ev.UserID,
			Payload: map[string]any{
				"order_id":   ev.OrderID,
				"payment_id": ev.PaymentID,
				"amount":     ev.Amount,
				"gateway":    ev.Gateway,
			},
		}, true
	case dompay.FailedEvent:
		return Notification{
			EventType: ev.EventName(),
			Recipient: ev.UserID,
			Payload: map[string]any{
				"order_id":   ev.OrderID,
				"payment_id": ev.PaymentID,
				"reason":     ev.Reason,
			},
		}, true
	case dompay.RefundedEvent:
		return Notification{
			EventType: ev.EventName(),
			Recipient: ev.UserID,
			Payload: map[string]any{
				"order_id":      ev.OrderID,
				"payment_id":    ev.PaymentID,
				"refund_amount": ev.RefundAmount,
				"partial":       ev.Partial,
			},
		}, true
	}
	return Notification{}, false
}
