package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	domorder "github.com/cartloom/fulfillment/internal/domain/order"
	domoutbox "github.com/cartloom/fulfillment/internal/domain/outbox"
	dompay "github.com/cartloom/fulfillment/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureSink struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (s *captureSink) Enqueue(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

type recordingSubscriber struct {
	handlers map[string]domoutbox.Handler
}

func (r *recordingSubscriber) Subscribe(eventName string, h domoutbox.Handler) {
	if r.handlers == nil {
		r.handlers = make(map[string]domoutbox.Handler)
	}
	r.handlers[eventName] = h
}

func TestWorkerSubscribesToLifecycleEvents(t *testing.T) {
	sub := &recordingSubscriber{}
	NewWorker(&captureSink{}, zap.NewNop()).Register(sub)

	for _, name := range []string{
		"order.created", "order.status_changed",
		"payment.captured", "payment.failed", "payment.refunded",
	} {
		assert.Contains(t, sub.handlers, name)
	}
}

func TestWorkerForwardsOrderCreated(t *testing.T) {
	sink := &captureSink{}
	sub := &recordingSubscriber{}
	NewWorker(sink, zap.NewNop()).Register(sub)

	err := sub.handlers["order.created"](context.Background(), domorder.CreatedEvent{
		OrderID: "ord-1", Number: "ORD-1", UserID: "user-1", Total: 3200,
	})
	require.NoError(t, err)

	require.Len(t, sink.sent, 1)
	n := sink.sent[0]
	assert.Equal(t, "order.created", n.EventType)
	assert.Equal(t, "user-1", n.Recipient)
	assert.Equal(t, "ord-1", n.Payload["order_id"])
	assert.Equal(t, int64(3200), n.Payload["total"])
}

func TestWorkerForwardsPaymentRefunded(t *testing.T) {
	sink := &captureSink{}
	sub := &recordingSubscriber{}
	NewWorker(sink, zap.NewNop()).Register(sub)

	err := sub.handlers["payment.refunded"](context.Background(), dompay.RefundedEvent{
		PaymentID: "pay-1", OrderID: "ord-1", UserID: "user-1", RefundAmount: 1000, Partial: true,
	})
	require.NoError(t, err)

	require.Len(t, sink.sent, 1)
	assert.Equal(t, true, sink.sent[0].Payload["partial"])
}

func TestWorkerSwallowsSinkFailures(t *testing.T) {
	sink := &captureSink{err: errors.New("broker down")}
	sub := &recordingSubscriber{}
	NewWorker(sink, zap.NewNop()).Register(sub)

	// the bus must never see a notification failure
	err := sub.handlers["order.created"](context.Background(), domorder.CreatedEvent{OrderID: "ord-1"})
	assert.NoError(t, err)
}
