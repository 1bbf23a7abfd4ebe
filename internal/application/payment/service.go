package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	appinventory "github.com/cartloom/fulfillment/internal/application/inventory"
	domorder "github.com/cartloom/fulfillment/internal/domain/order"
	domoutbox "github.com/cartloom/fulfillment/internal/domain/outbox"
	domain "github.com/cartloom/fulfillment/internal/domain/payment"
	"github.com/cartloom/fulfillment/internal/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// amountTolerance absorbs currency-unit rounding between the client and
// the stored order total.
const amountTolerance = 1

var (
	ErrUnknownGateway       = errors.New("payment: unknown gateway")
	ErrBadSignature         = errors.New("payment: webhook signature verification failed")
	ErrAlreadyPaid          = errors.New("payment: order already paid")
	ErrPaymentInProgress    = errors.New("payment: payment already in progress for order")
	ErrNotRefundable        = errors.New("payment: payment is not refundable")
	ErrRefundExceedsPayment = errors.New("payment: refund exceeds captured amount")
)

// AmountMismatchError names both amounts so the caller sees what the order
// actually costs.
type AmountMismatchError struct {
	OrderID    string
	Requested  int64
	OrderTotal int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("payment: amount %d does not match order %s total %d", e.Requested, e.OrderID, e.OrderTotal)
}

type IDGenerator interface {
	NewID() string
}

// Orchestrator drives the payment lifecycle: adapter selection, the
// at-most-one open payment invariant, and idempotent reconciliation of
// asynchronous gateway events. Webhook reconciliation is serialized
// per order; locks are never held across gateway calls.
type Orchestrator struct {
	payments  domain.Repository
	orders    domorder.Repository
	gateways  map[string]domain.Gateway
	idGen     IDGenerator
	publisher domoutbox.Publisher
	stock     *appinventory.Manager

	// restockOnFailure optionally returns confirmed stock when a payment
	// fails. Off by default: a failed payment keeps stock committed
	// until the order is explicitly cancelled.
	restockOnFailure bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewOrchestrator(
	payments domain.Repository,
	orders domorder.Repository,
	gateways []domain.Gateway,
	idGen IDGenerator,
	publisher domoutbox.Publisher,
	stock *appinventory.Manager,
	restockOnFailure bool,
) *Orchestrator {
	byName := make(map[string]domain.Gateway, len(gateways))
	for _, gw := range gateways {
		byName[gw.Name()] = gw
	}
	return &Orchestrator{
		payments:         payments,
		orders:           orders,
		gateways:         byName,
		idGen:            idGen,
		publisher:        publisher,
		stock:            stock,
		restockOnFailure: restockOnFailure,
		locks:            make(map[string]*sync.Mutex),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

type InitiateInput struct {
	OrderID  string
	Method   string
	Amount   int64
	Currency string
}

// Handle is what the client needs to finish the payment: a client secret
// for card flows, an approval URL for wallet flows.
type Handle struct {
	PaymentID    string
	Status       domain.Status
	ExternalRef  string
	ClientSecret string
	ApprovalURL  string
}

// Initiate starts a payment for an order. The open-payment existence check
// and the insert are one atomic repository operation, so two concurrent
// submissions cannot both claim the order.
func (o *Orchestrator) Initiate(ctx context.Context, in InitiateInput) (*Handle, error) {
	logger := logging.FromContext(ctx).With(
		zap.String("component", "payment_orchestrator"),
		zap.String("order_id", in.OrderID),
	)
	ctx, span := otel.Tracer("fulfillment.payment").Start(ctx, "InitiatePayment",
		trace.WithAttributes(
			attribute.String("order.id", in.OrderID),
			attribute.String("payment.method", in.Method)))
	defer span.End()

	gw, ok := o.gateways[in.Method]
	if !ok {
		return nil, ErrUnknownGateway
	}

	order, err := o.orders.Get(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if diff := in.Amount - order.Pricing.Total; diff > amountTolerance || diff < -amountTolerance {
		return nil, &AmountMismatchError{OrderID: order.ID, Requested: in.Amount, OrderTotal: order.Pricing.Total}
	}

	p := domain.New(o.idGen.NewID(), order.ID, order.UserID, in.Amount, in.Currency, gw.Name(), in.Method)
	if err := o.payments.Insert(ctx, p); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, o.classifyDuplicate(ctx, order.ID)
		}
		return nil, fmt.Errorf("payment: persist: %w", err)
	}

	result, err := gw.Initiate(ctx, domain.InitiateRequest{
		PaymentID: p.ID,
		OrderID:   order.ID,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Metadata:  map[string]string{"order_number": order.Number},
	})
	if err != nil {
		// The pending row stays: a webhook or manual reconciliation can
		// still resolve whatever the gateway actually did.
		logger.Error("gateway_initiate_failed", zap.String("gateway", gw.Name()), zap.Error(err))
		return nil, &domain.GatewayError{Gateway: gw.Name(), Err: err}
	}

	p.ExternalRef = result.ExternalRef
	p.UpdatedAt = o.now()
	if err := o.payments.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("payment: record external ref: %w", err)
	}

	logger.Info("payment_initiated",
		zap.String("payment_id", p.ID),
		zap.String("gateway", gw.Name()),
		zap.String("external_ref", result.ExternalRef),
	)
	return &Handle{
		PaymentID:    p.ID,
		Status:       p.Status,
		ExternalRef:  result.ExternalRef,
		ClientSecret: result.ClientSecret,
		ApprovalURL:  result.ApprovalURL,
	}, nil
}

// Reconcile applies a signed gateway event to local payment and order
// state. It is idempotent under duplicate delivery: re-delivering an event
// whose terminal status is already recorded is a no-op success.
func (o *Orchestrator) Reconcile(ctx context.Context, gatewayName string, header http.Header, body []byte) error {
	logger := logging.FromContext(ctx).With(
		zap.String("component", "payment_orchestrator"),
		zap.String("gateway", gatewayName),
	)

	gw, ok := o.gateways[gatewayName]
	if !ok {
		return ErrUnknownGateway
	}
	if !gw.VerifySignature(header, body) {
		// Hard reject with no side effects; could be a spoofing attempt.
		logger.Warn("webhook_signature_rejected")
		return ErrBadSignature
	}

	event, err := gw.ParseEvent(body)
	if err != nil {
		return fmt.Errorf("payment: parse event: %w", err)
	}

	p, err := o.payments.GetByExternalRef(ctx, event.ExternalRef)
	if errors.Is(err, domain.ErrNotFound) {
		// A webhook for a payment we do not track. The sender retries on
		// non-2xx, so ignoring is the right move.
		logger.Info("webhook_unknown_reference", zap.String("external_ref", event.ExternalRef))
		return nil
	}
	if err != nil {
		return err
	}

	lock := o.orderLock(p.OrderID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent delivery may have won.
	p, err = o.payments.Get(ctx, p.ID)
	if err != nil {
		return err
	}

	switch event.Status {
	case domain.EventCompleted:
		return o.applyCompleted(ctx, logger, p)
	case domain.EventFailed:
		return o.applyFailed(ctx, logger, p, event.Reason)
	case domain.EventRefunded:
		return o.applyRefundAck(ctx, logger, p, event.ExternalRef)
	default:
		logger.Warn("webhook_unhandled_status", zap.String("status", string(event.Status)))
		return nil
	}
}

// Refund requests a full (amount <= 0) or partial refund. The payment sits
// in refund_pending until the adapter acknowledges; it is never marked
// refunded optimistically.
func (o *Orchestrator) Refund(ctx context.Context, paymentID string, amount int64) (*Handle, error) {
	logger := logging.FromContext(ctx).With(
		zap.String("component", "payment_orchestrator"),
		zap.String("payment_id", paymentID),
	)

	p, err := o.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	lock := o.orderLock(p.OrderID)

	lock.Lock()
	p, err = o.payments.Get(ctx, paymentID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	switch p.Status {
	case domain.StatusCompleted, domain.StatusPartiallyRefunded:
	default:
		lock.Unlock()
		return nil, ErrNotRefundable
	}
	if amount <= 0 {
		amount = p.Amount - p.RefundAmount
	}
	if p.RefundAmount+amount > p.Amount {
		lock.Unlock()
		return nil, ErrRefundExceedsPayment
	}
	p.Status = domain.StatusRefundPending
	p.PendingRefund = amount
	p.UpdatedAt = o.now()
	if err := o.payments.Update(ctx, p); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("payment: claim refund: %w", err)
	}
	lock.Unlock()

	// Gateway call happens outside the lock.
	gw, ok := o.gateways[p.Gateway]
	if !ok {
		return nil, ErrUnknownGateway
	}
	result, gerr := gw.Refund(ctx, p.ExternalRef, amount)
	if gerr != nil || (result.Status != domain.EventRefunded && result.Status != domain.EventCompleted) {
		// Timeout or transient failure: stay in refund_pending and let the
		// gateway's webhook (or manual reconciliation) finish the job.
		logger.Warn("refund_awaiting_gateway", zap.Error(gerr))
		return &Handle{PaymentID: p.ID, Status: domain.StatusRefundPending, ExternalRef: p.ExternalRef}, nil
	}

	lock.Lock()
	defer lock.Unlock()
	p, err = o.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := o.finishRefund(ctx, logger, p, amount, result.RefundRef); err != nil {
		return nil, err
	}
	return &Handle{PaymentID: p.ID, Status: p.Status, ExternalRef: p.ExternalRef}, nil
}

// RefundOrder issues a full compensating refund for the order's captured
// payment; used by order cancellation.
func (o *Orchestrator) RefundOrder(ctx context.Context, orderID string) error {
	payments, err := o.payments.FindByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		switch p.Status {
		case domain.StatusCompleted, domain.StatusPartiallyRefunded:
			_, err := o.Refund(ctx, p.ID, 0)
			return err
		}
	}
	return nil
}

func (o *Orchestrator) applyCompleted(ctx context.Context, logger *zap.Logger, p *domain.Payment) error {
	if p.Status == domain.StatusCompleted {
		logger.Info("webhook_duplicate_ignored", zap.String("payment_id", p.ID))
		return nil
	}
	if p.Status != domain.StatusPending {
		logger.Warn("webhook_out_of_order", zap.String("payment_id", p.ID), zap.String("status", string(p.Status)))
		return nil
	}

	now := o.now()
	p.MarkCompleted(now)
	if err := o.payments.Update(ctx, p); err != nil {
		return fmt.Errorf("payment: persist capture: %w", err)
	}

	if err := o.transitionOrder(ctx, p, domorder.StatusPaid, "payment captured"); err != nil {
		logger.Error("order_transition_failed", zap.String("order_id", p.OrderID), zap.Error(err))
	}

	o.publish(ctx, logger, domain.CapturedEvent{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		UserID:      p.UserID,
		Amount:      p.Amount,
		Gateway:     p.Gateway,
		ExternalRef: p.ExternalRef,
		OccurredAt:  now,
	})
	logger.Info("payment_captured", zap.String("payment_id", p.ID))
	return nil
}

func (o *Orchestrator) applyFailed(ctx context.Context, logger *zap.Logger, p *domain.Payment, reason string) error {
	if p.Status == domain.StatusFailed {
		logger.Info("webhook_duplicate_ignored", zap.String("payment_id", p.ID))
		return nil
	}
	if p.Status != domain.StatusPending {
		logger.Warn("webhook_out_of_order", zap.String("payment_id", p.ID), zap.String("status", string(p.Status)))
		return nil
	}

	now := o.now()
	p.MarkFailed(now)
	if err := o.payments.Update(ctx, p); err != nil {
		return fmt.Errorf("payment: persist failure: %w", err)
	}

	if err := o.transitionOrder(ctx, p, domorder.StatusPaymentFailed, reason); err != nil {
		logger.Error("order_transition_failed", zap.String("order_id", p.OrderID), zap.Error(err))
	}

	// A failed payment does not automatically restock; stock stays
	// committed until an explicit cancellation, unless configured.
	if o.restockOnFailure && o.stock != nil {
		if order, err := o.orders.Get(ctx, p.OrderID); err == nil {
			for _, resID := range order.ReservationIDs {
				if rerr := o.stock.Restock(ctx, resID); rerr != nil {
					logger.Warn("restock_on_failure_failed", zap.String("reservation_id", resID), zap.Error(rerr))
				}
			}
		}
	}

	o.publish(ctx, logger, domain.FailedEvent{
		PaymentID:  p.ID,
		OrderID:    p.OrderID,
		UserID:     p.UserID,
		Gateway:    p.Gateway,
		Reason:     reason,
		OccurredAt: now,
	})
	logger.Info("payment_failed", zap.String("payment_id", p.ID), zap.String("reason", reason))
	return nil
}

func (o *Orchestrator) applyRefundAck(ctx context.Context, logger *zap.Logger, p *domain.Payment, refundRef string) error {
	switch p.Status {
	case domain.StatusRefunded:
		logger.Info("webhook_duplicate_ignored", zap.String("payment_id", p.ID))
		return nil
	case domain.StatusRefundPending:
	default:
		logger.Warn("webhook_out_of_order", zap.String("payment_id", p.ID), zap.String("status", string(p.Status)))
		return nil
	}
	amount := p.PendingRefund
	if amount <= 0 {
		amount = p.Amount - p.RefundAmount
	}
	return o.finishRefund(ctx, logger, p, amount, refundRef)
}

func (o *Orchestrator) finishRefund(ctx context.Context, logger *zap.Logger, p *domain.Payment, amount int64, refundRef string) error {
	now := o.now()
	p.ApplyRefund(amount, refundRef, now)
	if err := o.payments.Update(ctx, p); err != nil {
		return fmt.Errorf("payment: persist refund: %w", err)
	}

	if p.Status == domain.StatusRefunded {
		if err := o.transitionOrder(ctx, p, domorder.StatusRefunded, "payment refunded"); err != nil {
			logger.Warn("order_transition_skipped", zap.String("order_id", p.OrderID), zap.Error(err))
		}
	}

	o.publish(ctx, logger, domain.RefundedEvent{
		PaymentID:    p.ID,
		OrderID:      p.OrderID,
		UserID:       p.UserID,
		RefundAmount: amount,
		Partial:      p.Status == domain.StatusPartiallyRefunded,
		OccurredAt:   now,
	})
	logger.Info("payment_refunded",
		zap.String("payment_id", p.ID),
		zap.Int64("amount", amount),
		zap.String("status", string(p.Status)),
	)
	return nil
}

// transitionOrder applies the payment-driven order transition and mirrors
// the payment state onto the order for reads.
func (o *Orchestrator) transitionOrder(ctx context.Context, p *domain.Payment, to domorder.Status, note string) error {
	order, err := o.orders.Get(ctx, p.OrderID)
	if err != nil {
		return err
	}
	order.Payment = domorder.PaymentInfo{
		Method:        p.Method,
		Status:        string(p.Status),
		TransactionID: p.ExternalRef,
	}
	if domorder.CanTransition(order.Status, to) {
		if err := order.Transition(to, note, "gateway"); err != nil {
			return err
		}
	}
	return o.orders.Update(ctx, order)
}

func (o *Orchestrator) classifyDuplicate(ctx context.Context, orderID string) error {
	existing, err := o.payments.FindByOrder(ctx, orderID)
	if err == nil {
		for _, p := range existing {
			switch p.Status {
			case domain.StatusCompleted, domain.StatusRefundPending, domain.StatusPartiallyRefunded:
				return ErrAlreadyPaid
			}
		}
	}
	return ErrPaymentInProgress
}

func (o *Orchestrator) orderLock(orderID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[orderID] = lock
	}
	return lock
}

func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, e domoutbox.Event) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, e); err != nil {
		logger.Warn("event_publish_failed", zap.String("event", e.EventName()), zap.Error(err))
	}
}

// Get returns the payment record; used by the read API.
func (o *Orchestrator) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return o.payments.Get(ctx, paymentID)
}

// SetClock overrides the time source for tests.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }
