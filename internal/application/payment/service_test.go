package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	appinventory "github.com/cartloom/fulfillment/internal/application/inventory"
	dominv "github.com/cartloom/fulfillment/internal/domain/inventory"
	domorder "github.com/cartloom/fulfillment/internal/domain/order"
	domain "github.com/cartloom/fulfillment/internal/domain/payment"
	"github.com/cartloom/fulfillment/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDGen struct{ n atomic.Int64 }

func (g *seqIDGen) NewID() string {
	return fmt.Sprintf("pay-%d", g.n.Add(1))
}

// fakeGateway verifies signatures by comparing the X-Sig header against
// its secret and parses events from plain JSON.
type fakeGateway struct {
	name string

	initiateErr  error
	refundErr    error
	refundStatus domain.EventStatus

	initiated atomic.Int64
	refunded  atomic.Int64
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) Initiate(_ context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	g.initiated.Add(1)
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &domain.InitiateResult{
		ExternalRef:  "ext-" + req.PaymentID,
		ClientSecret: "secret-" + req.PaymentID,
	}, nil
}

func (g *fakeGateway) Refund(_ context.Context, externalRef string, _ int64) (*domain.RefundResult, error) {
	g.refunded.Add(1)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	status := g.refundStatus
	if status == "" {
		status = domain.EventRefunded
	}
	return &domain.RefundResult{RefundRef: "rf-" + externalRef, Status: status}, nil
}

func (g *fakeGateway) VerifySignature(header http.Header, _ []byte) bool {
	return header.Get("X-Sig") == "valid-"+g.name
}

func (g *fakeGateway) ParseEvent(body []byte) (*domain.Event, error) {
	var e domain.Event
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

type payFixture struct {
	orchestrator *Orchestrator
	payments     *memory.PaymentRepository
	orders       *memory.OrderRepository
	gw           *fakeGateway
	stock        *appinventory.Manager
	order        *domorder.Order
}

func newPayFixture(t *testing.T, restockOnFailure bool) *payFixture {
	t.Helper()

	payments := memory.NewPaymentRepository()
	orders := memory.NewOrderRepository()
	gw := &fakeGateway{name: "card"}

	stockRepo := memory.NewStockRepository()
	stock, err := dominv.NewStock("p-1", 10)
	require.NoError(t, err)
	stockRepo.Seed(stock)
	manager := appinventory.NewManager(stockRepo, &seqIDGen{}, 15*time.Minute)

	ctx := context.Background()
	res, err := manager.Reserve(ctx, "p-1", 2, "ord-1")
	require.NoError(t, err)
	require.NoError(t, manager.Confirm(ctx, res.ID))

	items := []domorder.LineItem{{ProductID: "p-1", Name: "Widget", Quantity: 2, UnitPrice: 1000, FinalPrice: 1000, Subtotal: 2000}}
	o, err := domorder.New("ord-1", "ORD-1", "user-1", items, domorder.ComputePricing(items, 0), domorder.Address{})
	require.NoError(t, err)
	o.ReservationIDs = []string{res.ID}
	require.NoError(t, orders.Insert(ctx, o))

	orchestrator := NewOrchestrator(payments, orders, []domain.Gateway{gw}, &seqIDGen{}, nil, manager, restockOnFailure)
	return &payFixture{
		orchestrator: orchestrator,
		payments:     payments,
		orders:       orders,
		gw:           gw,
		stock:        manager,
		order:        o,
	}
}

func (f *payFixture) total() int64 { return f.order.Pricing.Total }

func eventBody(t *testing.T, externalRef string, status domain.EventStatus, reason string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.Event{ExternalRef: externalRef, Status: status, Reason: reason})
	require.NoError(t, err)
	return body
}

func signedHeader(name string) http.Header {
	h := http.Header{}
	h.Set("X-Sig", "valid-"+name)
	return h
}

func TestInitiatePayment(t *testing.T) {
	f := newPayFixture(t, false)

	handle, err := f.orchestrator.Initiate(context.Background(), InitiateInput{
		OrderID: "ord-1", Method: "card", Amount: f.total(), Currency: "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, handle.Status)
	assert.NotEmpty(t, handle.ExternalRef)
	assert.NotEmpty(t, handle.ClientSecret)

	p, err := f.orchestrator.Get(context.Background(), handle.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, handle.ExternalRef, p.ExternalRef)
	assert.Equal(t, "card", p.Gateway)
}

func TestInitiateToleratesOneCent(t *testing.T) {
	f := newPayFixture(t, false)

	_, err := f.orchestrator.Initiate(context.Background(), InitiateInput{
		OrderID: "ord-1", Method: "card", Amount: f.total() + 1, Currency: "USD",
	})
	assert.NoError(t, err)
}

func TestInitiateAmountMismatch(t *testing.T) {
	f := newPayFixture(t, false)

	_, err := f.orchestrator.Initiate(context.Background(), InitiateInput{
		OrderID: "ord-1", Method: "card", Amount: f.total() + 2, Currency: "USD",
	})

	var mismatch *AmountMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, f.total(), mismatch.OrderTotal)
	assert.Equal(t, f.total()+2, mismatch.Requested)
	assert.Zero(t, f.gw.initiated.Load(), "gateway must not be called on mismatch")
}

func TestInitiateUnknownMethod(t *testing.T) {
	f := newPayFixture(t, false)
	_, err := f.orchestrator.Initiate(context.Background(), InitiateInput{
		OrderID: "ord-1", Method: "crypto", Amount: f.total(),
	})
	assert.ErrorIs(t, err, ErrUnknownGateway)
}

func TestSecondInitiateIsRejected(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()

	handle, err := f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	require.NoError(t, err)

	_, err = f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	assert.ErrorIs(t, err, ErrPaymentInProgress)

	// after capture the classification flips to already-paid
	require.NoError(t, f.orchestrator.Reconcile(ctx, "card", signedHeader("card"),
		eventBody(t, handle.ExternalRef, domain.EventCompleted, "")))
	_, err = f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestConcurrentInitiateSingleWinner(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()

	const workers = 8
	var okCount, conflictCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
			switch {
			case err == nil:
				okCount.Add(1)
			case errors.Is(err, ErrPaymentInProgress):
				conflictCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), okCount.Load())
	assert.Equal(t, int64(workers-1), conflictCount.Load())
}

func TestInitiateGatewayFailureKeepsPendingRow(t *testing.T) {
	f := newPayFixture(t, false)
	f.gw.initiateErr = errors.New("connection reset")
	ctx := context.Background()

	_, err := f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})

	var gerr *domain.GatewayError
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "card", gerr.Gateway)

	// the pending row still claims the order for later reconciliation
	f.gw.initiateErr = nil
	_, err = f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	assert.ErrorIs(t, err, ErrPaymentInProgress)
}

func TestReconcileCompletedMarksOrderPaid(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()

	handle, err := f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.Reconcile(ctx, "card", signedHeader("card"),
		eventBody(t, handle.ExternalRef, domain.EventCompleted, "")))

	p, err := f.orchestrator.Get(ctx, handle.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, p.Status)
	require.NotNil(t, p.CapturedAt)

	o, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPaid, o.Status)
	assert.Equal(t, "completed", o.Payment.Status)
	assert.Equal(t, handle.ExternalRef, o.Payment.TransactionID)
}

func TestReconcileDuplicateDeliveryIsNoOp(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()

	handle, err := f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	require.NoError(t, err)
	body := eventBody(t, handle.ExternalRef, domain.EventCompleted, "")

	require.NoError(t, f.orchestrator.Reconcile(ctx, "card", signedHeader("card"), body))
	captured, err := f.orchestrator.Get(ctx, handle.PaymentID)
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.Reconcile(ctx, "card", signedHeader("card"), body))

	again, err := f.orchestrator.Get(ctx, handle.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, captured.CapturedAt, again.CapturedAt)

	o, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	paidEntries := 0
	for _, h := range o.History {
		if h.Status == domorder.StatusPaid {
			paidEntries++
		}
	}
	assert.Equal(t, 1, paidEntries, "order must be marked paid exactly once")
}

func TestReconcileConcurrentDuplicates(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()

	handle, err := f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	require.NoError(t, err)
	body := eventBody(t, handle.ExternalRef, domain.EventCompleted, "")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.orchestrator.Reconcile(ctx, "card", signedHeader("card"), body); err != nil {
				t.Errorf("reconcile: %v", err)
			}
		}()
	}
	wg.Wait()

	o, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	paidEntries := 0
	for _, h := range o.History {
		if h.Status == domorder.StatusPaid {
			paidEntries++
		}
	}
	assert.Equal(t, 1, paidEntries)
}

func TestReconcileBadSignature(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()

	handle, err := f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	require.NoError(t, err)

	h := http.Header{}
	h.Set("X-Sig", "forged")
	err = f.orchestrator.Reconcile(ctx, "card", h, eventBody(t, handle.ExternalRef, domain.EventCompleted, ""))
	assert.ErrorIs(t, err, ErrBadSignature)

	p, err := f.orchestrator.Get(ctx, handle.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, p.Status, "rejected webhook must not mutate state")
}

func TestReconcileUnknownReference(t *testing.T) {
	f := newPayFixture(t, false)
	err := f.orchestrator.Reconcile(context.Background(), "card", signedHeader("card"),
		eventBody(t, "ext-stranger", domain.EventCompleted, ""))
	assert.NoError(t, err, "unknown reference is acknowledged, not retried")
}

func TestReconcileFailedEvent(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()

	handle, err := f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.Reconcile(ctx, "card", signedHeader("card"),
		eventBody(t, handle.ExternalRef, domain.EventFailed, "card declined")))

	p, err := f.orchestrator.Get(ctx, handle.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, p.Status)

	o, err := f.orders.Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPaymentFailed, o.Status)

	// stock stays committed unless restock-on-failure is enabled
	avail, err := f.stock.Available(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 8, avail)
}

func TestReconcileFailedEventRestocksWhenEnabled(t *testing.T) {
	f := newPayFixture(t, true)
	ctx := context.Background()

	handle, err := f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.Reconcile(ctx, "card", signedHeader("card"),
		eventBody(t, handle.ExternalRef, domain.EventFailed, "card declined")))

	avail, err := f.stock.Available(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 10, avail)
}

func capture(t *testing.T, f *payFixture) *Handle {
	t.Helper()
	ctx := context.Background()
	handle, err := f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	require.NoError(t, err)
	require.NoError(t, f.orchestrator.Reconcile(ctx, "card", signedHeader("card"),
		eventBody(t, handle.ExternalRef, domain.EventCompleted, "")))
	return handle
}

func TestRefundFull(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()
	handle := capture(t, f)

	out, err := f.orchestrator.Refund(ctx, handle.PaymentID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, out.Status)

	p, err := f.orchestrator.Get(ctx, handle.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, f.total(), p.RefundAmount)
	assert.Zero(t, p.PendingRefund)
	require.NotNil(t, p.RefundedAt)
}

func TestRefundPartialThenRemainder(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()
	handle := capture(t, f)

	out, err := f.orchestrator.Refund(ctx, handle.PaymentID, 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyRefunded, out.Status)

	out, err = f.orchestrator.Refund(ctx, handle.PaymentID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, out.Status)

	p, err := f.orchestrator.Get(ctx, handle.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, f.total(), p.RefundAmount)
}

func TestRefundBounds(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()
	handle := capture(t, f)

	_, err := f.orchestrator.Refund(ctx, handle.PaymentID, f.total()+1)
	assert.ErrorIs(t, err, ErrRefundExceedsPayment)
}

func TestRefundPendingPaymentIsRejected(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()

	handle, err := f.orchestrator.Initiate(ctx, InitiateInput{OrderID: "ord-1", Method: "card", Amount: f.total()})
	require.NoError(t, err)

	_, err = f.orchestrator.Refund(ctx, handle.PaymentID, 0)
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestRefundGatewayTimeoutStaysPending(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()
	handle := capture(t, f)

	f.gw.refundErr = errors.New("gateway timeout")
	out, err := f.orchestrator.Refund(ctx, handle.PaymentID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefundPending, out.Status)

	p, err := f.orchestrator.Get(ctx, handle.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefundPending, p.Status, "never optimistically refunded")
	assert.Equal(t, f.total(), p.PendingRefund)

	// the gateway's webhook eventually acknowledges the refund
	require.NoError(t, f.orchestrator.Reconcile(ctx, "card", signedHeader("card"),
		eventBody(t, handle.ExternalRef, domain.EventRefunded, "")))

	p, err = f.orchestrator.Get(ctx, handle.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, p.Status)
	assert.Equal(t, f.total(), p.RefundAmount)
}

func TestRefundOrder(t *testing.T) {
	f := newPayFixture(t, false)
	ctx := context.Background()
	handle := capture(t, f)

	require.NoError(t, f.orchestrator.RefundOrder(ctx, "ord-1"))

	p, err := f.orchestrator.Get(ctx, handle.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, p.Status)

	// nothing left to refund
	require.NoError(t, f.orchestrator.RefundOrder(ctx, "ord-1"))
}
