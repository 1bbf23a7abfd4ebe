package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	appinventory "github.com/cartloom/fulfillment/internal/application/inventory"
	dominv "github.com/cartloom/fulfillment/internal/domain/inventory"
	domain "github.com/cartloom/fulfillment/internal/domain/order"
	domoutbox "github.com/cartloom/fulfillment/internal/domain/outbox"
	"github.com/cartloom/fulfillment/internal/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const actorSystem = "system"

// Coordinator is the order transaction coordinator: it validates the cart,
// reserves stock, persists the order aggregate, confirms the reservations
// and clears the cart. Any failure after a mutating step is compensated
// explicitly (release or restock) so no partial reservation survives a
// failed attempt.
type Coordinator struct {
	orders    domain.Repository
	carts     CartService
	catalog   ProductCatalog
	stock     *appinventory.Manager
	idem      IdempotencyStore
	idGen     IDGenerator
	numberFor func(time.Time) string
	publisher domoutbox.Publisher
	refunder  Refunder
}

func NewCoordinator(
	orders domain.Repository,
	carts CartService,
	catalog ProductCatalog,
	stock *appinventory.Manager,
	idem IdempotencyStore,
	idGen IDGenerator,
	numberFor func(time.Time) string,
	publisher domoutbox.Publisher,
	refunder Refunder,
) *Coordinator {
	return &Coordinator{
		orders:    orders,
		carts:     carts,
		catalog:   catalog,
		stock:     stock,
		idem:      idem,
		idGen:     idGen,
		numberFor: numberFor,
		publisher: publisher,
		refunder:  refunder,
	}
}

type CheckoutInput struct {
	IdempotencyKey  string
	PaymentMethod   string
	ShippingAddress domain.Address
}

// CreateOrder turns the user's cart into a pending order.
func (c *Coordinator) CreateOrder(ctx context.Context, userID string, in CheckoutInput) (*domain.Order, error) {
	logger := logging.FromContext(ctx).With(
		zap.String("component", "checkout_coordinator"),
		zap.String("user_id", userID),
	)
	ctx, span := otel.Tracer("fulfillment.checkout").Start(ctx, "CreateOrder",
		trace.WithAttributes(attribute.String("order.user_id", userID)))
	defer span.End()

	if userID == "" {
		return nil, fmt.Errorf("checkout: user id is required")
	}

	if in.IdempotencyKey != "" {
		if existing, err := c.replay(ctx, userID, in.IdempotencyKey); err == nil && existing != nil {
			logger.Info("checkout_idempotent_replay", zap.String("order_id", existing.ID))
			return existing, nil
		}
	}

	cart, err := c.carts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("checkout: load cart: %w", err)
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}

	// Re-read every product; the cart snapshot may be stale.
	items, err := c.snapshotItems(ctx, cart)
	if err != nil {
		return nil, err
	}
	pricing := domain.ComputePricing(items, cart.Discount)

	orderID := c.idGen.NewID()

	// Reserve stock for every line. The reserve itself is the
	// authoritative availability check; a failure here releases all
	// reservations already taken for this attempt.
	reservationIDs := make([]string, 0, len(items))
	for _, it := range items {
		res, rerr := c.stock.Reserve(ctx, it.ProductID, it.Quantity, orderID)
		if rerr != nil {
			c.releaseAll(ctx, logger, reservationIDs)
			return nil, rerr
		}
		reservationIDs = append(reservationIDs, res.ID)
	}

	entity, err := domain.New(orderID, c.numberFor(time.Now()), userID, items, pricing, in.ShippingAddress)
	if err != nil {
		c.releaseAll(ctx, logger, reservationIDs)
		return nil, err
	}
	entity.IdempotencyKey = in.IdempotencyKey
	entity.ReservationIDs = reservationIDs
	entity.Payment = domain.PaymentInfo{Method: in.PaymentMethod}

	// Confirm the reservations (physical deduction), then persist the
	// order. If persistence fails after confirmation the deduction is
	// compensated by restocking.
	confirmed := make([]string, 0, len(reservationIDs))
	for _, resID := range reservationIDs {
		if cerr := c.stock.Confirm(ctx, resID); cerr != nil {
			c.restockAll(ctx, logger, confirmed)
			c.releaseAll(ctx, logger, reservationIDs[len(confirmed):])
			return nil, fmt.Errorf("checkout: confirm reservation: %w", cerr)
		}
		confirmed = append(confirmed, resID)
	}

	if err := c.orders.Insert(ctx, entity); err != nil {
		c.restockAll(ctx, logger, confirmed)
		return nil, fmt.Errorf("checkout: persist order: %w", err)
	}

	if err := c.carts.Clear(ctx, userID); err != nil {
		// The order is committed; a stale cart is recoverable, losing the
		// order is not.
		logger.Warn("cart_clear_failed", zap.String("order_id", entity.ID), zap.Error(err))
	}

	if in.IdempotencyKey != "" && c.idem != nil {
		if err := c.idem.Put(ctx, idemKey(userID, in.IdempotencyKey), entity.ID); err != nil {
			logger.Warn("idempotency_record_failed", zap.String("order_id", entity.ID), zap.Error(err))
		}
	}

	c.publish(ctx, logger, domain.NewCreatedEvent(entity))

	logger.Info("order_created",
		zap.String("order_id", entity.ID),
		zap.String("order_number", entity.Number),
		zap.Int64("total", entity.Pricing.Total),
	)
	return entity, nil
}

// CancelOrder cancels the order, releases its stock and, when a completed
// payment exists, requests a compensating refund.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID, reason, actor string) (*domain.Order, error) {
	logger := logging.FromContext(ctx).With(
		zap.String("component", "checkout_coordinator"),
		zap.String("order_id", orderID),
	)

	entity, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !entity.CanCancel() {
		return nil, domain.ErrNotCancellable
	}
	from := entity.Status
	if actor == "" {
		actor = actorSystem
	}
	if err := entity.Transition(domain.StatusCancelled, reason, actor); err != nil {
		return nil, err
	}

	// Confirmed reservations restock, active ones release.
	c.restockAll(ctx, logger, entity.ReservationIDs)

	if err := c.orders.Update(ctx, entity); err != nil {
		return nil, fmt.Errorf("checkout: persist cancellation: %w", err)
	}

	if entity.Payment.Status == "completed" && c.refunder != nil {
		if err := c.refunder.RefundOrder(ctx, entity.ID); err != nil {
			// Leave the refund for a retry or manual reconciliation; the
			// cancellation itself stands.
			logger.Warn("compensating_refund_failed", zap.Error(err))
		}
	}

	c.publish(ctx, logger, domain.NewStatusChangedEvent(entity, from, reason))
	logger.Info("order_cancelled", zap.String("reason", reason))
	return entity, nil
}

// UpdateStatus drives fulfillment transitions (paid orders moving through
// processing, shipped, delivered, completed). Cancellation must go through
// CancelOrder so stock and payment compensation run.
func (c *Coordinator) UpdateStatus(ctx context.Context, orderID string, to domain.Status, note, actor string) (*domain.Order, error) {
	if to == domain.StatusCancelled {
		return nil, domain.ErrNotCancellable
	}
	if !to.Valid() {
		return nil, &domain.InvalidTransitionError{To: to}
	}

	entity, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := entity.Status
	if actor == "" {
		actor = actorSystem
	}
	if err := entity.Transition(to, note, actor); err != nil {
		return nil, err
	}
	if err := c.orders.Update(ctx, entity); err != nil {
		return nil, fmt.Errorf("checkout: persist status: %w", err)
	}

	logger := logging.FromContext(ctx).With(zap.String("component", "checkout_coordinator"))
	c.publish(ctx, logger, domain.NewStatusChangedEvent(entity, from, note))
	return entity, nil
}

func (c *Coordinator) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, domain.ErrNotFound
	}
	return c.orders.Get(ctx, orderID)
}

func (c *Coordinator) snapshotItems(ctx context.Context, cart *Cart) ([]domain.LineItem, error) {
	items := make([]domain.LineItem, 0, len(cart.Items))
	for _, ci := range cart.Items {
		if ci.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		product, err := c.catalog.Get(ctx, ci.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, ci.ProductID)
		}
		if !product.Active {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, ci.ProductID)
		}
		final := product.FinalPrice()
		items = append(items, domain.LineItem{
			ProductID:  product.ID,
			Name:       product.Name,
			Quantity:   ci.Quantity,
			UnitPrice:  product.Price,
			Discount:   product.Price - final,
			FinalPrice: final,
			Subtotal:   final * int64(ci.Quantity),
		})
	}
	return items, nil
}

func (c *Coordinator) replay(ctx context.Context, userID, key string) (*domain.Order, error) {
	if c.idem == nil {
		return nil, nil
	}
	orderID, err := c.idem.Get(ctx, idemKey(userID, key))
	if err != nil || orderID == "" {
		return nil, err
	}
	existing, err := c.orders.Get(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return existing, err
}

func (c *Coordinator) releaseAll(ctx context.Context, logger *zap.Logger, reservationIDs []string) {
	for _, id := range reservationIDs {
		if err := c.stock.Release(ctx, id); err != nil && !errors.Is(err, dominv.ErrReservationNotFound) {
			logger.Error("reservation_release_failed", zap.String("reservation_id", id), zap.Error(err))
		}
	}
}

func (c *Coordinator) restockAll(ctx context.Context, logger *zap.Logger, reservationIDs []string) {
	for _, id := range reservationIDs {
		if err := c.stock.Restock(ctx, id); err != nil && !errors.Is(err, dominv.ErrReservationNotFound) {
			logger.Error("reservation_restock_failed", zap.String("reservation_id", id), zap.Error(err))
		}
	}
}

func (c *Coordinator) publish(ctx context.Context, logger *zap.Logger, e domoutbox.Event) {
	if c.publisher == nil {
		return
	}
	// Fire and forget: notification failures never fail the order.
	if err := c.publisher.Publish(ctx, e); err != nil {
		logger.Warn("event_publish_failed", zap.String("event", e.EventName()), zap.Error(err))
	}
}

func idemKey(userID, key string) string {
	return "checkout:" + userID + ":" + key
}
