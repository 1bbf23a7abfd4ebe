package httppresentation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	appcheckout "github.com/cartloom/fulfillment/internal/application/checkout"
	apppayment "github.com/cartloom/fulfillment/internal/application/payment"
	dominv "github.com/cartloom/fulfillment/internal/domain/inventory"
	domorder "github.com/cartloom/fulfillment/internal/domain/order"
	dompay "github.com/cartloom/fulfillment/internal/domain/payment"
	"github.com/cartloom/fulfillment/internal/pkg/logging"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerUserID         = "X-User-ID"

	maxBodyBytes = 1 << 20
)

type Handler struct {
	checkout *appcheckout.Coordinator
	payments *apppayment.Orchestrator
	log      *zap.Logger
	metrics  *Metrics
}

func NewHandler(checkout *appcheckout.Coordinator, payments *apppayment.Orchestrator, logger *zap.Logger, metrics *Metrics) *Handler {
	if logger == nil {
		logger = zap.L()
	}
	return &Handler{
		checkout: checkout,
		payments: payments,
		log:      logger.With(zap.String("component", "http_server")),
		metrics:  metrics,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(withTrace)
	r.Use(withRequestLogger(h.log))
	r.Use(withMetrics(h.metrics))
	r.Use(withAccessLog)

	r.Post("/orders", h.handleCreateOrder)
	r.Get("/orders/{id}", h.handleGetOrder)
	r.Post("/orders/{id}/cancel", h.handleCancelOrder)
	r.Post("/orders/{id}/status", h.handleUpdateStatus)
	r.Post("/payments", h.handleInitiatePayment)
	r.Post("/payments/{id}/refund", h.handleRefund)
	r.Post("/payments/webhooks/{gateway}", h.handleWebhook)
	r.Get("/health", h.handleHealth)

	return r
}

type addressPayload struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type createOrderRequest struct {
	PaymentMethod   string         `json:"payment_method"`
	ShippingAddress addressPayload `json:"shipping_address"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing "+headerUserID+" header"))
		return
	}

	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.checkout.CreateOrder(r.Context(), userID, appcheckout.CheckoutInput{
		IdempotencyKey: r.Header.Get(headerIdempotencyKey),
		PaymentMethod:  req.PaymentMethod,
		ShippingAddress: domorder.Address{
			Name:       req.ShippingAddress.Name,
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderPayload(created))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	found, err := h.checkout.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderPayload(found))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cancelled, err := h.checkout.CancelOrder(r.Context(), chi.URLParam(r, "id"), req.Reason, r.Header.Get(headerUserID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderPayload(cancelled))
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := h.checkout.UpdateStatus(r.Context(), chi.URLParam(r, "id"),
		domorder.Status(req.Status), req.Note, r.Header.Get(headerUserID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderPayload(updated))
}

type initiatePaymentRequest struct {
	OrderID  string `json:"order_id"`
	Method   string `json:"method"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type paymentHandleResponse struct {
	PaymentID    string `json:"payment_id"`
	Status       string `json:"status"`
	ExternalRef  string `json:"external_ref,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	ApprovalURL  string `json:"approval_url,omitempty"`
}

func (h *Handler) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	handle, err := h.payments.Initiate(r.Context(), apppayment.InitiateInput{
		OrderID:  req.OrderID,
		Method:   req.Method,
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentHandleResponse{
		PaymentID:    handle.PaymentID,
		Status:       string(handle.Status),
		ExternalRef:  handle.ExternalRef,
		ClientSecret: handle.ClientSecret,
		ApprovalURL:  handle.ApprovalURL,
	})
}

type refundRequest struct {
	Amount int64  `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	handle, err := h.payments.Refund(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentHandleResponse{
		PaymentID:   handle.PaymentID,
		Status:      string(handle.Status),
		ExternalRef: handle.ExternalRef,
	})
}

// handleWebhook acknowledges with 200 once the signature is verified,
// regardless of reconciliation outcome: the sender redelivers on non-2xx
// and reconciliation is idempotent, so acknowledging a failed apply is
// safer than a retry storm. Only a bad signature gets a 400.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = h.payments.Reconcile(r.Context(), gatewayName, r.Header, body)
	switch {
	case err == nil:
	case errors.Is(err, apppayment.ErrBadSignature):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, apppayment.ErrUnknownGateway):
		writeError(w, http.StatusNotFound, err)
		return
	default:
		logging.FromContext(r.Context()).Error("webhook_reconcile_failed",
			zap.String("gateway", gatewayName),
			zap.Error(err),
		)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type orderResponse struct {
	OrderID   string                `json:"order_id"`
	Number    string                `json:"order_number"`
	UserID    string                `json:"user_id"`
	Status    string                `json:"status"`
	Items     []orderItemPayload    `json:"items"`
	Pricing   domorder.Pricing      `json:"pricing"`
	Payment   domorder.PaymentInfo  `json:"payment"`
	History   []orderHistoryPayload `json:"status_history"`
	CreatedAt time.Time             `json:"created_at"`
}

type orderItemPayload struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	FinalPrice int64  `json:"final_price"`
	Subtotal   int64  `json:"subtotal"`
}

type orderHistoryPayload struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
	Actor  string    `json:"actor,omitempty"`
}

func orderPayload(o *domorder.Order) orderResponse {
	items := make([]orderItemPayload, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemPayload{
			ProductID:  it.ProductID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			FinalPrice: it.FinalPrice,
			Subtotal:   it.Subtotal,
		})
	}
	history := make([]orderHistoryPayload, 0, len(o.History))
	for _, hc := range o.History {
		history = append(history, orderHistoryPayload{
			Status: string(hc.Status),
			At:     hc.At,
			Note:   hc.Note,
			Actor:  hc.Actor,
		})
	}
	return orderResponse{
		OrderID:   o.ID,
		Number:    o.Number,
		UserID:    o.UserID,
		Status:    string(o.Status),
		Items:     items,
		Pricing:   o.Pricing,
		Payment:   o.Payment,
		History:   history,
		CreatedAt: o.CreatedAt,
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var insufficientStock *dominv.InsufficientStockError
	var invalidTransition *domorder.InvalidTransitionError
	var amountMismatch *apppayment.AmountMismatchError
	var gatewayErr *dompay.GatewayError

	switch {
	case errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, dominv.ErrNotFound),
		errors.Is(err, dominv.ErrReservationNotFound),
		errors.Is(err, dompay.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, apppayment.ErrAlreadyPaid),
		errors.Is(err, apppayment.ErrPaymentInProgress),
		errors.Is(err, domorder.ErrConflict),
		errors.Is(err, dompay.ErrDuplicate):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &insufficientStock),
		errors.As(err, &invalidTransition),
		errors.As(err, &amountMismatch),
		errors.Is(err, domorder.ErrEmptyCart),
		errors.Is(err, domorder.ErrInvalidQuantity),
		errors.Is(err, domorder.ErrInvalidAmount),
		errors.Is(err, domorder.ErrNotCancellable),
		errors.Is(err, dominv.ErrInvalidQuantity),
		errors.Is(err, dominv.ErrReservationExpired),
		errors.Is(err, dominv.ErrReservationClosed),
		errors.Is(err, appcheckout.ErrProductUnavailable),
		errors.Is(err, appcheckout.ErrProductNotFound),
		errors.Is(err, apppayment.ErrNotRefundable),
		errors.Is(err, apppayment.ErrRefundExceedsPayment),
		errors.Is(err, apppayment.ErrUnknownGateway):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &gatewayErr):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
