package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	domain "github.com/cartloom/fulfillment/internal/domain/payment"
	"github.com/go-resty/resty/v2"
)

const (
	WalletName            = "wallet"
	walletSignatureHeader = "X-Wallet-Signature"
)

// Wallet talks to the wallet processor. Initiation returns an approval URL
// the customer is redirected to; capture is reported on the webhook after
// the customer approves.
type Wallet struct {
	client *resty.Client
	secret string
}

func NewWallet(baseURL, clientID, clientSecret, webhookSecret string) *Wallet {
	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(clientID, clientSecret).
		SetTimeout(requestTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWaitBase).
		SetRetryMaxWaitTime(retryWaitMax)
	return &Wallet{client: client, secret: webhookSecret}
}

func (w *Wallet) Name() string { return WalletName }

type walletOrderResponse struct {
	OrderID string `json:"id"`
	Links   []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

func (w *Wallet) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	var out walletOrderResponse
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"amount":    req.Amount,
			"currency":  req.Currency,
			"reference": req.PaymentID,
		}).
		SetResult(&out).
		Post("/v2/checkout/orders")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wallet: create order: status %d", resp.StatusCode())
	}

	result := &domain.InitiateResult{ExternalRef: out.OrderID}
	for _, link := range out.Links {
		if link.Rel == "approve" {
			result.ApprovalURL = link.Href
			break
		}
	}
	return result, nil
}

type walletRefundResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

func (w *Wallet) Refund(ctx context.Context, externalRef string, amount int64) (*domain.RefundResult, error) {
	var out walletRefundResponse
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"amount": amount}).
		SetResult(&out).
		Post("/v2/payments/" + externalRef + "/refund")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wallet: refund: status %d", resp.StatusCode())
	}
	status := domain.EventStatus(out.Status)
	if out.Status == "completed" {
		status = domain.EventRefunded
	}
	return &domain.RefundResult{RefundRef: out.RefundID, Status: status}, nil
}

func (w *Wallet) VerifySignature(header http.Header, body []byte) bool {
	return verify(w.secret, header.Get(walletSignatureHeader), body)
}

type walletEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		OrderID string `json:"order_id"`
		Reason  string `json:"reason"`
	} `json:"resource"`
}

func (w *Wallet) ParseEvent(body []byte) (*domain.Event, error) {
	var ev walletEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("wallet: decode event: %w", err)
	}
	if ev.Resource.OrderID == "" {
		return nil, fmt.Errorf("wallet: event missing order id")
	}

	out := &domain.Event{ExternalRef: ev.Resource.OrderID, Reason: ev.Resource.Reason}
	switch ev.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		out.Status = domain.EventCompleted
	case "PAYMENT.CAPTURE.DENIED":
		out.Status = domain.EventFailed
	case "PAYMENT.REFUND.COMPLETED":
		out.Status = domain.EventRefunded
	default:
		return nil, fmt.Errorf("wallet: unsupported event type %q", ev.EventType)
	}
	return out, nil
}
