package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	domain "github.com/cartloom/fulfillment/internal/domain/payment"
	"github.com/go-resty/resty/v2"
)

const (
	CardName            = "card"
	cardSignatureHeader = "X-Card-Signature"

	requestTimeout = 10 * time.Second
	retryCount     = 2
	retryWaitBase  = 250 * time.Millisecond
	retryWaitMax   = 2 * time.Second
)

// Card talks to the card-network processor. Initiation returns a client
// secret the storefront uses to confirm the charge browser-side; the
// outcome arrives later on the webhook.
type Card struct {
	client *resty.Client
	secret string
}

func NewCard(baseURL, apiKey, webhookSecret string) *Card {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(requestTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryWaitBase).
		SetRetryMaxWaitTime(retryWaitMax)
	return &Card{client: client, secret: webhookSecret}
}

func (c *Card) Name() string { return CardName }

type cardIntentRequest struct {
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Reference string            `json:"reference"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type cardIntentResponse struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
}

func (c *Card) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	var out cardIntentResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(cardIntentRequest{
			Amount:    req.Amount,
			Currency:  req.Currency,
			Reference: req.PaymentID,
			Metadata:  req.Metadata,
		}).
		SetResult(&out).
		Post("/v1/payment_intents")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("card: create intent: status %d", resp.StatusCode())
	}
	return &domain.InitiateResult{
		ExternalRef:  out.IntentID,
		ClientSecret: out.ClientSecret,
	}, nil
}

type cardRefundResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

func (c *Card) Refund(ctx context.Context, externalRef string, amount int64) (*domain.RefundResult, error) {
	var out cardRefundResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"intent_id": externalRef, "amount": amount}).
		SetResult(&out).
		Post("/v1/refunds")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("card: refund: status %d", resp.StatusCode())
	}
	status := domain.EventStatus(out.Status)
	if out.Status == "succeeded" {
		status = domain.EventRefunded
	}
	return &domain.RefundResult{RefundRef: out.RefundID, Status: status}, nil
}

func (c *Card) VerifySignature(header http.Header, body []byte) bool {
	return verify(c.secret, header.Get(cardSignatureHeader), body)
}

type cardEvent struct {
	Type   string `json:"type"`
	Intent struct {
		ID            string `json:"id"`
		FailureReason string `json:"failure_reason"`
	} `json:"intent"`
}

func (c *Card) ParseEvent(body []byte) (*domain.Event, error) {
	var ev cardEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("card: decode event: %w", err)
	}
	if ev.Intent.ID == "" {
		return nil, fmt.Errorf("card: event missing intent id")
	}

	out := &domain.Event{ExternalRef: ev.Intent.ID, Reason: ev.Intent.FailureReason}
	switch ev.Type {
	case "payment_intent.succeeded":
		out.Status = domain.EventCompleted
	case "payment_intent.failed":
		out.Status = domain.EventFailed
	case "refund.succeeded":
		out.Status = domain.EventRefunded
	default:
		return nil, fmt.Errorf("card: unsupported event type %q", ev.Type)
	}
	return out, nil
}
