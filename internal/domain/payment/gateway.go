package payment

import (
	"context"
	"fmt"
	"net/http"
)

// EventStatus is the normalized outcome of a gateway event.
type EventStatus string

const (
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
	EventRefunded  EventStatus = "refunded"
)

type InitiateRequest struct {
	PaymentID string
	OrderID   string
	Amount    int64
	Currency  string
	Metadata  map[string]string
}

// InitiateResult carries the external reference plus whichever client
// handoff the gateway uses: card gateways return a client secret, wallet
// gateways an approval redirect URL.
type InitiateResult struct {
	ExternalRef  string
	ClientSecret string
	ApprovalURL  string
}

type RefundResult struct {
	RefundRef string
	Status    EventStatus
}

// Event is a parsed webhook or verification payload.
type Event struct {
	ExternalRef string
	Status      EventStatus
	Reason      string
}

// Gateway is the uniform capability surface implemented once per external
// payment processor. The orchestrator never branches on gateway name
// except to select the adapter instance.
type Gateway interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Refund(ctx context.Context, externalRef string, amount int64) (*RefundResult, error)
	VerifySignature(header http.Header, body []byte) bool
	ParseEvent(body []byte) (*Event, error)
}

// GatewayError wraps an adapter failure with the gateway name for the
// 502-class error mapping.
type GatewayError struct {
	Gateway string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment: gateway %s: %v", e.Gateway, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
