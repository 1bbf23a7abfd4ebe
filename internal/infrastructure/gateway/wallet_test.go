package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/cartloom/fulfillment/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletInitiate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/checkout/orders", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "client-1", user)
		assert.Equal(t, "hush", pass)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "W-55",
			"links": []map[string]string{
				{"rel": "self", "href": "https://wallet.example/orders/W-55"},
				{"rel": "approve", "href": "https://wallet.example/approve/W-55"},
			},
		})
	}))
	defer srv.Close()

	wallet := NewWallet(srv.URL, "client-1", "hush", "whsec")
	result, err := wallet.Initiate(context.Background(), domain.InitiateRequest{
		PaymentID: "pay-1", Amount: 3200, Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "W-55", result.ExternalRef)
	assert.Equal(t, "https://wallet.example/approve/W-55", result.ApprovalURL)
	assert.Empty(t, result.ClientSecret)
}

func TestWalletRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/payments/W-55/refund", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(walletRefundResponse{RefundID: "WR-9", Status: "completed"})
	}))
	defer srv.Close()

	wallet := NewWallet(srv.URL, "client-1", "hush", "whsec")
	result, err := wallet.Refund(context.Background(), "W-55", 500)
	require.NoError(t, err)
	assert.Equal(t, "WR-9", result.RefundRef)
	assert.Equal(t, domain.EventRefunded, result.Status)
}

func TestWalletRefundPendingPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(walletRefundResponse{RefundID: "WR-10", Status: "pending"})
	}))
	defer srv.Close()

	wallet := NewWallet(srv.URL, "client-1", "hush", "whsec")
	result, err := wallet.Refund(context.Background(), "W-55", 500)
	require.NoError(t, err)
	assert.NotEqual(t, domain.EventRefunded, result.Status,
		"pending gateway status must not be treated as an acknowledged refund")
}

func TestWalletVerifySignature(t *testing.T) {
	wallet := NewWallet("http://unused", "client-1", "hush", "whsec")
	body := []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"order_id":"W-1"}}`)

	h := http.Header{}
	h.Set(walletSignatureHeader, sign("whsec", body))
	assert.True(t, wallet.VerifySignature(h, body))

	h.Set(walletSignatureHeader, "deadbeef")
	assert.False(t, wallet.VerifySignature(h, body))
}

func TestWalletParseEvent(t *testing.T) {
	wallet := NewWallet("http://unused", "client-1", "hush", "whsec")

	tests := []struct {
		body       string
		wantStatus domain.EventStatus
		wantErr    bool
	}{
		{`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"order_id":"W-1"}}`, domain.EventCompleted, false},
		{`{"event_type":"PAYMENT.CAPTURE.DENIED","resource":{"order_id":"W-2","reason":"risk"}}`, domain.EventFailed, false},
		{`{"event_type":"PAYMENT.REFUND.COMPLETED","resource":{"order_id":"W-3"}}`, domain.EventRefunded, false},
		{`{"event_type":"CHECKOUT.ORDER.APPROVED","resource":{"order_id":"W-4"}}`, "", true},
		{`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{}}`, "", true},
	}
	for _, tt := range tests {
		ev, err := wallet.ParseEvent([]byte(tt.body))
		if tt.wantErr {
			assert.Error(t, err, tt.body)
			continue
		}
		require.NoError(t, err, tt.body)
		assert.Equal(t, tt.wantStatus, ev.Status)
	}
}
