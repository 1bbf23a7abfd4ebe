package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string

	// PostgresDSN empty means in-memory stores (local runs, tests).
	PostgresDSN string
	RedisAddr   string

	KafkaBrokers []string
	NotifyTopic  string

	CardGatewayURL      string
	CardAPIKey          string
	CardWebhookSecret   string
	WalletGatewayURL    string
	WalletClientID      string
	WalletClientSecret  string
	WalletWebhookSecret string

	ReservationTTL time.Duration
	SweepInterval  time.Duration
	IdempotencyTTL time.Duration

	// RestockOnPaymentFailure controls whether a failed payment restocks
	// the order's confirmed reservations automatically. Off by default:
	// a failed payment keeps stock committed until an explicit cancel.
	RestockOnPaymentFailure bool
}

func Load() Config {
	return Config{
		ServiceName: getenv("SERVICE_NAME", "fulfillment"),
		Env:         getenv("ENV", "dev"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		RedisAddr:   getenv("REDIS_ADDR", ""),

		KafkaBrokers: splitCSV(getenv("KAFKA_BROKERS", "")),
		NotifyTopic:  getenv("NOTIFY_TOPIC", "fulfillment.notifications"),

		CardGatewayURL:      getenv("CARD_GATEWAY_URL", "https://api.card.example.com"),
		CardAPIKey:          getenv("CARD_API_KEY", "card-dev-key"),
		CardWebhookSecret:   getenv("CARD_WEBHOOK_SECRET", "card-dev-secret"),
		WalletGatewayURL:    getenv("WALLET_GATEWAY_URL", "https://api.wallet.example.com"),
		WalletClientID:      getenv("WALLET_CLIENT_ID", "wallet-dev-client"),
		WalletClientSecret:  getenv("WALLET_CLIENT_SECRET", "wallet-dev-secret"),
		WalletWebhookSecret: getenv("WALLET_WEBHOOK_SECRET", "wallet-dev-webhook-secret"),

		ReservationTTL: getduration("RESERVATION_TTL", 15*time.Minute),
		SweepInterval:  getduration("RESERVATION_SWEEP_INTERVAL", time.Minute),
		IdempotencyTTL: getduration("IDEMPOTENCY_TTL", 24*time.Hour),

		RestockOnPaymentFailure: getbool("RESTOCK_ON_PAYMENT_FAILURE", false),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getbool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getduration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
