package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	appcheckout "github.com/cartloom/fulfillment/internal/application/checkout"
	appinventory "github.com/cartloom/fulfillment/internal/application/inventory"
	apppayment "github.com/cartloom/fulfillment/internal/application/payment"
	"github.com/cartloom/fulfillment/internal/config"
	dominv "github.com/cartloom/fulfillment/internal/domain/inventory"
	domorder "github.com/cartloom/fulfillment/internal/domain/order"
	dompay "github.com/cartloom/fulfillment/internal/domain/payment"
	"github.com/cartloom/fulfillment/internal/infrastructure/gateway"
	"github.com/cartloom/fulfillment/internal/infrastructure/id"
	"github.com/cartloom/fulfillment/internal/infrastructure/memory"
	"github.com/cartloom/fulfillment/internal/infrastructure/notify"
	"github.com/cartloom/fulfillment/internal/infrastructure/outbox"
	"github.com/cartloom/fulfillment/internal/infrastructure/postgres"
	"github.com/cartloom/fulfillment/internal/infrastructure/redisx"
	"github.com/cartloom/fulfillment/internal/pkg/logging"
	httppresentation "github.com/cartloom/fulfillment/internal/presentation/http"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithLogger(ctx, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := &httppresentation.Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reservationsExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reservations_expired_total",
		Help: "Reservations released by the expiry sweeper.",
	})
	registry.MustRegister(metrics.Requests, metrics.Durations, reservationsExpired)

	var (
		stockRepo   dominv.Repository
		orderRepo   domorder.Repository
		paymentRepo dompay.Repository
	)
	if cfg.PostgresDSN != "" {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres_connect_failed", zap.Error(err))
		}
		defer pool.Close()
		stockRepo = postgres.NewStockRepository(pool)
		orderRepo = postgres.NewOrderRepository(pool)
		paymentRepo = postgres.NewPaymentRepository(pool)
		logger.Info("storage_backend", zap.String("backend", "postgres"))
	} else {
		memStock := memory.NewStockRepository()
		seedDemoStock(memStock)
		stockRepo = memStock
		orderRepo = memory.NewOrderRepository()
		paymentRepo = memory.NewPaymentRepository()
		logger.Info("storage_backend", zap.String("backend", "memory"))
	}

	var idem appcheckout.IdempotencyStore
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer func() { _ = rdb.Close() }()
		idem = redisx.NewIdempotencyStore(rdb, cfg.IdempotencyTTL)
	} else {
		idem = memory.NewIdempotencyStore()
	}

	carts := memory.NewCartStore()
	catalog := memory.NewCatalog()
	if cfg.PostgresDSN == "" {
		seedDemoCatalog(catalog)
	}

	bus := outbox.NewBus(logger)
	bus.Start(ctx)

	idGen := id.NewUUIDGenerator()
	manager := appinventory.NewManager(stockRepo, idGen, cfg.ReservationTTL)

	gateways := []dompay.Gateway{
		gateway.NewCard(cfg.CardGatewayURL, cfg.CardAPIKey, cfg.CardWebhookSecret),
		gateway.NewWallet(cfg.WalletGatewayURL, cfg.WalletClientID, cfg.WalletClientSecret, cfg.WalletWebhookSecret),
	}
	orchestrator := apppayment.NewOrchestrator(
		paymentRepo, orderRepo, gateways, idGen, bus, manager, cfg.RestockOnPaymentFailure)

	coordinator := appcheckout.NewCoordinator(
		orderRepo, carts, catalog, manager, idem, idGen, id.NewOrderNumber, bus, orchestrator)

	var sink notify.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.NotifyTopic, logger)
		defer func() { _ = kafkaSink.Close() }()
		sink = kafkaSink
	} else {
		sink = notify.NewLogSink(logger)
	}
	notify.NewWorker(sink, logger).Register(bus)

	sweeper := appinventory.NewSweeper(manager, cfg.SweepInterval, reservationsExpired)
	sweeper.Start(ctx)

	handler := httppresentation.NewHandler(coordinator, orchestrator, logger, metrics)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http_listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}

	sweeper.Stop()
	bus.Stop()
	logger.Info("stopped")
}

func seedDemoStock(repo *memory.StockRepository) {
	for productID, onHand := range map[string]int{
		"prod-espresso-maker":   25,
		"prod-burr-grinder":     40,
		"prod-kettle-gooseneck": 60,
	} {
		stock, err := dominv.NewStock(productID, onHand)
		if err != nil {
			continue
		}
		repo.Seed(stock)
	}
}

func seedDemoCatalog(catalog *memory.Catalog) {
	catalog.Put(appcheckout.Product{
		ID: "prod-espresso-maker", Name: "Espresso Maker", Active: true,
		Price: 14900, DiscountPrice: 12900,
	})
	catalog.Put(appcheckout.Product{
		ID: "prod-burr-grinder", Name: "Burr Grinder", Active: true,
		Price: 6900,
	})
	catalog.Put(appcheckout.Product{
		ID: "prod-kettle-gooseneck", Name: "Gooseneck Kettle", Active: true,
		Price: 3500,
	})
}
