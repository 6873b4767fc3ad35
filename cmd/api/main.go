package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-fulfillment/api/routes"
	"github.com/angelmondragon/marketplace-fulfillment/internal/cart"
	"github.com/angelmondragon/marketplace-fulfillment/internal/checkout"
	"github.com/angelmondragon/marketplace-fulfillment/internal/gateway"
	"github.com/angelmondragon/marketplace-fulfillment/internal/inventory"
	"github.com/angelmondragon/marketplace-fulfillment/internal/ledger"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/internal/payments"
	"github.com/angelmondragon/marketplace-fulfillment/internal/refunds"
	"github.com/angelmondragon/marketplace-fulfillment/internal/users"
	stripewebhook "github.com/angelmondragon/marketplace-fulfillment/internal/webhooks/stripe"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/auth"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/instance"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/migrate"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/redis"
	pkgstripe "github.com/angelmondragon/marketplace-fulfillment/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.LogFormat == "console",
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var adapters []gateway.Adapter
	if cfg.Razorpay.Enabled() {
		razorpay, err := gateway.NewRazorpay(cfg.Razorpay, &http.Client{Timeout: cfg.Razorpay.Timeout})
		if err != nil {
			logg.Error(context.Background(), "failed to create razorpay adapter", err)
			os.Exit(1)
		}
		adapters = append(adapters, razorpay)
	}

	var stripeClient *pkgstripe.Client
	if cfg.Stripe.Enabled() {
		stripeClient, err = pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to init stripe client", err)
			os.Exit(1)
		}
		stripeAdapter, err := gateway.NewStripe(cfg.Stripe, stripeClient)
		if err != nil {
			logg.Error(context.Background(), "failed to create stripe adapter", err)
			os.Exit(1)
		}
		adapters = append(adapters, stripeAdapter)
	}

	gateways, err := gateway.NewRegistry(adapters...)
	if err != nil {
		logg.Error(context.Background(), "failed to build gateway registry", err)
		os.Exit(1)
	}

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ordersRepo := orders.NewRepository(dbClient.DB())
	inventoryRepo := inventory.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Tx:             dbClient,
		Inventory:      inventoryRepo,
		Carts:          cart.NewSnapshotReader(dbClient.DB()),
		Orders:         ordersRepo,
		Buyers:         users.NewRepository(dbClient.DB()),
		Gateways:       gateways,
		Outbox:         outboxService,
		Logger:         logg,
		Metrics:        paymentMetrics,
		Currency:       cfg.Checkout.Currency,
		GatewayTimeout: cfg.Checkout.GatewayTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	reconciler, err := payments.NewReconciler(payments.ReconcilerParams{
		Tx:            dbClient,
		Orders:        ordersRepo,
		Inventory:     inventoryRepo,
		Ledger:        ledgerRepo,
		Gateways:      gateways,
		Outbox:        outboxService,
		Logger:        logg,
		Metrics:       paymentMetrics,
		VerifyTimeout: cfg.Checkout.GatewayTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment reconciler", err)
		os.Exit(1)
	}

	refundProcessor, err := refunds.NewProcessor(refunds.ProcessorParams{
		Tx:            dbClient,
		Orders:        ordersRepo,
		Inventory:     inventoryRepo,
		Ledger:        ledgerRepo,
		Gateways:      gateways,
		Outbox:        outboxService,
		Logger:        logg,
		Metrics:       paymentMetrics,
		RefundTimeout: cfg.Checkout.GatewayTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refund processor", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:     ordersRepo,
		Tx:       dbClient,
		Outbox:   outboxService,
		Logger:   logg,
		Holdback: cfg.Payout.Holdback,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	verifier, err := auth.NewVerifier(cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create token verifier", err)
		os.Exit(1)
	}

	deps := routes.Dependencies{
		Tokens:      verifier,
		DB:          dbClient,
		Redis:       redisClient,
		Idempotency: redisClient,
		Metrics:     prometheus.DefaultGatherer,
		Checkout:    checkoutService,
		Payments:    reconciler,
		Orders:      ordersService,
		Refunds:     refundProcessor,
	}

	if stripeClient != nil {
		webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
			Payments: reconciler,
			Logger:   logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create stripe webhook service", err)
			os.Exit(1)
		}
		guard, err := stripewebhook.NewEventGuard(redisClient, cfg.Stripe.WebhookTTL, "stripe-webhook")
		if err != nil {
			logg.Error(context.Background(), "failed to create stripe webhook guard", err)
			os.Exit(1)
		}
		deps.StripeEvents = stripeClient
		deps.StripeWebhook = webhookService
		deps.StripeEventGuard = guard
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.ID(),
		"gateways": len(adapters),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
