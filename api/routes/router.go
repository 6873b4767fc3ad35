package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketplace-fulfillment/api/controllers"
	webhookcontrollers "github.com/angelmondragon/marketplace-fulfillment/api/controllers/webhooks"
	"github.com/angelmondragon/marketplace-fulfillment/api/middleware"
	checkoutsvc "github.com/angelmondragon/marketplace-fulfillment/internal/checkout"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/internal/payments"
	"github.com/angelmondragon/marketplace-fulfillment/internal/refunds"
	stripewebhook "github.com/angelmondragon/marketplace-fulfillment/internal/webhooks/stripe"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	pkgredis "github.com/angelmondragon/marketplace-fulfillment/pkg/redis"
)

// Dependencies are the services the HTTP surface dispatches to. Stripe
// fields may be nil when the redirect gateway is disabled.
type Dependencies struct {
	Tokens           middleware.TokenVerifier
	DB               controllers.Pinger
	Redis            controllers.Pinger
	Idempotency      pkgredis.IdempotencyStore
	Metrics          prometheus.Gatherer
	Checkout         checkoutsvc.Service
	Payments         payments.Reconciler
	Orders           orders.Service
	Refunds          refunds.Processor
	StripeEvents     webhookcontrollers.EventVerifier
	StripeWebhook    *stripewebhook.Service
	StripeEventGuard *stripewebhook.EventGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}, logg))
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	if deps.StripeWebhook != nil {
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeEvents, deps.StripeEventGuard, stripewebhook.Retryable, logg))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Tokens, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, cfg.Checkout.IdempotencyTTL, logg))

		r.Post("/checkout", controllers.Checkout(deps.Checkout, logg))
		r.Post("/payments/confirm", controllers.ConfirmPayment(deps.Payments, logg))

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Get("/", controllers.OrderDetail(deps.Orders, logg))
			r.Post("/cancel", controllers.CancelOrder(deps.Refunds, logg))
			r.With(middleware.RequireRole(enums.RoleSeller, logg)).Post("/deliver", controllers.DeliverOrder(deps.Orders, logg))
		})
	})

	return r
}
