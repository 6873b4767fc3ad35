package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v80"

	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

const maxWebhookBodyBytes = 64 << 10

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// EventVerifier authenticates a raw Stripe delivery.
type EventVerifier interface {
	VerifyEvent(payload []byte, header string) (stripe.Event, error)
}

type stripeWebhook struct {
	svc       StripeWebhookService
	verifier  EventVerifier
	guard     stripeWebhookGuard
	retryable func(error) bool
	logg      *logger.Logger
}

// StripeWebhook verifies, dedupes and dispatches Stripe Checkout events.
//
// Responses steer Stripe's retries: a retryable failure releases the claim
// and returns 5xx so the redelivery is handled; a permanent failure is
// logged and acknowledged with 200 so Stripe stops retrying.
func StripeWebhook(svc StripeWebhookService, verifier EventVerifier, guard stripeWebhookGuard, retryable func(error) bool, logg *logger.Logger) http.HandlerFunc {
	h := &stripeWebhook{svc: svc, verifier: verifier, guard: guard, retryable: retryable, logg: logg}
	return h.serve
}

func (h *stripeWebhook) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc == nil || h.verifier == nil || h.guard == nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
		return
	}

	event, err := h.authenticate(r)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	if h.logg != nil {
		ctx = h.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})
	}

	claimed, err := h.guard.Claim(ctx, event.ID)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim webhook event"))
		return
	}
	if !claimed {
		responses.WriteSuccess(w, map[string]any{"received": true, "duplicate": true})
		return
	}

	if err := h.svc.HandleEvent(ctx, &event); err != nil {
		h.fail(ctx, w, event.ID, err)
		return
	}
	h.info(ctx, "stripe.webhook.processed")
	responses.WriteSuccess(w, map[string]any{"received": true})
}

func (h *stripeWebhook) authenticate(r *http.Request) (stripe.Event, error) {
	header := r.Header.Get("Stripe-Signature")
	if header == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "stripe signature missing")
	}
	payload, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook body too large")
		}
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read webhook body")
	}
	event, err := h.verifier.VerifyEvent(payload, header)
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "verify signature")
	}
	return event, nil
}

func (h *stripeWebhook) fail(ctx context.Context, w http.ResponseWriter, eventID string, err error) {
	if h.retryable == nil || h.retryable(err) {
		if relErr := h.guard.Release(ctx, eventID); relErr != nil && h.logg != nil {
			h.logg.Error(ctx, "stripe.webhook.release_failed", relErr)
		}
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	if h.logg != nil {
		h.logg.Error(ctx, "stripe.webhook.dropped", err)
	}
	responses.WriteSuccess(w, map[string]any{"received": true})
}

func (h *stripeWebhook) info(ctx context.Context, msg string) {
	if h.logg != nil {
		h.logg.Info(ctx, msg)
	}
}
