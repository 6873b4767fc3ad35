package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stripe/stripe-go/v80"

	"github.com/angelmondragon/marketplace-fulfillment/internal/payments"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

type confirmer interface {
	Confirm(ctx context.Context, input payments.ConfirmInput) (*payments.ConfirmResult, error)
}

type ServiceParams struct {
	Payments confirmer
	Logger   *logger.Logger
}

// Service routes verified Stripe events into the payment pipeline.
type Service struct {
	payments confirmer
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment reconciler required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{payments: params.Payments, logg: logg}, nil
}

// HandleEvent processes one event. Unhandled event types are acknowledged.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
		}
		if session.ID == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing")
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			// async methods complete the session first and pay later
			s.logg.Info(ctx, "checkout session not paid yet; waiting for async payment")
			return nil
		}
		return s.confirm(ctx, session.ID)
	default:
		return nil
	}
}

func (s *Service) confirm(ctx context.Context, sessionID string) error {
	res, err := s.payments.Confirm(ctx, payments.ConfirmInput{
		Gateway:   enums.GatewayStripe,
		IntentID:  sessionID,
		SessionID: sessionID,
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			// sessions created outside this service carry no orders
			s.logg.Warn(ctx, "checkout session has no orders; ignoring")
			return nil
		}
		return err
	}
	if res.AlreadyConfirmed {
		s.logg.Info(ctx, "checkout session already confirmed")
	}
	return nil
}

// Retryable reports whether Stripe should redeliver the event after err. A
// group settled by a cancel or another payment was already reported as an
// incident and stays settled.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, payments.ErrGroupSettled) {
		return false
	}
	var typed *pkgerrors.Error
	if !errors.As(err, &typed) {
		return true
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeSignatureInvalid:
		return false
	default:
		return true
	}
}
