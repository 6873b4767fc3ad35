package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"go.opentelemetry.io/otel/attribute"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/tracing"
)

// StripeAPI is the subset of stripe-go resources the redirect gateway uses.
// *pkg/stripe.Client implements it.
type StripeAPI interface {
	NewSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetSession(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	NewRefund(params *stripe.RefundParams) (*stripe.Refund, error)
	NewTransfer(params *stripe.TransferParams) (*stripe.Transfer, error)
}

// Stripe is the redirect gateway backed by Checkout Sessions. It also pays
// sellers through Connect transfers.
type Stripe struct {
	api        StripeAPI
	successURL string
	cancelURL  string
	tracer     *tracing.Tracer
}

func NewStripe(cfg config.StripeConfig, api StripeAPI) (*Stripe, error) {
	if api == nil {
		return nil, errors.New("stripe api required")
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" || strings.TrimSpace(cfg.CancelURL) == "" {
		return nil, errors.New("stripe success and cancel urls are required")
	}
	return &Stripe{
		api:        api,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		tracer:     tracing.New("gateway.stripe"),
	}, nil
}

func (s *Stripe) Name() enums.Gateway {
	return enums.GatewayStripe
}

// CreateIntent opens a hosted Checkout Session for the whole amount. The
// receipt becomes the session's client reference.
func (s *Stripe) CreateIntent(ctx context.Context, input CreateIntentInput) (intent *Intent, err error) {
	ctx, span := s.tracer.Start(ctx, "stripe.create_session",
		attribute.Int("amount", input.AmountCents),
		attribute.String("receipt", input.Receipt),
	)
	defer func() { tracing.End(span, err) }()

	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	currency := strings.ToLower(input.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(input.Receipt),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(int64(input.AmountCents)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + input.Receipt),
				},
			},
		}},
	}
	if input.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(input.CustomerEmail)
	}
	for k, v := range input.Notes {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + input.Receipt)

	sess, err := s.api.NewSession(params)
	if err != nil {
		return nil, classifyStripe(err, "create checkout session")
	}
	return &Intent{
		ID:          sess.ID,
		Gateway:     enums.GatewayStripe,
		AmountCents: input.AmountCents,
		Currency:    strings.ToUpper(currency),
		Receipt:     input.Receipt,
		RedirectURL: sess.URL,
	}, nil
}

// Verify exchanges the session id with Stripe. A session is accepted only
// when it is paid and belongs to the intent being confirmed.
func (s *Stripe) Verify(ctx context.Context, confirmation Confirmation) (verified *VerifiedPayment, err error) {
	ctx, span := s.tracer.Start(ctx, "stripe.verify", attribute.String("intent_id", confirmation.IntentID))
	defer func() { tracing.End(span, err) }()

	sessionID := confirmation.SessionID
	if sessionID == "" {
		sessionID = confirmation.IntentID
	}
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if confirmation.IntentID != "" && confirmation.IntentID != sessionID {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "session does not match intent")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	sess, err := s.api.GetSession(sessionID, params)
	if err != nil {
		return nil, classifyStripe(err, "retrieve checkout session")
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "checkout session is not paid").
			WithDetails(map[string]any{"payment_status": sess.PaymentStatus})
	}
	if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayError, "checkout session has no payment intent")
	}
	return &VerifiedPayment{
		IntentID:    sess.ID,
		PaymentID:   sess.PaymentIntent.ID,
		AmountCents: int(sess.AmountTotal),
	}, nil
}

func (s *Stripe) Refund(ctx context.Context, input RefundInput) (out *Refund, err error) {
	ctx, span := s.tracer.Start(ctx, "stripe.refund", attribute.String("payment_id", input.PaymentID))
	defer func() { tracing.End(span, err) }()

	if input.PaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(input.PaymentID)}
	if input.AmountCents > 0 {
		params.Amount = stripe.Int64(int64(input.AmountCents))
	}
	params.Context = ctx
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}
	r, err := s.api.NewRefund(params)
	if err != nil {
		return nil, classifyStripe(err, "create refund")
	}
	return &Refund{ID: r.ID, AmountCents: int(r.Amount)}, nil
}

// Transfer pays a connected seller account.
func (s *Stripe) Transfer(ctx context.Context, input TransferInput) (out *Transfer, err error) {
	ctx, span := s.tracer.Start(ctx, "stripe.transfer",
		attribute.String("destination", input.DestinationAccount),
		attribute.Int("amount", input.AmountCents),
	)
	defer func() { tracing.End(span, err) }()

	if input.DestinationAccount == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination account required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be positive")
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(int64(input.AmountCents)),
		Currency:    stripe.String(strings.ToLower(input.Currency)),
		Destination: stripe.String(input.DestinationAccount),
	}
	if input.TransferGroup != "" {
		params.TransferGroup = stripe.String(input.TransferGroup)
	}
	params.Context = ctx
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}
	t, err := s.api.NewTransfer(params)
	if err != nil {
		return nil, classifyStripe(err, "create transfer")
	}
	return &Transfer{ID: t.ID, AmountCents: int(t.Amount)}, nil
}

// classifyStripe treats card/request errors as provider rejections and
// API/connection failures as unavailability.
func classifyStripe(err error, message string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := pkgerrors.CodeGatewayError
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.Type == stripe.ErrorTypeAPI {
			code = pkgerrors.CodeGatewayUnavailable
		}
		return pkgerrors.Wrap(code, err, message).WithDetails(map[string]any{
			"stripe_code": string(stripeErr.Code),
			"status":      stripeErr.HTTPStatusCode,
		})
	}
	return classify(err, message)
}
