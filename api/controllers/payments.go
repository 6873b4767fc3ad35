package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	"github.com/angelmondragon/marketplace-fulfillment/api/validators"
	"github.com/angelmondragon/marketplace-fulfillment/internal/payments"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

type paymentConfirmer interface {
	Confirm(ctx context.Context, input payments.ConfirmInput) (*payments.ConfirmResult, error)
}

type confirmRequest struct {
	Gateway   string `json:"gateway" validate:"omitempty,gateway"`
	IntentID  string `json:"intentId" validate:"required,max=255"`
	PaymentID string `json:"paymentId,omitempty" validate:"max=255"`
	Signature string `json:"signature,omitempty" validate:"max=512"`
	SessionID string `json:"sessionId,omitempty" validate:"max=255"`
}

// ConfirmPayment finalizes a payment reported by the client after the
// gateway's checkout completes. Redirect-gateway confirmations carry a
// session id; card/UPI confirmations carry the payment id and signature.
func ConfirmPayment(svc paymentConfirmer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		if _, err := actorFromRequest(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload confirmRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := payments.ConfirmInput{
			IntentID:  strings.TrimSpace(payload.IntentID),
			PaymentID: strings.TrimSpace(payload.PaymentID),
			Signature: strings.TrimSpace(payload.Signature),
			SessionID: strings.TrimSpace(payload.SessionID),
		}
		switch {
		case payload.Gateway != "":
			gw, err := enums.ParseGateway(payload.Gateway)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported gateway"))
				return
			}
			input.Gateway = gw
		case input.SessionID != "":
			input.Gateway = enums.GatewayStripe
		default:
			input.Gateway = enums.GatewayRazorpay
		}

		if input.Gateway == enums.GatewayRazorpay && (input.PaymentID == "" || input.Signature == "") {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "paymentId and signature are required").
				WithDetails(map[string]string{"paymentId": "is required", "signature": "is required"}))
			return
		}
		if input.Gateway == enums.GatewayStripe && input.SessionID == "" {
			input.SessionID = input.IntentID
		}

		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"gateway":   string(input.Gateway),
				"intent_id": input.IntentID,
			})
			r = r.WithContext(ctx)
		}

		result, err := svc.Confirm(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
