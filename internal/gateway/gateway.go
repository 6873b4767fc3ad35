// Package gateway binds the two payment providers behind one contract:
// create a provider-side intent, verify a client confirmation, refund a
// captured payment. Adapters hold no state; idempotency lives with callers.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

// CreateIntentInput describes the amount the buyer is about to pay.
type CreateIntentInput struct {
	AmountCents   int
	Currency      string
	Receipt       string
	Notes         map[string]string
	CustomerEmail string
}

// Intent is the provider-side payment object handed back to the client.
type Intent struct {
	ID          string        `json:"id"`
	Gateway     enums.Gateway `json:"gateway"`
	AmountCents int           `json:"amount_cents"`
	Currency    string        `json:"currency"`
	Receipt     string        `json:"receipt"`
	// PublicKey is what the client SDK needs to open checkout (gateway A).
	PublicKey string `json:"public_key,omitempty"`
	// RedirectURL is the hosted payment page (gateway B).
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Confirmation is what the client (or a webhook) reports after paying.
type Confirmation struct {
	IntentID  string
	PaymentID string
	Signature string
	SessionID string
}

// VerifiedPayment is a confirmation the provider vouched for. AmountCents is
// zero when the gateway does not report an amount during verification.
type VerifiedPayment struct {
	IntentID    string
	PaymentID   string
	AmountCents int
}

type RefundInput struct {
	PaymentID      string
	AmountCents    int
	IdempotencyKey string
}

type Refund struct {
	ID          string
	AmountCents int
}

type TransferInput struct {
	DestinationAccount string
	AmountCents        int
	Currency           string
	TransferGroup      string
	IdempotencyKey     string
}

type Transfer struct {
	ID          string
	AmountCents int
}

// Adapter is one concrete payment provider.
type Adapter interface {
	Name() enums.Gateway
	CreateIntent(ctx context.Context, input CreateIntentInput) (*Intent, error)
	Verify(ctx context.Context, confirmation Confirmation) (*VerifiedPayment, error)
	Refund(ctx context.Context, input RefundInput) (*Refund, error)
}

// Payouts moves money to a seller's connected account.
type Payouts interface {
	Transfer(ctx context.Context, input TransferInput) (*Transfer, error)
}

// Registry resolves the adapter a checkout or order was created with.
type Registry struct {
	adapters map[enums.Gateway]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: map[enums.Gateway]Adapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		name := adapter.Name()
		if _, exists := r.adapters[name]; exists {
			return nil, fmt.Errorf("gateway %s registered twice", name)
		}
		r.adapters[name] = adapter
	}
	if len(r.adapters) == 0 {
		return nil, errors.New("at least one payment gateway must be configured")
	}
	return r, nil
}

func (r *Registry) Get(name enums.Gateway) (Adapter, error) {
	if r != nil {
		if adapter, ok := r.adapters[name]; ok {
			return adapter, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("gateway %q is not enabled", name))
}

// classify maps a transport failure onto the typed taxonomy: deadlines and
// network errors are GatewayUnavailable, everything else GatewayError.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, message)
	}
	return pkgerrors.Wrap(pkgerrors.CodeGatewayError, err, message)
}
