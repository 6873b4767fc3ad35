// Package gatewaytest provides a scriptable gateway adapter for service tests.
package gatewaytest

import (
	"context"
	"sync"

	"github.com/angelmondragon/marketplace-fulfillment/internal/gateway"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// Fake records every call. Unset function fields succeed with canned values.
type Fake struct {
	Gateway        enums.Gateway
	CreateIntentFn func(ctx context.Context, input gateway.CreateIntentInput) (*gateway.Intent, error)
	VerifyFn       func(ctx context.Context, confirmation gateway.Confirmation) (*gateway.VerifiedPayment, error)
	RefundFn       func(ctx context.Context, input gateway.RefundInput) (*gateway.Refund, error)
	TransferFn     func(ctx context.Context, input gateway.TransferInput) (*gateway.Transfer, error)

	mu        sync.Mutex
	Intents   []gateway.CreateIntentInput
	Verifies  []gateway.Confirmation
	Refunds   []gateway.RefundInput
	Transfers []gateway.TransferInput
}

func (f *Fake) Name() enums.Gateway {
	if f.Gateway == "" {
		return enums.GatewayRazorpay
	}
	return f.Gateway
}

func (f *Fake) CreateIntent(ctx context.Context, input gateway.CreateIntentInput) (*gateway.Intent, error) {
	f.mu.Lock()
	f.Intents = append(f.Intents, input)
	f.mu.Unlock()
	if f.CreateIntentFn != nil {
		return f.CreateIntentFn(ctx, input)
	}
	return &gateway.Intent{
		ID:          "order_" + input.Receipt,
		Gateway:     f.Name(),
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
		Receipt:     input.Receipt,
	}, nil
}

func (f *Fake) Verify(ctx context.Context, confirmation gateway.Confirmation) (*gateway.VerifiedPayment, error) {
	f.mu.Lock()
	f.Verifies = append(f.Verifies, confirmation)
	f.mu.Unlock()
	if f.VerifyFn != nil {
		return f.VerifyFn(ctx, confirmation)
	}
	return &gateway.VerifiedPayment{IntentID: confirmation.IntentID, PaymentID: confirmation.PaymentID}, nil
}

func (f *Fake) Refund(ctx context.Context, input gateway.RefundInput) (*gateway.Refund, error) {
	f.mu.Lock()
	f.Refunds = append(f.Refunds, input)
	f.mu.Unlock()
	if f.RefundFn != nil {
		return f.RefundFn(ctx, input)
	}
	return &gateway.Refund{ID: "rfnd_" + input.PaymentID, AmountCents: input.AmountCents}, nil
}

func (f *Fake) Transfer(ctx context.Context, input gateway.TransferInput) (*gateway.Transfer, error) {
	f.mu.Lock()
	f.Transfers = append(f.Transfers, input)
	f.mu.Unlock()
	if f.TransferFn != nil {
		return f.TransferFn(ctx, input)
	}
	return &gateway.Transfer{ID: "tr_" + input.IdempotencyKey, AmountCents: input.AmountCents}, nil
}

func (f *Fake) RefundCalls() []gateway.RefundInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.RefundInput(nil), f.Refunds...)
}

func (f *Fake) TransferCalls() []gateway.TransferInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.TransferInput(nil), f.Transfers...)
}

func (f *Fake) IntentCalls() []gateway.CreateIntentInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.CreateIntentInput(nil), f.Intents...)
}
