package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v80"

	"github.com/angelmondragon/marketplace-fulfillment/internal/payments"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

type stubConfirmer struct {
	inputs []payments.ConfirmInput
	err    error
}

func (s *stubConfirmer) Confirm(_ context.Context, input payments.ConfirmInput) (*payments.ConfirmResult, error) {
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return nil, s.err
	}
	return &payments.ConfirmResult{PaymentID: "pi_1"}, nil
}

func sessionEvent(t *testing.T, eventType stripe.EventType, session stripe.CheckoutSession) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return &stripe.Event{ID: "evt_1", Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func newService(t *testing.T, confirmer *stubConfirmer) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Payments: confirmer})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return svc
}

func TestHandleCompletedSessionConfirmsPayment(t *testing.T) {
	confirmer := &stubConfirmer{}
	svc := newService(t, confirmer)

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_test_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
	})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(confirmer.inputs) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(confirmer.inputs))
	}
	got := confirmer.inputs[0]
	if got.Gateway != enums.GatewayStripe || got.IntentID != "cs_test_1" || got.SessionID != "cs_test_1" {
		t.Fatalf("unexpected confirm input: %+v", got)
	}
}

func TestHandleUnpaidSessionWaits(t *testing.T) {
	confirmer := &stubConfirmer{}
	svc := newService(t, confirmer)

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_test_2",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
	})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(confirmer.inputs) != 0 {
		t.Fatalf("unpaid session must not be confirmed")
	}
}

func TestHandleIgnoresUnknownSessions(t *testing.T) {
	confirmer := &stubConfirmer{err: pkgerrors.New(pkgerrors.CodeNotFound, "no orders for payment intent")}
	svc := newService(t, confirmer)

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_foreign",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
	})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected unknown session to be acknowledged, got %v", err)
	}
}

func TestHandlePropagatesConfirmFailure(t *testing.T) {
	confirmer := &stubConfirmer{err: pkgerrors.New(pkgerrors.CodeConfirmFailed, "boom")}
	svc := newService(t, confirmer)

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_test_3",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
	})
	err := svc.HandleEvent(context.Background(), event)
	if !pkgerrors.Is(err, pkgerrors.CodeConfirmFailed) {
		t.Fatalf("expected confirm failure, got %v", err)
	}
	if !Retryable(err) {
		t.Fatalf("confirm failures should be retried by the provider")
	}
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	confirmer := &stubConfirmer{}
	svc := newService(t, confirmer)
	event := &stripe.Event{ID: "evt_2", Type: stripe.EventTypeCustomerCreated, Data: &stripe.EventData{Raw: []byte(`{}`)}}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(confirmer.inputs) != 0 {
		t.Fatalf("unexpected confirmation")
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(nil) {
		t.Fatal("nil error is not retryable")
	}
	if Retryable(pkgerrors.New(pkgerrors.CodeSignatureInvalid, "bad")) {
		t.Fatal("signature failures are final")
	}
	if !Retryable(errors.New("db down")) {
		t.Fatal("untyped errors are retryable")
	}
	settled := pkgerrors.Wrap(pkgerrors.CodeConfirmFailed, payments.ErrGroupSettled, "payment group is no longer awaiting payment")
	if Retryable(settled) {
		t.Fatal("a settled payment group will not change on redelivery")
	}
}

func TestHandleSettledGroupIsNotRedelivered(t *testing.T) {
	confirmer := &stubConfirmer{err: pkgerrors.Wrap(pkgerrors.CodeConfirmFailed, payments.ErrGroupSettled, "payment group is no longer awaiting payment")}
	svc := newService(t, confirmer)

	event := sessionEvent(t, stripe.EventTypeCheckoutSessionCompleted, stripe.CheckoutSession{
		ID:            "cs_test_settled",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
	})
	err := svc.HandleEvent(context.Background(), event)
	if !pkgerrors.Is(err, pkgerrors.CodeConfirmFailed) {
		t.Fatalf("expected confirm failure, got %v", err)
	}
	if Retryable(err) {
		t.Fatalf("settled group should be acknowledged, not redelivered")
	}
}

type memoryStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]string{}
	}
	if _, held := m.keys[key]; held {
		return false, nil
	}
	m.keys[key] = value.(string)
	return true, nil
}

func (m *memoryStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, held := m.keys[key]; !held || v != expected {
		return false, nil
	}
	delete(m.keys, key)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func TestEventGuardClaimsOnce(t *testing.T) {
	guard, err := NewEventGuard(&memoryStore{}, time.Hour, "stripe-webhook")
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	ctx := context.Background()
	if ok, _ := guard.Claim(ctx, "evt_1"); !ok {
		t.Fatal("first claim should succeed")
	}
	if ok, _ := guard.Claim(ctx, "evt_1"); ok {
		t.Fatal("second claim should be rejected")
	}
	if err := guard.Release(ctx, "evt_1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := guard.Claim(ctx, "evt_1"); !ok {
		t.Fatal("claim after release should succeed")
	}
	// a claim held by another instance survives our release
	store := &memoryStore{keys: map[string]string{"stripe-webhook:evt_2": "other-host"}}
	other, _ := NewEventGuard(store, time.Hour, "stripe-webhook")
	if err := other.Release(ctx, "evt_2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := other.Claim(ctx, "evt_2"); ok {
		t.Fatal("foreign claim was released")
	}
	if _, err := guard.Claim(ctx, ""); err == nil {
		t.Fatal("empty event id must fail")
	}
}
