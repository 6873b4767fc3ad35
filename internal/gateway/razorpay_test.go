package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

func newTestRazorpay(t *testing.T, handler http.HandlerFunc) *Razorpay {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	rp, err := NewRazorpay(config.RazorpayConfig{
		KeyID:     "rzp_test_key",
		KeySecret: "secret",
		BaseURL:   srv.URL,
		Timeout:   time.Second,
	}, nil)
	require.NoError(t, err)
	return rp
}

func TestVerifySignatureIsExact(t *testing.T) {
	sig := Sign("order_1", "pay_1", "secret")
	require.True(t, VerifySignature("order_1", "pay_1", sig, "secret"))

	require.False(t, VerifySignature("order_2", "pay_1", sig, "secret"))
	require.False(t, VerifySignature("order_1", "pay_2", sig, "secret"))
	require.False(t, VerifySignature("order_1", "pay_1", sig, "other"))

	mutated := []byte(sig)
	if mutated[0] == 'a' {
		mutated[0] = 'b'
	} else {
		mutated[0] = 'a'
	}
	require.False(t, VerifySignature("order_1", "pay_1", string(mutated), "secret"))
}

func TestSignMatchesKnownVector(t *testing.T) {
	require.Equal(t, "52115a0d3400de9e86aade1f1b6eba9e8974604f4e267a9e9a16633a4c8dd2cb", Sign("order_1", "pay_1", "secret"))
	require.True(t, VerifySignature("order_1", "pay_1", "52115A0D3400DE9E86AADE1F1B6EBA9E8974604F4E267A9E9A16633A4C8DD2CB", "secret"))
	require.NotEqual(t, Sign("order_1|", "pay_1", "secret"), Sign("order_1", "pay_1", "secret"))
}

func TestRazorpayVerify(t *testing.T) {
	rp := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("verify must not call the provider")
	})
	ctx := context.Background()

	verified, err := rp.Verify(ctx, Confirmation{IntentID: "order_1", PaymentID: "pay_1", Signature: Sign("order_1", "pay_1", "secret")})
	require.NoError(t, err)
	require.Equal(t, "pay_1", verified.PaymentID)

	_, err = rp.Verify(ctx, Confirmation{IntentID: "order_1", PaymentID: "pay_1", Signature: Sign("order_1", "pay_1", "wrong")})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeSignatureInvalid))

	_, err = rp.Verify(ctx, Confirmation{IntentID: "order_1"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestRazorpayCreateIntent(t *testing.T) {
	rp := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "rzp_test_key", user)
		require.Equal(t, "secret", pass)

		var body razorpayOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, 2500, body.Amount)
		require.Equal(t, "INR", body.Currency)
		require.Equal(t, "grp-1", body.Receipt)

		_ = json.NewEncoder(w).Encode(razorpayOrder{ID: "order_abc", Amount: body.Amount, Currency: body.Currency, Receipt: body.Receipt, Status: "created"})
	})

	intent, err := rp.CreateIntent(context.Background(), CreateIntentInput{AmountCents: 2500, Currency: "inr", Receipt: "grp-1"})
	require.NoError(t, err)
	require.Equal(t, "order_abc", intent.ID)
	require.Equal(t, "rzp_test_key", intent.PublicKey)
	require.Equal(t, 2500, intent.AmountCents)
}

func TestRazorpayCreateIntentErrors(t *testing.T) {
	rp := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`))
	})
	_, err := rp.CreateIntent(context.Background(), CreateIntentInput{AmountCents: 1, Currency: "INR", Receipt: "r"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeGatewayError))

	down := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err = down.CreateIntent(context.Background(), CreateIntentInput{AmountCents: 100, Currency: "INR", Receipt: "r"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeGatewayUnavailable))

	_, err = down.CreateIntent(context.Background(), CreateIntentInput{AmountCents: 0, Currency: "INR", Receipt: "r"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestRazorpayCreateIntentTimeout(t *testing.T) {
	rp := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := rp.CreateIntent(ctx, CreateIntentInput{AmountCents: 100, Currency: "INR", Receipt: "r"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeGatewayUnavailable))
}

func TestRazorpayRefund(t *testing.T) {
	rp := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/pay_1/refund", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.EqualValues(t, 1500, body["amount"])
		_, _ = w.Write([]byte(`{"id":"rfnd_1","amount":1500,"status":"processed"}`))
	})

	refund, err := rp.Refund(context.Background(), RefundInput{PaymentID: "pay_1", AmountCents: 1500})
	require.NoError(t, err)
	require.Equal(t, "rfnd_1", refund.ID)
}

func TestSplitNotes(t *testing.T) {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = strings.Repeat(string(rune('a'+i)), 36)
	}
	notes := splitNotes(map[string]string{"order_ids": strings.Join(ids, ","), "payment_group_id": "grp"})

	require.Equal(t, "grp", notes["payment_group_id"])
	var rebuilt []string
	for _, key := range []string{"order_ids", "order_ids_2", "order_ids_3"} {
		if v, ok := notes[key]; ok {
			require.LessOrEqual(t, len(v), razorpayNoteMaxLen)
			rebuilt = append(rebuilt, v)
		}
	}
	require.Equal(t, strings.Join(ids, ","), strings.Join(rebuilt, ","))
	require.Nil(t, splitNotes(nil))
}

func TestNewRazorpayRequiresKeys(t *testing.T) {
	_, err := NewRazorpay(config.RazorpayConfig{BaseURL: "https://api.razorpay.com"}, nil)
	require.Error(t, err)
}
