package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/tracing"
)

const (
	razorpayNoteMaxLen = 256
	razorpayMaxNotes   = 15
)

// Sign computes the callback signature: hex(HMAC-SHA256(secret, intentID|paymentID)).
func Sign(intentID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(intentID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. It has no side effects.
func VerifySignature(intentID, paymentID, signature, secret string) bool {
	expected := Sign(intentID, paymentID, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// Razorpay speaks the Razorpay orders/payments REST API.
type Razorpay struct {
	keyID     string
	keySecret string
	baseURL   string
	http      *http.Client
	tracer    *tracing.Tracer
}

func NewRazorpay(cfg config.RazorpayConfig, httpClient *http.Client) (*Razorpay, error) {
	if !cfg.Enabled() {
		return nil, errors.New("razorpay key id and secret are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid razorpay base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Razorpay{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   base,
		http:      httpClient,
		tracer:    tracing.New("gateway.razorpay"),
	}, nil
}

func (r *Razorpay) Name() enums.Gateway {
	return enums.GatewayRazorpay
}

type razorpayOrderRequest struct {
	Amount   int               `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayRefund struct {
	ID     string `json:"id"`
	Amount int    `json:"amount"`
	Status string `json:"status"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (r *Razorpay) CreateIntent(ctx context.Context, input CreateIntentInput) (intent *Intent, err error) {
	ctx, span := r.tracer.Start(ctx, "razorpay.create_order",
		attribute.Int("amount", input.AmountCents),
		attribute.String("receipt", input.Receipt),
	)
	defer func() { tracing.End(span, err) }()

	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	body := razorpayOrderRequest{
		Amount:   input.AmountCents,
		Currency: strings.ToUpper(input.Currency),
		Receipt:  input.Receipt,
		Notes:    splitNotes(input.Notes),
	}
	var order razorpayOrder
	if err := r.do(ctx, http.MethodPost, "/v1/orders", body, &order); err != nil {
		return nil, err
	}
	return &Intent{
		ID:          order.ID,
		Gateway:     enums.GatewayRazorpay,
		AmountCents: order.Amount,
		Currency:    order.Currency,
		Receipt:     order.Receipt,
		PublicKey:   r.keyID,
	}, nil
}

// Verify checks the client-reported signature against the key secret. No
// network call is made.
func (r *Razorpay) Verify(ctx context.Context, confirmation Confirmation) (*VerifiedPayment, error) {
	_, span := r.tracer.Start(ctx, "razorpay.verify", attribute.String("intent_id", confirmation.IntentID))
	defer span.End()

	if confirmation.IntentID == "" || confirmation.PaymentID == "" || confirmation.Signature == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id, payment id and signature are required")
	}
	if !VerifySignature(confirmation.IntentID, confirmation.PaymentID, confirmation.Signature, r.keySecret) {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "payment signature mismatch")
	}
	return &VerifiedPayment{IntentID: confirmation.IntentID, PaymentID: confirmation.PaymentID}, nil
}

func (r *Razorpay) Refund(ctx context.Context, input RefundInput) (refund *Refund, err error) {
	ctx, span := r.tracer.Start(ctx, "razorpay.refund", attribute.String("payment_id", input.PaymentID))
	defer func() { tracing.End(span, err) }()

	if input.PaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	body := map[string]any{}
	if input.AmountCents > 0 {
		body["amount"] = input.AmountCents
	}
	if input.IdempotencyKey != "" {
		body["receipt"] = input.IdempotencyKey
	}
	var out razorpayRefund
	if err := r.do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(input.PaymentID)+"/refund", body, &out); err != nil {
		return nil, err
	}
	return &Refund{ID: out.ID, AmountCents: out.Amount}, nil
}

func (r *Razorpay) do(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.SetBasicAuth(r.keyID, r.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return classify(err, "razorpay request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classify(err, "read razorpay response")
	}
	if resp.StatusCode >= 300 {
		var apiErr razorpayError
		_ = json.Unmarshal(raw, &apiErr)
		code := pkgerrors.CodeGatewayError
		if resp.StatusCode >= 500 {
			code = pkgerrors.CodeGatewayUnavailable
		}
		return pkgerrors.New(code, "razorpay rejected request").WithDetails(map[string]any{
			"status":      resp.StatusCode,
			"code":        apiErr.Error.Code,
			"description": apiErr.Error.Description,
		})
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayError, err, "decode razorpay response")
	}
	return nil
}

// splitNotes enforces the provider's note limits, spilling long values into
// numbered keys (order_ids, order_ids_2, ...).
func splitNotes(notes map[string]string) map[string]string {
	if len(notes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(notes))
	for k := range notes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := map[string]string{}
	for _, key := range keys {
		value := notes[key]
		for part := 1; value != "" && len(out) < razorpayMaxNotes; part++ {
			chunk := value
			if len(chunk) > razorpayNoteMaxLen {
				cut := strings.LastIndex(chunk[:razorpayNoteMaxLen], ",")
				if cut <= 0 {
					cut = razorpayNoteMaxLen
				}
				chunk = chunk[:cut]
			}
			name := key
			if part > 1 {
				name = key + "_" + strconv.Itoa(part)
			}
			out[name] = chunk
			value = strings.TrimPrefix(value[len(chunk):], ",")
		}
	}
	return out
}
