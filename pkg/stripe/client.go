// Package stripe owns the configured stripe-go API client and webhook
// signature verification.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

const (
	modeTest = "test"
	modeLive = "live"
)

var (
	errAPIKeyRequired = errors.New("stripe secret key is required")
	errSecretRequired = errors.New("stripe webhook secret is required")
	errUnknownMode    = fmt.Errorf("stripe environment must be %q or %q", modeTest, modeLive)
)

// Client is a per-instance stripe-go API; nothing touches stripe.Key.
type Client struct {
	api           *client.API
	mode          string
	signingSecret string
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode := cfg.Environment()
	if mode != modeTest && mode != modeLive {
		return nil, errUnknownMode
	}
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	if keyMode(key) != mode {
		return nil, fmt.Errorf("stripe environment %q does not accept a %s key", mode, keyMode(key))
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}

	var backends *stripe.Backends
	if cfg.Timeout > 0 {
		backends = stripe.NewBackends(&http.Client{Timeout: cfg.Timeout})
	}
	api := &client.API{}
	api.Init(key, backends)

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", mode), "stripe client initialized")
	}
	return &Client{api: api, mode: mode, signingSecret: secret}, nil
}

// keyMode classifies secret (sk_) and restricted (rk_) keys.
func keyMode(key string) string {
	for _, prefix := range []string{"sk_", "rk_"} {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(rest, modeTest):
			return modeTest
		case strings.HasPrefix(rest, modeLive):
			return modeLive
		}
	}
	return "unrecognized"
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.mode
}

// VerifyEvent checks the Stripe-Signature header and decodes the event.
// Events from other API versions are accepted; handlers read the raw object.
func (c *Client) VerifyEvent(payload []byte, header string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, header, c.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func (c *Client) NewSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.api.CheckoutSessions.New(params)
}

func (c *Client) GetSession(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.api.CheckoutSessions.Get(id, params)
}

func (c *Client) NewRefund(params *stripe.RefundParams) (*stripe.Refund, error) {
	return c.api.Refunds.New(params)
}

func (c *Client) NewTransfer(params *stripe.TransferParams) (*stripe.Transfer, error) {
	return c.api.Transfers.New(params)
}
