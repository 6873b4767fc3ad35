package stripe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
)

func testConfig() config.StripeConfig {
	return config.StripeConfig{
		Env:           "test",
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_123",
		Timeout:       time.Second,
	}
}

func TestKeyMode(t *testing.T) {
	require.Equal(t, modeTest, keyMode("sk_test_abc"))
	require.Equal(t, modeTest, keyMode("rk_test_abc"))
	require.Equal(t, modeLive, keyMode("sk_live_abc"))
	require.Equal(t, "unrecognized", keyMode("pk_test_abc"))
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Env = "staging"
	_, err := NewClient(ctx, cfg, nil)
	require.ErrorIs(t, err, errUnknownMode)

	cfg = testConfig()
	cfg.SecretKey = ""
	_, err = NewClient(ctx, cfg, nil)
	require.ErrorIs(t, err, errAPIKeyRequired)

	cfg = testConfig()
	cfg.WebhookSecret = " "
	_, err = NewClient(ctx, cfg, nil)
	require.ErrorIs(t, err, errSecretRequired)

	cfg = testConfig()
	cfg.Env = "live"
	_, err = NewClient(ctx, cfg, nil)
	require.ErrorContains(t, err, "does not accept a test key")
}

func TestVerifyEvent(t *testing.T) {
	c, err := NewClient(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	require.Equal(t, "test", c.Environment())

	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_123",
		Timestamp: time.Now(),
	})

	event, err := c.VerifyEvent(payload, signed.Header)
	require.NoError(t, err)
	require.Equal(t, "evt_1", event.ID)

	_, err = c.VerifyEvent(payload, "t=1,v1=bad")
	require.Error(t, err)
}
