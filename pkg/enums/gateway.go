package enums

import (
	"fmt"
	"strings"
)

// Gateway names a payment provider binding.
type Gateway string

const (
	// GatewayRazorpay is the card/UPI gateway with HMAC-signed client callbacks.
	GatewayRazorpay Gateway = "razorpay"
	// GatewayStripe is the redirect gateway verified through a session lookup.
	GatewayStripe Gateway = "stripe"
)

var validGateways = []Gateway{GatewayRazorpay, GatewayStripe}

func (g Gateway) String() string {
	return string(g)
}

func (g Gateway) IsValid() bool {
	for _, candidate := range validGateways {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGateway is case-insensitive; empty input selects razorpay.
func ParseGateway(value string) (Gateway, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return GatewayRazorpay, nil
	}
	for _, candidate := range validGateways {
		if string(candidate) == v {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway %q", value)
}
