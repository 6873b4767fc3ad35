package instance

import (
	"os"
	"strings"
)

// ID names the running process for lock ownership and logs.
// FULFILLMENT_INSTANCE_ID wins, then the hostname (the pod name on k8s/Cloud Run).
func ID() string {
	if id := strings.TrimSpace(os.Getenv("FULFILLMENT_INSTANCE_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
