package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/instance"
)

type claimStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	IdempotencyKey(scope, id string) string
}

// EventGuard dedupes Stripe deliveries by event id. Stripe retries for days,
// so the claim outlives a single delivery by the configured TTL.
type EventGuard struct {
	store claimStore
	ttl   time.Duration
	scope string
	owner string
}

func NewEventGuard(store claimStore, ttl time.Duration, scope string) (*EventGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("claim store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	case scope == "":
		return nil, errors.New("scope is required")
	}
	return &EventGuard{store: store, ttl: ttl, scope: scope, owner: instance.ID()}, nil
}

// Claim reports false when the event is already claimed.
func (g *EventGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	won, err := g.store.SetNX(ctx, g.key(eventID), g.owner, g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", eventID, err)
	}
	return won, nil
}

// Release drops this instance's claim so Stripe's next retry is handled.
// A claim held by another instance is left in place.
func (g *EventGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	if _, err := g.store.CompareAndDelete(ctx, g.key(eventID), g.owner); err != nil {
		return fmt.Errorf("release %s: %w", eventID, err)
	}
	return nil
}

func (g *EventGuard) key(eventID string) string {
	return g.store.IdempotencyKey(g.scope, eventID)
}
