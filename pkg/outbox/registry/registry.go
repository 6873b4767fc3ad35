// Package registry routes outbox rows to Pub/Sub topics and decodes their
// typed payloads.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	routes   map[enums.OutboxEventType]EventDescriptor
	topics   []string
	validate *validator.Validate
}

func route[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      event,
		AggregateType:  aggregate,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

// NewEventRegistry routes order lifecycle events to the orders topic and
// seller payouts to the payouts topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.OrdersTopic == "":
		return nil, errors.New("orders topic is required")
	case cfg.PayoutsTopic == "":
		return nil, errors.New("payouts topic is required")
	}
	orders, payouts := cfg.OrdersTopic, cfg.PayoutsTopic
	table := []EventDescriptor{
		route[payloads.OrderCreatedEvent](enums.EventOrderCreated, enums.AggregatePaymentGroup, orders),
		route[payloads.OrderPaidEvent](enums.EventOrderPaid, enums.AggregatePaymentGroup, orders),
		route[payloads.OrderCanceledEvent](enums.EventOrderCanceled, enums.AggregateOrder, orders),
		route[payloads.OrderRefundedEvent](enums.EventOrderRefunded, enums.AggregateOrder, orders),
		route[payloads.OrderDeliveredEvent](enums.EventOrderDelivered, enums.AggregateOrder, orders),
		route[payloads.SellerPayoutRecordedEvent](enums.EventSellerPayoutRecorded, enums.AggregateOrder, payouts),
	}

	reg := &EventRegistry{
		routes:   make(map[enums.OutboxEventType]EventDescriptor, len(table)),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, desc := range table {
		reg.routes[desc.EventType] = desc
		if !slices.Contains(reg.topics, desc.Topic) {
			reg.topics = append(reg.topics, desc.Topic)
		}
	}
	return reg, nil
}

// Topics lists the distinct destination topics in routing order.
func (r *EventRegistry) Topics() []string {
	return slices.Clone(r.topics)
}

// Resolve decodes a row into its typed payload. Every failure is
// NonRetryableError: the row content will not change on retry.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.routes[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("%s expects aggregate %s, row has %s", event.EventType, desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("%s has no data", event.EventType))
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s data: %w", event.EventType, err))
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("invalid %s data: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
