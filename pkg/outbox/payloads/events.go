package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// OrderCreatedEvent is emitted once per checkout, covering every order in the group.
type OrderCreatedEvent struct {
	PaymentGroupID   uuid.UUID     `json:"payment_group_id" validate:"required"`
	OrderIDs         []uuid.UUID   `json:"order_ids" validate:"required,min=1"`
	UserID           uuid.UUID     `json:"user_id"`
	Gateway          enums.Gateway `json:"gateway"`
	ProviderIntentID string        `json:"provider_intent_id"`
	TotalCents       int           `json:"total_cents"`
	Currency         string        `json:"currency"`
}

// OrderPaidEvent is emitted when a verified payment finalizes a group.
type OrderPaidEvent struct {
	PaymentGroupID    uuid.UUID     `json:"payment_group_id" validate:"required"`
	OrderIDs          []uuid.UUID   `json:"order_ids" validate:"required,min=1"`
	Gateway           enums.Gateway `json:"gateway"`
	ProviderPaymentID string        `json:"provider_payment_id"`
	TotalCents        int           `json:"total_cents"`
	PaidAt            time.Time     `json:"paid_at"`
}

// OrderCanceledEvent covers unpaid cancellations.
type OrderCanceledEvent struct {
	OrderID    uuid.UUID `json:"order_id" validate:"required"`
	UserID     uuid.UUID `json:"user_id"`
	CanceledAt time.Time `json:"canceled_at"`
}

// OrderRefundedEvent covers paid orders reversed at the provider.
type OrderRefundedEvent struct {
	OrderID       uuid.UUID     `json:"order_id" validate:"required"`
	UserID        uuid.UUID     `json:"user_id"`
	Gateway       enums.Gateway `json:"gateway"`
	RefundID      string        `json:"refund_id" validate:"required"`
	OriginalTxnID string        `json:"original_transaction_id"`
	AmountCents   int           `json:"amount_cents"`
	RestoredUnits int           `json:"restored_units"`
	RefundedAt    time.Time     `json:"refunded_at"`
}

type OrderDeliveredEvent struct {
	OrderID             uuid.UUID `json:"order_id" validate:"required"`
	SellerID            uuid.UUID `json:"seller_id"`
	DeliveredAt         time.Time `json:"delivered_at"`
	RefundEligibleUntil time.Time `json:"refund_eligible_until"`
}

type SellerPayoutRecordedEvent struct {
	OrderID     uuid.UUID `json:"order_id" validate:"required"`
	SellerID    uuid.UUID `json:"seller_id" validate:"required"`
	TransferID  string    `json:"transfer_id" validate:"required"`
	AmountCents int       `json:"amount_cents"`
	FeeCents    int       `json:"fee_cents"`
	Currency    string    `json:"currency"`
}
