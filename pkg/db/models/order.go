package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// Order is never deleted; it is the audit trail of what was promised to the buyer.
// Orders created by one checkout share PaymentGroupID and ProviderIntentID.
type Order struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID              uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	SellerID            uuid.UUID           `gorm:"column:seller_id;type:uuid;not null;index"`
	PaymentGroupID      uuid.UUID           `gorm:"column:payment_group_id;type:uuid;not null;index"`
	Gateway             enums.Gateway       `gorm:"column:gateway;type:text;not null"`
	ProviderIntentID    *string             `gorm:"column:provider_intent_id;index"`
	ProviderPaymentID   *string             `gorm:"column:provider_payment_id"`
	PriceCents          int                 `gorm:"column:price_cents;not null"`
	MRPCents            int                 `gorm:"column:mrp_cents;not null"`
	Currency            string              `gorm:"column:currency;not null"`
	PaymentStatus       enums.PaymentStatus `gorm:"column:payment_status;type:text;not null"`
	OrderStatus         enums.OrderStatus   `gorm:"column:order_status;type:text;not null"`
	SellerPaid          bool                `gorm:"column:seller_paid;not null;default:false"`
	PaidAt              *time.Time          `gorm:"column:paid_at"`
	DeliveredAt         *time.Time          `gorm:"column:delivered_at"`
	RefundEligibleUntil *time.Time          `gorm:"column:refund_eligible_until"`
	CanceledAt          *time.Time          `gorm:"column:canceled_at"`
	LineItems           []OrderLineItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:RESTRICT"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderLineItem snapshots the product at checkout. Later catalog price
// changes never touch these rows.
type OrderLineItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Title          string    `gorm:"column:title;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	UnitPriceCents int       `gorm:"column:unit_price_cents;not null"`
	UnitMRPCents   int       `gorm:"column:unit_mrp_cents;not null"`
	TotalCents     int       `gorm:"column:total_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
