package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// PaymentTxnUniqueIndex backs duplicate callback detection.
const PaymentTxnUniqueIndex = "ux_payments_type_txn_order"

// Payment is an append-only ledger row, one per financial event. Only Status
// is updated after insert.
type Payment struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Type          enums.PaymentType  `gorm:"column:type;type:text;not null;uniqueIndex:ux_payments_type_txn_order,priority:1"`
	OrderID       uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index;uniqueIndex:ux_payments_type_txn_order,priority:3"`
	UserID        *uuid.UUID         `gorm:"column:user_id;type:uuid"`
	SellerID      *uuid.UUID         `gorm:"column:seller_id;type:uuid"`
	AmountCents   int                `gorm:"column:amount_cents;not null"`
	Currency      string             `gorm:"column:currency;not null"`
	Gateway       enums.Gateway      `gorm:"column:gateway;type:text;not null"`
	TransactionID string             `gorm:"column:transaction_id;not null;uniqueIndex:ux_payments_type_txn_order,priority:2"`
	RelatedID     *uuid.UUID         `gorm:"column:related_payment_id;type:uuid"`
	Status        enums.LedgerStatus `gorm:"column:status;type:text;not null"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
