package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the catalog listing. Only Quantity is written by this service.
type Product struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SellerID   uuid.UUID `gorm:"column:seller_id;type:uuid;not null;index"`
	Title      string    `gorm:"column:title;not null"`
	PriceCents int       `gorm:"column:price_cents;not null"`
	MRPCents   int       `gorm:"column:mrp_cents;not null"`
	Quantity   int       `gorm:"column:quantity;not null;default:0"`
	IsActive   bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
