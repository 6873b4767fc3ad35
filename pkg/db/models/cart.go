package models

import (
	"time"

	"github.com/google/uuid"
)

// Cart is owned by the cart service; there is at most one per user.
type Cart struct {
	ID        uuid.UUID   `gorm:"column:id;type:uuid;primaryKey"`
	UserID    uuid.UUID   `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	Entries   []CartEntry `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

type CartEntry struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CartID    uuid.UUID `gorm:"column:cart_id;type:uuid;not null;index"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Quantity  int       `gorm:"column:quantity;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
