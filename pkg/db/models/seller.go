package models

import (
	"time"

	"github.com/google/uuid"
)

// Seller owns products and receives payouts.
type Seller struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name            string    `gorm:"column:name;not null"`
	Email           string    `gorm:"column:email;not null"`
	PayoutAccountID *string   `gorm:"column:payout_account_id"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
