package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// LineItemDTO is the API view of one purchased product.
type LineItemDTO struct {
	ProductID      uuid.UUID `json:"product_id"`
	Title          string    `json:"title"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int       `json:"unit_price_cents"`
	UnitMRPCents   int       `json:"unit_mrp_cents"`
	TotalCents     int       `json:"total_cents"`
}

// OrderDTO is the API view of an order.
type OrderDTO struct {
	ID                  uuid.UUID           `json:"id"`
	UserID              uuid.UUID           `json:"user_id"`
	SellerID            uuid.UUID           `json:"seller_id"`
	PaymentGroupID      uuid.UUID           `json:"payment_group_id"`
	Gateway             enums.Gateway       `json:"gateway"`
	ProviderIntentID    *string             `json:"provider_intent_id,omitempty"`
	PriceCents          int                 `json:"price_cents"`
	MRPCents            int                 `json:"mrp_cents"`
	Currency            string              `json:"currency"`
	PaymentStatus       enums.PaymentStatus `json:"payment_status"`
	OrderStatus         enums.OrderStatus   `json:"order_status"`
	SellerPaid          bool                `json:"seller_paid"`
	PaidAt              *time.Time          `json:"paid_at,omitempty"`
	DeliveredAt         *time.Time          `json:"delivered_at,omitempty"`
	RefundEligibleUntil *time.Time          `json:"refund_eligible_until,omitempty"`
	CanceledAt          *time.Time          `json:"canceled_at,omitempty"`
	LineItems           []LineItemDTO       `json:"line_items"`
	CreatedAt           time.Time           `json:"created_at"`
}

func NewOrderDTO(order *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:                  order.ID,
		UserID:              order.UserID,
		SellerID:            order.SellerID,
		PaymentGroupID:      order.PaymentGroupID,
		Gateway:             order.Gateway,
		ProviderIntentID:    order.ProviderIntentID,
		PriceCents:          order.PriceCents,
		MRPCents:            order.MRPCents,
		Currency:            order.Currency,
		PaymentStatus:       order.PaymentStatus,
		OrderStatus:         order.OrderStatus,
		SellerPaid:          order.SellerPaid,
		PaidAt:              order.PaidAt,
		DeliveredAt:         order.DeliveredAt,
		RefundEligibleUntil: order.RefundEligibleUntil,
		CanceledAt:          order.CanceledAt,
		LineItems:           make([]LineItemDTO, 0, len(order.LineItems)),
		CreatedAt:           order.CreatedAt,
	}
	for _, item := range order.LineItems {
		dto.LineItems = append(dto.LineItems, LineItemDTO{
			ProductID:      item.ProductID,
			Title:          item.Title,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			UnitMRPCents:   item.UnitMRPCents,
			TotalCents:     item.TotalCents,
		})
	}
	return dto
}

// Actor is the authenticated caller acting on an order.
type Actor struct {
	UserID   uuid.UUID
	SellerID *uuid.UUID
	Role     enums.Role
}

// IsBuyerOf reports whether the actor placed the order.
func (a Actor) IsBuyerOf(order *models.Order) bool {
	return a.UserID != uuid.Nil && order.UserID == a.UserID
}

// IsSellerOf reports whether the actor sells the ordered products.
func (a Actor) IsSellerOf(order *models.Order) bool {
	return a.Role == enums.RoleSeller && a.SellerID != nil && *a.SellerID == order.SellerID
}
