package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

// Repository defines persistence operations for orders and their line items.
// Status writes are compare-and-set: they name the state they expect and
// report how many rows actually moved.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	SetProviderIntent(ctx context.Context, paymentGroupID uuid.UUID, intentID string) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByIntentForUpdate(ctx context.Context, intentID string) ([]models.Order, error)
	FindByPaymentGroupForUpdate(ctx context.Context, paymentGroupID uuid.UUID) ([]models.Order, error)
	MarkGroupPaid(ctx context.Context, intentID, paymentID string, paidAt time.Time) (int64, error)
	Transition(ctx context.Context, orderID uuid.UUID, from, to State, updates map[string]any) (bool, error)
	FindPayoutCandidates(ctx context.Context, now time.Time, after *PayoutCursor, limit int) ([]models.Order, error)
	MarkSellerPaid(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order together with its line items.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return nil
}

func (r *repository) SetProviderIntent(ctx context.Context, paymentGroupID uuid.UUID, intentID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("payment_group_id = ?", paymentGroupID).
		Update("provider_intent_id", intentID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "attach provider intent")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment group not found")
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, r.db, orderID)
}

// FindByIDForUpdate row-locks the order for the rest of the transaction.
func (r *repository) FindByIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, r.db.Clauses(clause.Locking{Strength: "UPDATE"}), orderID)
}

func (r *repository) findOne(ctx context.Context, db *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := db.WithContext(ctx).
		Preload("LineItems").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &order, nil
}

// FindByIntentForUpdate loads and locks every order created for one provider intent.
func (r *repository) FindByIntentForUpdate(ctx context.Context, intentID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("LineItems").
		Where("provider_intent_id = ?", intentID).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load orders for intent")
	}
	return orders, nil
}

func (r *repository) FindByPaymentGroupForUpdate(ctx context.Context, paymentGroupID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("LineItems").
		Where("payment_group_id = ?", paymentGroupID).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment group")
	}
	return orders, nil
}

// MarkGroupPaid moves every still-pending order of the intent to Paid/OrderPlaced.
func (r *repository) MarkGroupPaid(ctx context.Context, intentID, paymentID string, paidAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("provider_intent_id = ? AND payment_status = ? AND order_status = ?",
			intentID, StatePending.Payment, StatePending.Order).
		Updates(map[string]any{
			"payment_status":      StatePlaced.Payment,
			"order_status":        StatePlaced.Order,
			"provider_payment_id": paymentID,
			"paid_at":             paidAt,
		})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark orders paid")
	}
	return res.RowsAffected, nil
}

// Transition applies to plus updates only if the row is still in from.
func (r *repository) Transition(ctx context.Context, orderID uuid.UUID, from, to State, updates map[string]any) (bool, error) {
	values := map[string]any{
		"payment_status": to.Payment,
		"order_status":   to.Order,
	}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ? AND order_status = ?", orderID, from.Payment, from.Order).
		Updates(values)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update order status")
	}
	return res.RowsAffected == 1, nil
}

// PayoutCursor is the (refund_eligible_until, id) of the last candidate a
// sweep has already seen.
type PayoutCursor struct {
	EligibleUntil time.Time
	ID            uuid.UUID
}

// CursorAfter positions a cursor just past order.
func CursorAfter(order *models.Order) *PayoutCursor {
	c := &PayoutCursor{ID: order.ID}
	if order.RefundEligibleUntil != nil {
		c.EligibleUntil = *order.RefundEligibleUntil
	}
	return c
}

// FindPayoutCandidates selects delivered, unpaid-to-seller orders whose refund
// window closed strictly before now, in (refund_eligible_until, id) order and
// strictly after the cursor when one is given.
func (r *repository) FindPayoutCandidates(ctx context.Context, now time.Time, after *PayoutCursor, limit int) ([]models.Order, error) {
	var orders []models.Order
	q := r.db.WithContext(ctx).
		Where("order_status = ? AND refund_eligible_until < ? AND seller_paid = ?",
			enums.OrderStatusDelivered, now, false)
	if after != nil {
		q = q.Where("(refund_eligible_until > ? OR (refund_eligible_until = ? AND id > ?))",
			after.EligibleUntil, after.EligibleUntil, after.ID)
	}
	q = q.Order("refund_eligible_until ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout candidates")
	}
	return orders, nil
}

func (r *repository) MarkSellerPaid(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND seller_paid = ?", orderID, false).
		Update("seller_paid", true)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark seller paid")
	}
	return res.RowsAffected == 1, nil
}
