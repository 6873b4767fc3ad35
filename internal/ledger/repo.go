package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

// ErrDuplicateEntry reports that a row for the same (type, transaction, order)
// already exists. Callers treat it as an already-applied event.
var ErrDuplicateEntry = errors.New("ledger entry already recorded")

// Repository manages persistence for payment ledger rows. Rows are never
// deleted; only Status changes after insert.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByOrderAndType(ctx context.Context, orderID uuid.UUID, paymentType enums.PaymentType) (*models.Payment, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	UpdateStatus(ctx context.Context, paymentID uuid.UUID, status enums.LedgerStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	if err := validate(payment); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		if db.IsUniqueViolation(err, models.PaymentTxnUniqueIndex) || db.IsUniqueViolation(err, "ux_payments_order_type") {
			return ErrDuplicateEntry
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger entry")
	}
	return nil
}

func (r *repository) FindByOrderAndType(ctx context.Context, orderID uuid.UUID, paymentType enums.PaymentType) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND type = ?", orderID, paymentType).
		Order("created_at ASC").
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found").
				WithDetails(map[string]any{"order_id": orderID, "type": paymentType})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	return &payment, nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&payments).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return payments, nil
}

func (r *repository) UpdateStatus(ctx context.Context, paymentID uuid.UUID, status enums.LedgerStatus) error {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Update("status", status)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update ledger status")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found")
	}
	return nil
}

func validate(payment *models.Payment) error {
	if payment == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger entry required")
	}
	if payment.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !payment.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid ledger entry type "+string(payment.Type))
	}
	if payment.TransactionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if payment.AmountCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	if payment.Status == "" {
		payment.Status = enums.LedgerStatusCompleted
	}
	return nil
}
