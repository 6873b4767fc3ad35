package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/internal/gateway"
	"github.com/angelmondragon/marketplace-fulfillment/internal/inventory"
	"github.com/angelmondragon/marketplace-fulfillment/internal/ledger"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type gatewayResolver interface {
	Get(name enums.Gateway) (gateway.Adapter, error)
}

// errAlreadyApplied unwinds the transaction when a concurrent confirmation
// won the race.
var errAlreadyApplied = errors.New("payment already applied")

// ErrGroupSettled marks a confirmation for a payment group that was already
// cancelled or paid by a different payment. Redelivering it cannot succeed.
var ErrGroupSettled = errors.New("payment group already settled")

// Reconciler finalizes orders once the provider vouches for a payment.
type Reconciler interface {
	Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error)
}

// ConfirmInput is the client callback or webhook payload. Gateway A sends
// PaymentID and Signature; gateway B sends SessionID.
type ConfirmInput struct {
	Gateway   enums.Gateway
	IntentID  string
	PaymentID string
	Signature string
	SessionID string
}

type ConfirmResult struct {
	PaymentGroupID   uuid.UUID         `json:"payment_group_id"`
	PaymentID        string            `json:"payment_id"`
	AlreadyConfirmed bool              `json:"already_confirmed"`
	Orders           []orders.OrderDTO `json:"orders"`
}

// ReconcilerParams wires the reconciler.
type ReconcilerParams struct {
	Tx            txRunner
	Orders        orders.Repository
	Inventory     inventory.Repository
	Ledger        ledger.Repository
	Gateways      gatewayResolver
	Outbox        outboxPublisher
	Logger        *logger.Logger
	Metrics       *metrics.PaymentMetrics
	VerifyTimeout time.Duration
	Now           func() time.Time
}

type reconciler struct {
	tx            txRunner
	orders        orders.Repository
	inventory     inventory.Repository
	ledger        ledger.Repository
	gateways      gatewayResolver
	outbox        outboxPublisher
	logg          *logger.Logger
	metrics       *metrics.PaymentMetrics
	verifyTimeout time.Duration
	now           func() time.Time
}

func NewReconciler(params ReconcilerParams) (Reconciler, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Gateways == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.VerifyTimeout <= 0 {
		return nil, fmt.Errorf("verify timeout must be positive")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &reconciler{
		tx:            params.Tx,
		orders:        params.Orders,
		inventory:     params.Inventory,
		ledger:        params.Ledger,
		gateways:      params.Gateways,
		outbox:        params.Outbox,
		logg:          logg,
		metrics:       params.Metrics,
		verifyTimeout: params.VerifyTimeout,
		now:           now,
	}, nil
}

// Confirm runs verify -> order CAS -> inventory -> ledger. Nothing is written
// unless the provider verified the payment, and the writes commit together.
// A repeated confirmation for the same payment is a no-op.
func (r *reconciler) Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	if input.IntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	adapter, err := r.gateways.Get(input.Gateway)
	if err != nil {
		return nil, err
	}
	gw := adapter.Name().String()
	ctx = r.logg.WithFields(ctx, map[string]any{"intent_id": input.IntentID, "gateway": gw})

	verified, err := r.verify(ctx, adapter, input)
	if err != nil {
		outcome := metrics.OutcomeRejected
		if pkgerrors.Is(err, pkgerrors.CodeConfirmFailed) {
			outcome = metrics.OutcomeFailed
		}
		r.metrics.IncConfirmation(gw, outcome)
		return nil, err
	}
	ctx = r.logg.WithField(ctx, "payment_id", verified.PaymentID)

	var result *ConfirmResult
	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		res, terr := r.finalize(ctx, tx, adapter.Name(), verified)
		result = res
		return terr
	})
	switch {
	case err == nil && result.AlreadyConfirmed:
		r.metrics.IncConfirmation(gw, metrics.OutcomeDuplicate)
		r.logg.Info(ctx, "payment.duplicate")
		return result, nil
	case err == nil:
		r.metrics.IncConfirmation(gw, metrics.OutcomeSuccess)
		r.logg.Info(ctx, "payment.confirmed")
		return result, nil
	case errors.Is(err, errAlreadyApplied):
		result, err = r.loadConfirmed(ctx, verified)
		if err == nil {
			r.metrics.IncConfirmation(gw, metrics.OutcomeDuplicate)
			r.logg.Info(ctx, "payment.duplicate")
			return result, nil
		}
	}

	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeNotFound, pkgerrors.CodeValidation, pkgerrors.CodeSignatureInvalid:
		r.metrics.IncConfirmation(gw, metrics.OutcomeRejected)
		return nil, err
	case pkgerrors.CodeConfirmFailed:
	default:
		err = pkgerrors.Wrap(pkgerrors.CodeConfirmFailed, err, "payment verified but orders could not be finalized")
	}
	r.metrics.IncConfirmation(gw, metrics.OutcomeFailed)
	r.logg.Incident(ctx, "payment.confirm_failed", err)
	return nil, err
}

func (r *reconciler) verify(ctx context.Context, adapter gateway.Adapter, input ConfirmInput) (*gateway.VerifiedPayment, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.verifyTimeout)
	defer cancel()

	verified, err := adapter.Verify(callCtx, gateway.Confirmation{
		IntentID:  input.IntentID,
		PaymentID: input.PaymentID,
		Signature: input.Signature,
		SessionID: input.SessionID,
	})
	if err != nil {
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeSignatureInvalid:
			r.logg.Warn(ctx, "payment.verify rejected: signature invalid")
			return nil, err
		case pkgerrors.CodeValidation, pkgerrors.CodeInvalidState:
			r.logg.Warn(ctx, "payment.verify rejected: "+err.Error())
			return nil, err
		default:
			r.logg.Error(ctx, "payment.verify failed", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeConfirmFailed, err, "payment could not be verified with the gateway")
		}
	}
	if verified == nil || verified.PaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeConfirmFailed, "gateway returned no payment reference")
	}
	if verified.IntentID == "" {
		verified.IntentID = input.IntentID
	}
	r.logg.Info(ctx, "payment.verify ok")
	return verified, nil
}

func (r *reconciler) finalize(ctx context.Context, tx *gorm.DB, gw enums.Gateway, verified *gateway.VerifiedPayment) (*ConfirmResult, error) {
	ordersRepo := r.orders.WithTx(tx)
	group, err := ordersRepo.FindByIntentForUpdate(ctx, verified.IntentID)
	if err != nil {
		return nil, err
	}
	if len(group) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no orders for payment intent")
	}
	ctx = r.logg.WithPaymentGroupID(ctx, group[0].PaymentGroupID.String())
	if group[0].Gateway != gw {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent belongs to a different gateway")
	}

	pending, total, alreadyPaid := 0, 0, 0
	for i := range group {
		total += group[i].PriceCents
		switch {
		case orders.StateOf(&group[i]) == orders.StatePending:
			pending++
		case group[i].ProviderPaymentID != nil && *group[i].ProviderPaymentID == verified.PaymentID:
			alreadyPaid++
		}
	}
	if alreadyPaid == len(group) {
		return buildResult(group, verified.PaymentID, true), nil
	}
	if pending != len(group) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfirmFailed, ErrGroupSettled, "payment group is no longer awaiting payment").
			WithDetails(map[string]any{"orders": len(group), "pending": pending})
	}
	if verified.AmountCents > 0 && verified.AmountCents != total {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "paid amount does not match orders").
			WithDetails(map[string]any{"paid": verified.AmountCents, "expected": total})
	}

	paidAt := r.now().UTC()
	moved, err := ordersRepo.MarkGroupPaid(ctx, verified.IntentID, verified.PaymentID, paidAt)
	if err != nil {
		return nil, err
	}
	if moved == 0 {
		return nil, errAlreadyApplied
	}
	if int(moved) != len(group) {
		return nil, pkgerrors.New(pkgerrors.CodeConfirmFailed, "payment group changed while confirming")
	}
	r.logg.Info(ctx, "payment.order_cas ok")

	inventoryRepo := r.inventory.WithTx(tx)
	for _, order := range group {
		for _, item := range order.LineItems {
			if err := inventoryRepo.DecrementIfAvailable(ctx, item.ProductID, item.Quantity); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeConfirmFailed, err, "inventory could not be decremented").
					WithDetails(map[string]any{"order_id": order.ID, "product_id": item.ProductID, "quantity": item.Quantity})
			}
		}
	}
	r.logg.Info(ctx, "payment.inventory ok")

	ledgerRepo := r.ledger.WithTx(tx)
	orderIDs := make([]uuid.UUID, 0, len(group))
	for i := range group {
		order := &group[i]
		userID := order.UserID
		if err := ledgerRepo.Create(ctx, &models.Payment{
			Type:          enums.PaymentTypeReceive,
			OrderID:       order.ID,
			UserID:        &userID,
			AmountCents:   order.PriceCents,
			Currency:      order.Currency,
			Gateway:       gw,
			TransactionID: verified.PaymentID,
			Status:        enums.LedgerStatusCompleted,
		}); err != nil {
			if errors.Is(err, ledger.ErrDuplicateEntry) {
				return nil, errAlreadyApplied
			}
			return nil, err
		}
		order.PaymentStatus = orders.StatePlaced.Payment
		order.OrderStatus = orders.StatePlaced.Order
		order.PaidAt = &paidAt
		paymentID := verified.PaymentID
		order.ProviderPaymentID = &paymentID
		orderIDs = append(orderIDs, order.ID)
	}
	r.logg.Info(ctx, "payment.ledger ok")

	if err := r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregatePaymentGroup,
		AggregateID:   group[0].PaymentGroupID,
		Data: payloads.OrderPaidEvent{
			PaymentGroupID:    group[0].PaymentGroupID,
			OrderIDs:          orderIDs,
			Gateway:           gw,
			ProviderPaymentID: verified.PaymentID,
			TotalCents:        total,
			PaidAt:            paidAt,
		},
	}); err != nil {
		return nil, err
	}
	return buildResult(group, verified.PaymentID, false), nil
}

// loadConfirmed reads the group a concurrent confirmation settled. It is a
// duplicate only when that confirmation carried the same payment.
func (r *reconciler) loadConfirmed(ctx context.Context, verified *gateway.VerifiedPayment) (*ConfirmResult, error) {
	group, err := r.orders.FindByIntentForUpdate(ctx, verified.IntentID)
	if err != nil {
		return nil, err
	}
	if len(group) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no orders for payment intent")
	}
	for i := range group {
		stored := group[i].ProviderPaymentID
		if stored == nil || *stored != verified.PaymentID {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConfirmFailed, ErrGroupSettled, "payment group was settled by another payment").
				WithDetails(map[string]any{"order_id": group[i].ID})
		}
	}
	return buildResult(group, verified.PaymentID, true), nil
}

func buildResult(group []models.Order, paymentID string, already bool) *ConfirmResult {
	res := &ConfirmResult{
		PaymentGroupID:   group[0].PaymentGroupID,
		PaymentID:        paymentID,
		AlreadyConfirmed: already,
		Orders:           make([]orders.OrderDTO, 0, len(group)),
	}
	for i := range group {
		res.Orders = append(res.Orders, orders.NewOrderDTO(&group[i]))
	}
	return res
}
