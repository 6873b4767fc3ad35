package refunds

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

var errAlreadyRefunded = errors.New("order already refunded")

// Processor cancels orders. Unpaid orders are cancelled locally; paid orders
// are refunded at the provider first and only then reversed locally.
type Processor interface {
	Cancel(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*Result, error)
}

type Result struct {
	Orders        []orders.OrderDTO `json:"orders"`
	Refunded      bool              `json:"refunded"`
	RefundID      string            `json:"refund_id,omitempty"`
	AmountCents   int               `json:"amount_cents,omitempty"`
	RestoredUnits int               `json:"restored_units,omitempty"`
}

// ProcessorParams wires the refund processor.
type ProcessorParams struct {
	Tx            txRunner
	Orders        orders.Repository
	Inventory     inventory.Repository
	Ledger        ledger.Repository
	Gateways      gatewayResolver
	Outbox        outboxPublisher
	Logger        *logger.Logger
	Metrics       *metrics.PaymentMetrics
	RefundTimeout time.Duration
	Now           func() time.Time
}

type processor struct {
	tx            txRunner
	orders        orders.Repository
	inventory     inventory.Repository
	ledger        ledger.Repository
	gateways      gatewayResolver
	outbox        outboxPublisher
	logg          *logger.Logger
	metrics       *metrics.PaymentMetrics
	refundTimeout time.Duration
	now           func() time.Time
}

func NewProcessor(params ProcessorParams) (Processor, error) {
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
	if params.RefundTimeout <= 0 {
		return nil, fmt.Errorf("refund timeout must be positive")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &processor{
		tx:            params.Tx,
		orders:        params.Orders,
		inventory:     params.Inventory,
		ledger:        params.Ledger,
		gateways:      params.Gateways,
		outbox:        params.Outbox,
		logg:          logg,
		metrics:       params.Metrics,
		refundTimeout: params.RefundTimeout,
		now:           now,
	}, nil
}

func (p *processor) Cancel(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*Result, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := p.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsBuyerOf(order) && !actor.IsSellerOf(order) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	ctx = p.logg.WithOrderID(ctx, orderID.String())

	switch orders.StateOf(order) {
	case orders.StatePending:
		return p.cancelUnpaid(ctx, order, actor)
	case orders.StatePlaced, orders.StateDelivered:
		return p.refundPaid(ctx, order, actor)
	default:
		p.metrics.IncRefund(order.Gateway.String(), metrics.OutcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "order is already cancelled")
	}
}

// cancelUnpaid cancels every still-pending order sharing the payment group,
// since one provider intent covers all of them. Stock is untouched because it
// is only decremented when a payment is confirmed.
func (p *processor) cancelUnpaid(ctx context.Context, order *models.Order, actor orders.Actor) (*Result, error) {
	result := &Result{}
	canceledAt := p.now().UTC()
	err := p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := p.orders.WithTx(tx)
		group, err := repo.FindByPaymentGroupForUpdate(ctx, order.PaymentGroupID)
		if err != nil {
			return err
		}
		if err := authorizeGroupCancel(order, group, actor); err != nil {
			return err
		}
		for i := range group {
			member := &group[i]
			if orders.StateOf(member) != orders.StatePending {
				continue
			}
			moved, err := repo.Transition(ctx, member.ID, orders.StatePending, orders.StateCancelled, map[string]any{
				"canceled_at": canceledAt,
			})
			if err != nil {
				return err
			}
			if !moved {
				continue
			}
			member.PaymentStatus = orders.StateCancelled.Payment
			member.OrderStatus = orders.StateCancelled.Order
			member.CanceledAt = &canceledAt

			if err := p.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCanceled,
				AggregateType: enums.AggregateOrder,
				AggregateID:   member.ID,
				Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role.String()},
				Data: payloads.OrderCanceledEvent{
					OrderID:    member.ID,
					UserID:     member.UserID,
					CanceledAt: canceledAt,
				},
			}); err != nil {
				return err
			}
			result.Orders = append(result.Orders, orders.NewOrderDTO(member))
		}
		if len(result.Orders) == 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "order is no longer awaiting payment")
		}
		return nil
	})
	if err != nil {
		p.metrics.IncRefund(order.Gateway.String(), metrics.OutcomeRejected)
		return nil, err
	}
	p.metrics.IncRefund(order.Gateway.String(), metrics.OutcomeSuccess)
	p.logg.Info(ctx, "order.canceled_unpaid")
	return result, nil
}

// authorizeGroupCancel lets a seller cancel an unpaid group only when every
// pending order in it is theirs. The buyer may always cancel.
func authorizeGroupCancel(order *models.Order, group []models.Order, actor orders.Actor) error {
	if actor.IsBuyerOf(order) {
		return nil
	}
	for i := range group {
		if orders.StateOf(&group[i]) == orders.StatePending && !actor.IsSellerOf(&group[i]) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "payment group includes other sellers' orders; only the buyer can cancel it")
		}
	}
	return nil
}

func (p *processor) refundPaid(ctx context.Context, order *models.Order, actor orders.Actor) (*Result, error) {
	gw := order.Gateway.String()
	now := p.now().UTC()
	if order.SellerPaid {
		p.metrics.IncRefund(gw, metrics.OutcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "seller has already been paid for this order")
	}
	if order.RefundEligibleUntil != nil && now.After(*order.RefundEligibleUntil) {
		p.metrics.IncRefund(gw, metrics.OutcomeRejected)
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "refund window has closed").
			WithDetails(map[string]any{"refund_eligible_until": order.RefundEligibleUntil})
	}

	receive, err := p.ledger.FindByOrderAndType(ctx, order.ID, enums.PaymentTypeReceive)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			p.logg.Incident(ctx, "refund.receive_missing", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeInvalidState, err, "order has no recorded payment")
		}
		return nil, err
	}
	if receive.Status == enums.LedgerStatusRefunded {
		p.metrics.IncRefund(gw, metrics.OutcomeDuplicate)
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "payment already refunded")
	}

	adapter, err := p.gateways.Get(order.Gateway)
	if err != nil {
		return nil, err
	}
	refund, err := p.callProvider(ctx, adapter, order, receive)
	if err != nil {
		p.metrics.IncRefund(gw, metrics.OutcomeFailed)
		p.logg.Error(ctx, "refund.provider_failed", err)
		return nil, err
	}
	ctx = p.logg.WithField(ctx, "refund_id", refund.ID)

	result := &Result{Refunded: true, RefundID: refund.ID, AmountCents: refund.AmountCents}
	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := p.orders.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		current := orders.StateOf(locked)
		if current == orders.StateRefunded {
			return errAlreadyRefunded
		}
		if err := orders.CheckTransition(current, orders.StateRefunded); err != nil {
			return err
		}
		moved, err := repo.Transition(ctx, locked.ID, current, orders.StateRefunded, map[string]any{
			"canceled_at": now,
		})
		if err != nil {
			return err
		}
		if !moved {
			return errAlreadyRefunded
		}
		locked.PaymentStatus = orders.StateRefunded.Payment
		locked.OrderStatus = orders.StateRefunded.Order
		locked.CanceledAt = &now

		inventoryRepo := p.inventory.WithTx(tx)
		for _, item := range locked.LineItems {
			if err := inventoryRepo.Increment(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
			result.RestoredUnits += item.Quantity
		}

		ledgerRepo := p.ledger.WithTx(tx)
		if err := ledgerRepo.UpdateStatus(ctx, receive.ID, enums.LedgerStatusRefunded); err != nil {
			return err
		}
		userID := locked.UserID
		receiveID := receive.ID
		if err := ledgerRepo.Create(ctx, &models.Payment{
			Type:          enums.PaymentTypeRefund,
			OrderID:       locked.ID,
			UserID:        &userID,
			AmountCents:   result.AmountCents,
			Currency:      receive.Currency,
			Gateway:       locked.Gateway,
			TransactionID: refund.ID,
			RelatedID:     &receiveID,
			Status:        enums.LedgerStatusCompleted,
		}); err != nil {
			if errors.Is(err, ledger.ErrDuplicateEntry) {
				return errAlreadyRefunded
			}
			return err
		}

		if err := p.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   locked.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role.String()},
			Data: payloads.OrderRefundedEvent{
				OrderID:       locked.ID,
				UserID:        locked.UserID,
				Gateway:       locked.Gateway,
				RefundID:      refund.ID,
				OriginalTxnID: receive.TransactionID,
				AmountCents:   result.AmountCents,
				RestoredUnits: result.RestoredUnits,
				RefundedAt:    now,
			},
		}); err != nil {
			return err
		}
		result.Orders = []orders.OrderDTO{orders.NewOrderDTO(locked)}
		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyRefunded) {
			p.metrics.IncRefund(gw, metrics.OutcomeDuplicate)
			return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "order is already cancelled")
		}
		// The provider has moved money; the order must be reconciled by hand.
		wrapped := pkgerrors.Wrap(pkgerrors.CodeConfirmFailed, err, "refund issued but order could not be updated")
		p.metrics.IncRefund(gw, metrics.OutcomeFailed)
		p.logg.Incident(ctx, "refund.local_commit_failed", wrapped)
		return nil, wrapped
	}
	p.metrics.IncRefund(gw, metrics.OutcomeSuccess)
	p.logg.Info(ctx, "order.refunded")
	return result, nil
}

func (p *processor) callProvider(ctx context.Context, adapter gateway.Adapter, order *models.Order, receive *models.Payment) (*gateway.Refund, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.refundTimeout)
	defer cancel()

	refund, err := adapter.Refund(callCtx, gateway.RefundInput{
		PaymentID:      receive.TransactionID,
		AmountCents:    receive.AmountCents,
		IdempotencyKey: "refund-" + order.ID.String(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRefundFailed, err, "provider refund failed")
	}
	if refund == nil || refund.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeRefundFailed, "provider returned no refund reference")
	}
	if refund.AmountCents == 0 {
		refund.AmountCents = receive.AmountCents
	}
	return refund, nil
}
