package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines order-level operations beyond checkout and payment.
type Service interface {
	Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDTO, error)
	MarkDelivered(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDTO, error)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Outbox   outboxPublisher
	Logger   *logger.Logger
	Holdback time.Duration
	Now      func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	holdback time.Duration
	now      func() time.Time
}

// NewService builds an order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Holdback < 0 {
		return nil, fmt.Errorf("holdback must not be negative")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		logg:     logg,
		holdback: params.Holdback,
		now:      now,
	}, nil
}

// Get returns the order to its buyer or seller.
func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDTO, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsBuyerOf(order) && !actor.IsSellerOf(order) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	dto := NewOrderDTO(order)
	return &dto, nil
}

// MarkDelivered moves a placed order to delivered and opens the refund window.
// Repeating the call on a delivered order returns it unchanged.
func (s *service) MarkDelivered(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDTO, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if actor.Role != enums.RoleSeller || actor.SellerID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller identity required")
	}

	var result *OrderDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.IsSellerOf(order) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to seller")
		}

		current := StateOf(order)
		if current == StateDelivered {
			dto := NewOrderDTO(order)
			result = &dto
			return nil
		}
		if err := CheckTransition(current, StateDelivered); err != nil {
			return err
		}

		deliveredAt := s.now().UTC()
		eligibleUntil := deliveredAt.Add(s.holdback)
		moved, err := repo.Transition(ctx, order.ID, current, StateDelivered, map[string]any{
			"delivered_at":          deliveredAt,
			"refund_eligible_until": eligibleUntil,
		})
		if err != nil {
			return err
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
		}

		order.OrderStatus = StateDelivered.Order
		order.DeliveredAt = &deliveredAt
		order.RefundEligibleUntil = &eligibleUntil

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDelivered,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role.String()},
			Data: payloads.OrderDeliveredEvent{
				OrderID:             order.ID,
				SellerID:            order.SellerID,
				DeliveredAt:         deliveredAt,
				RefundEligibleUntil: eligibleUntil,
			},
		}); err != nil {
			return err
		}

		dto := NewOrderDTO(order)
		result = &dto
		return nil
	})
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())
	s.logg.Info(ctx, "order.delivered")
	return result, nil
}
