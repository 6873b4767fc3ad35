package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/internal/cart"
	"github.com/angelmondragon/marketplace-fulfillment/internal/gateway"
	"github.com/angelmondragon/marketplace-fulfillment/internal/inventory"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/internal/users"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/payloads"
)

const (
	PathSingle = "single"
	PathCart   = "cart"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type buyerLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type gatewayResolver interface {
	Get(name enums.Gateway) (gateway.Adapter, error)
}

// Service turns a single product or the buyer's cart into pending orders
// plus one provider payment intent.
type Service interface {
	Execute(ctx context.Context, input Input) (*Result, error)
}

// Input selects the path: ProductID set means single-product checkout,
// otherwise the buyer's cart is used.
type Input struct {
	UserID    uuid.UUID
	ProductID *uuid.UUID
	Gateway   enums.Gateway
}

// Result is returned to the client to open the gateway's payment flow.
type Result struct {
	PaymentGroupID uuid.UUID         `json:"payment_group_id"`
	Orders         []orders.OrderDTO `json:"orders"`
	TotalCents     int               `json:"total_cents"`
	Currency       string            `json:"currency"`
	Intent         gateway.Intent    `json:"intent"`
	Prefill        *users.ContactDTO `json:"prefill,omitempty"`
}

// ServiceParams wires the checkout coordinator.
type ServiceParams struct {
	Tx             txRunner
	Inventory      inventory.Repository
	Carts          cart.SnapshotReader
	Orders         orders.Repository
	Buyers         buyerLoader
	Gateways       gatewayResolver
	Outbox         outboxPublisher
	Logger         *logger.Logger
	Metrics        *metrics.PaymentMetrics
	Currency       string
	GatewayTimeout time.Duration
}

type service struct {
	tx             txRunner
	inventory      inventory.Repository
	carts          cart.SnapshotReader
	orders         orders.Repository
	buyers         buyerLoader
	gateways       gatewayResolver
	outbox         outboxPublisher
	logg           *logger.Logger
	metrics        *metrics.PaymentMetrics
	currency       string
	gatewayTimeout time.Duration
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Buyers == nil {
		return nil, fmt.Errorf("buyer loader required")
	}
	if params.Gateways == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.GatewayTimeout <= 0 {
		return nil, fmt.Errorf("gateway timeout must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		return nil, fmt.Errorf("currency required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:             params.Tx,
		inventory:      params.Inventory,
		carts:          params.Carts,
		orders:         params.Orders,
		buyers:         params.Buyers,
		gateways:       params.Gateways,
		outbox:         params.Outbox,
		logg:           logg,
		metrics:        params.Metrics,
		currency:       currency,
		gatewayTimeout: params.GatewayTimeout,
	}, nil
}

type line struct {
	product  *models.Product
	quantity int
}

// Execute runs the whole checkout in one transaction. Stock is checked but
// never reserved; the reconciler decrements it once payment is verified.
// Any failure, including the intent request, rolls every order back.
func (s *service) Execute(ctx context.Context, input Input) (*Result, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	path := PathCart
	if input.ProductID != nil {
		path = PathSingle
	}

	adapter, err := s.gateways.Get(input.Gateway)
	if err != nil {
		return nil, err
	}
	buyer, err := s.buyers.FindByID(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var lines []line
		var lerr error
		if input.ProductID != nil {
			lines, lerr = s.singleLine(ctx, tx, *input.ProductID)
		} else {
			lines, lerr = s.cartLines(ctx, tx, input.UserID)
		}
		if lerr != nil {
			return lerr
		}

		ordersRepo := s.orders.WithTx(tx)
		groupID := uuid.New()
		created := make([]*models.Order, 0, len(lines))
		orderIDs := make([]uuid.UUID, 0, len(lines))
		total := 0
		for _, l := range lines {
			order := buildOrder(input.UserID, groupID, adapter.Name(), s.currency, l)
			if err := ordersRepo.Create(ctx, order); err != nil {
				return err
			}
			created = append(created, order)
			orderIDs = append(orderIDs, order.ID)
			total += order.PriceCents
		}

		intent, err := s.createIntent(ctx, adapter, groupID, orderIDs, total, buyer.Email)
		if err != nil {
			return err
		}
		if err := ordersRepo.SetProviderIntent(ctx, groupID, intent.ID); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregatePaymentGroup,
			AggregateID:   groupID,
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: enums.RoleBuyer.String()},
			Data: payloads.OrderCreatedEvent{
				PaymentGroupID:   groupID,
				OrderIDs:         orderIDs,
				UserID:           input.UserID,
				Gateway:          adapter.Name(),
				ProviderIntentID: intent.ID,
				TotalCents:       total,
				Currency:         s.currency,
			},
		}); err != nil {
			return err
		}

		result = &Result{
			PaymentGroupID: groupID,
			Orders:         make([]orders.OrderDTO, 0, len(created)),
			TotalCents:     total,
			Currency:       s.currency,
			Intent:         *intent,
			Prefill:        users.ContactFromModel(buyer),
		}
		for _, order := range created {
			intentID := intent.ID
			order.ProviderIntentID = &intentID
			result.Orders = append(result.Orders, orders.NewOrderDTO(order))
		}
		return nil
	})
	if err != nil {
		s.metrics.IncCheckout(path, adapter.Name().String(), outcomeFor(err))
		if pkgerrors.CodeOf(err) == pkgerrors.CodeGatewayUnavailable {
			s.logg.Error(ctx, "checkout.intent_failed", err)
		}
		return nil, err
	}

	s.metrics.IncCheckout(path, adapter.Name().String(), metrics.OutcomeSuccess)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"payment_group_id": result.PaymentGroupID.String(),
		"gateway":          adapter.Name().String(),
		"path":             path,
		"orders":           len(result.Orders),
	})
	s.logg.Info(ctx, "checkout.created")
	return result, nil
}

func (s *service) singleLine(ctx context.Context, tx *gorm.DB, productID uuid.UUID) ([]line, error) {
	product, err := s.inventory.WithTx(tx).FindProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if product.Quantity == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "product is out of stock").
			WithDetails(map[string]any{"product_id": productID})
	}
	return []line{{product: product, quantity: 1}}, nil
}

// cartLines re-reads every product inside the transaction; a single
// shortfall aborts the whole checkout.
func (s *service) cartLines(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]line, error) {
	snapshot, err := s.carts.WithTx(tx).FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if snapshot.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "cart is empty")
	}

	ids := make([]uuid.UUID, 0, len(snapshot.Lines))
	for _, l := range snapshot.Lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.inventory.WithTx(tx).FindProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]line, 0, len(snapshot.Lines))
	for _, l := range snapshot.Lines {
		product := products[l.ProductID]
		if !product.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": l.ProductID})
		}
		if product.Quantity < l.Quantity {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for cart item").
				WithDetails(map[string]any{
					"product_id": l.ProductID,
					"requested":  l.Quantity,
					"available":  product.Quantity,
				})
		}
		lines = append(lines, line{product: product, quantity: l.Quantity})
	}
	return lines, nil
}

func (s *service) createIntent(ctx context.Context, adapter gateway.Adapter, groupID uuid.UUID, orderIDs []uuid.UUID, total int, email string) (*gateway.Intent, error) {
	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		ids = append(ids, id.String())
	}
	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	intent, err := adapter.CreateIntent(callCtx, gateway.CreateIntentInput{
		AmountCents: total,
		Currency:    s.currency,
		Receipt:     groupID.String(),
		Notes: map[string]string{
			"payment_group_id": groupID.String(),
			"order_ids":        strings.Join(ids, ","),
		},
		CustomerEmail: email,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "payment intent could not be created")
	}
	if intent == nil || intent.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "payment intent could not be created")
	}
	return intent, nil
}

// buildOrder snapshots price and mrp so later catalog edits never change
// what the buyer was charged.
func buildOrder(userID, groupID uuid.UUID, gw enums.Gateway, currency string, l line) *models.Order {
	total := l.product.PriceCents * l.quantity
	return &models.Order{
		UserID:         userID,
		SellerID:       l.product.SellerID,
		PaymentGroupID: groupID,
		Gateway:        gw,
		PriceCents:     total,
		MRPCents:       l.product.MRPCents * l.quantity,
		Currency:       currency,
		PaymentStatus:  orders.StatePending.Payment,
		OrderStatus:    orders.StatePending.Order,
		LineItems: []models.OrderLineItem{{
			ProductID:      l.product.ID,
			Title:          l.product.Title,
			Quantity:       l.quantity,
			UnitPriceCents: l.product.PriceCents,
			UnitMRPCents:   l.product.MRPCents,
			TotalCents:     total,
		}},
	}
}

func outcomeFor(err error) string {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeGatewayUnavailable, pkgerrors.CodeGatewayError, pkgerrors.CodeDependency, pkgerrors.CodeInternal:
		return metrics.OutcomeFailed
	default:
		return metrics.OutcomeRejected
	}
}
