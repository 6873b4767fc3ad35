package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
)

func newServiceFixture(t *testing.T, seed dbtest.OrderSeed) (Service, *models.Seller, *models.User, *models.Order, time.Time, func() int64) {
	t.Helper()
	client, conn := dbtest.Client(t)
	seller := dbtest.MustCreateSeller(t, conn, "")
	user := dbtest.MustCreateUser(t, conn)
	product := dbtest.MustCreateProduct(t, conn, seller.ID, 1200, 3)
	seed.UserID = user.ID
	seed.Product = product
	order := dbtest.MustCreateOrder(t, conn, seed)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Tx:       client,
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Holdback: 7 * 24 * time.Hour,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)

	events := func() int64 {
		return dbtest.Count(t, conn, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderDelivered)
	}
	return svc, seller, user, order, now, events
}

func sellerActor(seller *models.Seller) Actor {
	id := seller.ID
	return Actor{UserID: uuid.New(), SellerID: &id, Role: enums.RoleSeller}
}

func TestMarkDeliveredOpensRefundWindow(t *testing.T) {
	svc, seller, _, order, now, events := newServiceFixture(t, dbtest.OrderSeed{
		PaymentStatus: enums.PaymentStatusPaid,
		OrderStatus:   enums.OrderStatusPlaced,
	})

	dto, err := svc.MarkDelivered(context.Background(), order.ID, sellerActor(seller))
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, dto.OrderStatus)
	require.NotNil(t, dto.DeliveredAt)
	require.NotNil(t, dto.RefundEligibleUntil)
	require.True(t, dto.RefundEligibleUntil.Equal(now.Add(7*24*time.Hour)))
	require.EqualValues(t, 1, events())

	again, err := svc.MarkDelivered(context.Background(), order.ID, sellerActor(seller))
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, again.OrderStatus)
	require.EqualValues(t, 1, events())
}

func TestMarkDeliveredRejectsUnpaidOrder(t *testing.T) {
	svc, seller, _, order, _, events := newServiceFixture(t, dbtest.OrderSeed{})

	_, err := svc.MarkDelivered(context.Background(), order.ID, sellerActor(seller))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidState))
	require.EqualValues(t, 0, events())
}

func TestMarkDeliveredRequiresOwningSeller(t *testing.T) {
	svc, _, user, order, _, _ := newServiceFixture(t, dbtest.OrderSeed{
		PaymentStatus: enums.PaymentStatusPaid,
		OrderStatus:   enums.OrderStatusPlaced,
	})

	_, err := svc.MarkDelivered(context.Background(), order.ID, Actor{UserID: user.ID, Role: enums.RoleBuyer})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	other := uuid.New()
	_, err = svc.MarkDelivered(context.Background(), order.ID, Actor{UserID: uuid.New(), SellerID: &other, Role: enums.RoleSeller})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}

func TestGetVisibleToBuyerAndSeller(t *testing.T) {
	svc, seller, user, order, _, _ := newServiceFixture(t, dbtest.OrderSeed{})
	ctx := context.Background()

	dto, err := svc.Get(ctx, order.ID, Actor{UserID: user.ID, Role: enums.RoleBuyer})
	require.NoError(t, err)
	require.Equal(t, order.ID, dto.ID)
	require.Len(t, dto.LineItems, 1)

	_, err = svc.Get(ctx, order.ID, sellerActor(seller))
	require.NoError(t, err)

	_, err = svc.Get(ctx, order.ID, Actor{UserID: uuid.New(), Role: enums.RoleBuyer})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	_, err = svc.Get(ctx, uuid.New(), Actor{UserID: user.ID, Role: enums.RoleBuyer})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
