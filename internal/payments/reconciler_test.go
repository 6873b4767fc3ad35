package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/internal/gateway"
	"github.com/angelmondragon/marketplace-fulfillment/internal/gateway/gatewaytest"
	"github.com/angelmondragon/marketplace-fulfillment/internal/inventory"
	"github.com/angelmondragon/marketplace-fulfillment/internal/ledger"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
)

type fixture struct {
	rec    Reconciler
	conn   *gorm.DB
	gw     *gatewaytest.Fake
	seller *models.Seller
	buyer  *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	fake := &gatewaytest.Fake{Gateway: enums.GatewayRazorpay}
	registry, err := gateway.NewRegistry(fake)
	require.NoError(t, err)

	rec, err := NewReconciler(ReconcilerParams{
		Tx:            client,
		Orders:        orders.NewRepository(conn),
		Inventory:     inventory.NewRepository(conn),
		Ledger:        ledger.NewRepository(conn),
		Gateways:      registry,
		Outbox:        outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		VerifyTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return &fixture{
		rec:    rec,
		conn:   conn,
		gw:     fake,
		seller: dbtest.MustCreateSeller(t, conn, "acct_1"),
		buyer:  dbtest.MustCreateUser(t, conn),
	}
}

func confirmInput(intentID, paymentID string) ConfirmInput {
	return ConfirmInput{Gateway: enums.GatewayRazorpay, IntentID: intentID, PaymentID: paymentID, Signature: "sig"}
}

func TestConfirmFinalizesOrder(t *testing.T) {
	f := newFixture(t)
	product := dbtest.MustCreateProduct(t, f.conn, f.seller.ID, 25000, 3)
	order := dbtest.MustCreateOrder(t, f.conn, dbtest.OrderSeed{UserID: f.buyer.ID, Product: product, Quantity: 2, IntentID: "order_a"})

	res, err := f.rec.Confirm(context.Background(), confirmInput("order_a", "pay_a"))
	require.NoError(t, err)
	require.False(t, res.AlreadyConfirmed)
	require.Len(t, res.Orders, 1)
	require.Equal(t, order.PaymentGroupID, res.PaymentGroupID)

	stored := dbtest.LoadOrder(t, f.conn, order.ID)
	require.Equal(t, orders.StatePlaced, orders.StateOf(stored))
	require.NotNil(t, stored.ProviderPaymentID)
	require.Equal(t, "pay_a", *stored.ProviderPaymentID)
	require.NotNil(t, stored.PaidAt)

	require.Equal(t, 1, dbtest.ProductQuantity(t, f.conn, product.ID))
	require.EqualValues(t, 1, dbtest.Count(t, f.conn, &models.Payment{}, "type = ? AND transaction_id = ?", enums.PaymentTypeReceive, "pay_a"))
	require.EqualValues(t, 1, dbtest.Count(t, f.conn, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPaid))
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	product := dbtest.MustCreateProduct(t, f.conn, f.seller.ID, 1000, 5)
	dbtest.MustCreateOrder(t, f.conn, dbtest.OrderSeed{UserID: f.buyer.ID, Product: product, IntentID: "order_b"})

	_, err := f.rec.Confirm(context.Background(), confirmInput("order_b", "pay_b"))
	require.NoError(t, err)
	res, err := f.rec.Confirm(context.Background(), confirmInput("order_b", "pay_b"))
	require.NoError(t, err)
	require.True(t, res.AlreadyConfirmed)

	require.Equal(t, 4, dbtest.ProductQuantity(t, f.conn, product.ID))
	require.EqualValues(t, 1, dbtest.Count(t, f.conn, &models.Payment{}, "type = ?", enums.PaymentTypeReceive))
	require.EqualValues(t, 1, dbtest.Count(t, f.conn, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPaid))
}

func TestConfirmConcurrentCallbacksFinalizeOnce(t *testing.T) {
	f := newFixture(t)
	product := dbtest.MustCreateProduct(t, f.conn, f.seller.ID, 1000, 5)
	dbtest.MustCreateOrder(t, f.conn, dbtest.OrderSeed{UserID: f.buyer.ID, Product: product, IntentID: "order_c"})

	const callers = 5
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.rec.Confirm(context.Background(), confirmInput("order_c", "pay_c"))
			if err != nil {
				t.Errorf("confirm: %v", err)
				return
			}
			if !res.AlreadyConfirmed {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, fresh)
	require.Equal(t, 4, dbtest.ProductQuantity(t, f.conn, product.ID))
	require.EqualValues(t, 1, dbtest.Count(t, f.conn, &models.Payment{}, "type = ?", enums.PaymentTypeReceive))
}

func TestConfirmPaymentGroup(t *testing.T) {
	f := newFixture(t)
	first := dbtest.MustCreateProduct(t, f.conn, f.seller.ID, 1000, 2)
	second := dbtest.MustCreateProduct(t, f.conn, f.seller.ID, 3000, 2)
	group := uuid.New()
	a := dbtest.MustCreateOrder(t, f.conn, dbtest.OrderSeed{UserID: f.buyer.ID, Product: first, PaymentGroupID: group, IntentID: "order_g"})
	b := dbtest.MustCreateOrder(t, f.conn, dbtest.OrderSeed{UserID: f.buyer.ID, Product: second, Quantity: 2, PaymentGroupID: group, IntentID: "order_g"})

	f.gw.VerifyFn = func(_ context.Context, c gateway.Confirmation) (*gateway.VerifiedPayment, error) {
		return &gateway.VerifiedPayment{IntentID: c.IntentID, PaymentID: c.PaymentID, AmountCents: 7000}, nil
	}
	res, err := f.rec.Confirm(context.Background(), confirmInput("order_g", "pay_g"))
	require.NoError(t, err)
	require.Len(t, res.Orders, 2)

	require.Equal(t, orders.StatePlaced, orders.StateOf(dbtest.LoadOrder(t, f.conn, a.ID)))
	require.Equal(t, orders.StatePlaced, orders.StateOf(dbtest.LoadOrder(t, f.conn, b.ID)))
	require.Equal(t, 1, dbtest.ProductQuantity(t, f.conn, first.ID))
	require.Equal(t, 0, dbtest.ProductQuantity(t, f.conn, second.ID))
	require.EqualValues(t, 2, dbtest.Count(t, f.conn, &models.Payment{}, "transaction_id = ?", "pay_g"))
}

func TestConfirmRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	product := dbtest.MustCreateProduct(t, f.conn, f.seller.ID, 1000, 1)
	order := dbtest.MustCreateOrder(t, f.conn, dbtest.OrderSeed{UserID: f.buyer.ID, Product: product, IntentID: "order_s"})
	f.gw.VerifyFn = func(context.Context, gateway.Confirmation) (*gateway.VerifiedPayment, error) {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "signature mismatch")
	}

	_, err := f.rec.Confirm(context.Background(), confirmInput("order_s", "pay_s"))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeSignatureInvalid))
	require.Equal(t, orders.StatePending, orders.StateOf(dbtest.LoadOrder(t, f.conn, order.ID)))
	require.Equal(t, 1, dbtest.ProductQuantity(t, f.conn, product.ID))
	require.Zero(t, dbtest.Count(t, f.conn, &models.Payment{}, ""))
}

func TestConfirmRejectsAmountMismatch(t *testing.T) {
	f := newFixture(t)
	product := dbtest.MustCreateProduct(t, f.conn, f.seller.ID, 1000, 1)
	order := dbtest.MustCreateOrder(t, f.conn, dbtest.OrderSeed{UserID: f.buyer.ID, Product: product, IntentID: "order_m"})
	f.gw.VerifyFn = func(_ context.Context, c gateway.Confirmation) (*gateway.VerifiedPayment, error) {
		return &gateway.VerifiedPayment{IntentID: c.IntentID, PaymentID: c.PaymentID, AmountCents: 1}, nil
	}

	_, err := f.rec.Confirm(context.Background(), confirmInput("order_m", "pay_m"))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeSignatureInvalid))
	require.Equal(t, orders.StatePending, orders.StateOf(dbtest.LoadOrder(t, f.conn, order.ID)))
}

func TestConfirmVerifyTimeout(t *testing.T) {
	f := newFixture(t)
	product := dbtest.MustCreateProduct(t, f.conn, f.seller.ID, 1000, 1)
	order := dbtest.MustCreateOrder(t, f.conn, dbtest.OrderSeed{UserID: f.buyer.ID, Product: product, IntentID: "order_t"})
	f.gw.VerifyFn = func(ctx context.Context, _ gateway.Confirmation) (*gateway.VerifiedPayment, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := f.rec.Confirm(context.Background(), confirmInput("order_t", "pay_t"))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeConfirmFailed))
	require.Equal(t, orders.StatePending, orders.StateOf(dbtest.LoadOrder(t, f.conn, order.ID)))
}

func TestConfirmFailsClosedWhenStockGone(t *testing.T) {
	f := newFixture(t)
	product := dbtest.MustCreateProduct(t, f.conn, f.seller.ID, 1000, 0)
	order := dbtest.MustCreateOrder(t, f.conn, dbtest.OrderSeed{UserID: f.buyer.ID, Product: product, IntentID: "order_o"})

	_, err := f.rec.Confirm(context.Background(), confirmInput("order_o", "pay_o"))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeConfirmFailed))

	require.Equal(t, orders.StatePending, orders.StateOf(dbtest.LoadOrder(t, f.conn, order.ID)))
	require.Equal(t, 0, dbtest.ProductQuantity(t, f.conn, product.ID))
	require.Zero(t, dbtest.Count(t, f.conn, &models.Payment{}, ""))
	require.Zero(t, dbtest.Count(t, f.conn, &models.OutboxEvent{}, ""))
}

func TestConfirmUnknownIntent(t *testing.T) {
	f := newFixture(t)
	_, err := f.rec.Confirm(context.Background(), confirmInput("order_missing", "pay_x"))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestConfirmGatewayMismatch(t *testing.T) {
	f := newFixture(t)
	product := dbtest.MustCreateProduct(t, f.conn, f.seller.ID, 1000, 1)
	dbtest.MustCreateOrder(t, f.conn, dbtest.OrderSeed{UserID: f.buyer.ID, Product: product, IntentID: "cs_1", Gateway: enums.GatewayStripe})

	_, err := f.rec.Confirm(context.Background(), confirmInput("cs_1", "pay_1"))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestConfirmCancelledGroupIsIncident(t *testing.T) {
	f := newFixture(t)
	product := dbtest.MustCreateProduct(t, f.conn, f.seller.ID, 1000, 1)
	dbtest.MustCreateOrder(t, f.conn, dbtest.OrderSeed{
		UserID:        f.buyer.ID,
		Product:       product,
		IntentID:      "order_x",
		PaymentStatus: enums.PaymentStatusCancelled,
		OrderStatus:   enums.OrderStatusCancelled,
	})

	_, err := f.rec.Confirm(context.Background(), confirmInput("order_x", "pay_x"))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeConfirmFailed))
	require.ErrorIs(t, err, ErrGroupSettled)
	require.Equal(t, 1, dbtest.ProductQuantity(t, f.conn, product.ID))
}

// staleOrders serves transactional reads from before a competing confirmation
// committed, so the compare-and-set is the first to notice it.
type staleOrders struct {
	orders.Repository
	stale bool
}

func (s staleOrders) WithTx(tx *gorm.DB) orders.Repository {
	return staleOrders{Repository: s.Repository.WithTx(tx), stale: true}
}

func (s staleOrders) FindByIntentForUpdate(ctx context.Context, intentID string) ([]models.Order, error) {
	group, err := s.Repository.FindByIntentForUpdate(ctx, intentID)
	if err != nil || !s.stale {
		return group, err
	}
	for i := range group {
		group[i].PaymentStatus = enums.PaymentStatusNotPaid
		group[i].OrderStatus = enums.OrderStatusPaymentPending
		group[i].ProviderPaymentID = nil
	}
	return group, nil
}

func newRacedFixture(t *testing.T, winner string) (*fixture, *models.Order, *models.Product) {
	t.Helper()
	client, conn := dbtest.Client(t)
	fake := &gatewaytest.Fake{Gateway: enums.GatewayRazorpay}
	registry, err := gateway.NewRegistry(fake)
	require.NoError(t, err)

	repo := orders.NewRepository(conn)
	rec, err := NewReconciler(ReconcilerParams{
		Tx:            client,
		Orders:        staleOrders{Repository: repo},
		Inventory:     inventory.NewRepository(conn),
		Ledger:        ledger.NewRepository(conn),
		Gateways:      registry,
		Outbox:        outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		VerifyTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	f := &fixture{rec: rec, conn: conn, gw: fake, seller: dbtest.MustCreateSeller(t, conn, "acct_1"), buyer: dbtest.MustCreateUser(t, conn)}

	product := dbtest.MustCreateProduct(t, conn, f.seller.ID, 1000, 2)
	order := dbtest.MustCreateOrder(t, conn, dbtest.OrderSeed{UserID: f.buyer.ID, Product: product, IntentID: "order_race"})
	moved, err := repo.MarkGroupPaid(context.Background(), "order_race", winner, time.Now().UTC())
	require.NoError(t, err)
	require.EqualValues(t, 1, moved)
	return f, order, product
}

func TestConfirmLosingRaceToSamePaymentIsDuplicate(t *testing.T) {
	f, order, product := newRacedFixture(t, "pay_same")

	res, err := f.rec.Confirm(context.Background(), confirmInput("order_race", "pay_same"))
	require.NoError(t, err)
	require.True(t, res.AlreadyConfirmed)
	require.Equal(t, order.PaymentGroupID, res.PaymentGroupID)
	require.Equal(t, 2, dbtest.ProductQuantity(t, f.conn, product.ID))
}

func TestConfirmLosingRaceToOtherPaymentFails(t *testing.T) {
	f, order, product := newRacedFixture(t, "pay_winner")

	res, err := f.rec.Confirm(context.Background(), confirmInput("order_race", "pay_late"))
	require.Nil(t, res)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeConfirmFailed))
	require.ErrorIs(t, err, ErrGroupSettled)

	stored := dbtest.LoadOrder(t, f.conn, order.ID)
	require.NotNil(t, stored.ProviderPaymentID)
	require.Equal(t, "pay_winner", *stored.ProviderPaymentID)
	require.Equal(t, 2, dbtest.ProductQuantity(t, f.conn, product.ID))
	require.Zero(t, dbtest.Count(t, f.conn, &models.Payment{}, "transaction_id = ?", "pay_late"))
}

func TestNewReconcilerValidatesDependencies(t *testing.T) {
	_, err := NewReconciler(ReconcilerParams{})
	require.Error(t, err)
}
