package payouts

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/internal/gateway"
	"github.com/angelmondragon/marketplace-fulfillment/internal/gateway/gatewaytest"
	"github.com/angelmondragon/marketplace-fulfillment/internal/ledger"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/internal/users"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
)

var sweepNow = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc   Sweeper
	conn  *gorm.DB
	fake  *gatewaytest.Fake
	buyer *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newBatchedFixture(t, 0)
}

func newBatchedFixture(t *testing.T, batchSize int) *fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	fake := &gatewaytest.Fake{Gateway: enums.GatewayStripe}
	svc, err := NewService(ServiceParams{
		Tx:              client,
		Orders:          orders.NewRepository(conn),
		Sellers:         users.NewRepository(conn),
		Ledger:          ledger.NewRepository(conn),
		Payouts:         fake,
		Outbox:          outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		FeeRate:         decimal.RequireFromString("0.10"),
		BatchSize:       batchSize,
		TransferTimeout: time.Second,
		Now:             func() time.Time { return sweepNow },
	})
	require.NoError(t, err)
	return &fixture{svc: svc, conn: conn, fake: fake, buyer: dbtest.MustCreateUser(t, conn)}
}

func (f *fixture) deliveredOrder(t *testing.T, seller *models.Seller, priceCents int, eligibleUntil time.Time, seed dbtest.OrderSeed) *models.Order {
	t.Helper()
	product := dbtest.MustCreateProduct(t, f.conn, seller.ID, priceCents, 0)
	delivered := eligibleUntil.Add(-7 * 24 * time.Hour)
	seed.UserID = f.buyer.ID
	seed.Product = product
	seed.Gateway = enums.GatewayStripe
	if seed.PaymentStatus == "" {
		seed.PaymentStatus = enums.PaymentStatusPaid
		seed.OrderStatus = enums.OrderStatusDelivered
	}
	seed.DeliveredAt = &delivered
	seed.RefundEligibleUntil = &eligibleUntil
	return dbtest.MustCreateOrder(t, f.conn, seed)
}

func TestSweepPaysEligibleOrders(t *testing.T) {
	f := newFixture(t)
	seller := dbtest.MustCreateSeller(t, f.conn, "acct_seller")
	order := f.deliveredOrder(t, seller, 10000, sweepNow.Add(-time.Hour), dbtest.OrderSeed{})

	summary, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, Summary{Candidates: 1, Paid: 1}, summary)

	calls := f.fake.TransferCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "acct_seller", calls[0].DestinationAccount)
	require.Equal(t, 9000, calls[0].AmountCents)
	require.Equal(t, "payout-"+order.ID.String(), calls[0].IdempotencyKey)

	require.True(t, dbtest.LoadOrder(t, f.conn, order.ID).SellerPaid)
	var row models.Payment
	require.NoError(t, f.conn.First(&row, "order_id = ? AND type = ?", order.ID, enums.PaymentTypePayoutToSeller).Error)
	require.Equal(t, 9000, row.AmountCents)
	require.NotNil(t, row.SellerID)
	require.Equal(t, seller.ID, *row.SellerID)
	require.EqualValues(t, 1, dbtest.Count(t, f.conn, &models.OutboxEvent{}, "event_type = ?", enums.EventSellerPayoutRecorded))

	summary, err = f.svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Candidates)
	require.Len(t, f.fake.TransferCalls(), 1)
}

func TestSweepSkipsIneligibleOrders(t *testing.T) {
	f := newFixture(t)
	seller := dbtest.MustCreateSeller(t, f.conn, "acct_seller")
	f.deliveredOrder(t, seller, 1000, sweepNow.Add(time.Hour), dbtest.OrderSeed{})
	f.deliveredOrder(t, seller, 1000, sweepNow.Add(-time.Hour), dbtest.OrderSeed{SellerPaid: true})
	f.deliveredOrder(t, seller, 1000, sweepNow.Add(-time.Hour), dbtest.OrderSeed{
		PaymentStatus: enums.PaymentStatusRefunded,
		OrderStatus:   enums.OrderStatusCancelled,
	})

	summary, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Candidates)
	require.Empty(t, f.fake.TransferCalls())
}

func TestSweepIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	good := dbtest.MustCreateSeller(t, f.conn, "acct_good")
	missing := dbtest.MustCreateSeller(t, f.conn, "")
	paid := f.deliveredOrder(t, good, 2000, sweepNow.Add(-2*time.Hour), dbtest.OrderSeed{})
	stuck := f.deliveredOrder(t, missing, 2000, sweepNow.Add(-time.Hour), dbtest.OrderSeed{})

	summary, err := f.svc.Sweep(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 1)
	require.Equal(t, Summary{Candidates: 2, Paid: 1, Failed: 1}, summary)

	require.True(t, dbtest.LoadOrder(t, f.conn, paid.ID).SellerPaid)
	require.False(t, dbtest.LoadOrder(t, f.conn, stuck.ID).SellerPaid)
}

func TestSweepReachesOrdersBehindPersistentFailures(t *testing.T) {
	f := newBatchedFixture(t, 2)
	missing := dbtest.MustCreateSeller(t, f.conn, "")
	good := dbtest.MustCreateSeller(t, f.conn, "acct_good")
	f.deliveredOrder(t, missing, 1000, sweepNow.Add(-3*time.Hour), dbtest.OrderSeed{})
	f.deliveredOrder(t, missing, 1000, sweepNow.Add(-3*time.Hour), dbtest.OrderSeed{})
	payable := f.deliveredOrder(t, good, 1000, sweepNow.Add(-time.Hour), dbtest.OrderSeed{})

	for run := 0; run < 2; run++ {
		summary, err := f.svc.Sweep(context.Background())
		require.Error(t, err)
		require.Len(t, multierr.Errors(err), 2)
		require.Equal(t, 2, summary.Failed)
		if run == 0 {
			require.Equal(t, Summary{Candidates: 3, Paid: 1, Failed: 2}, summary)
		} else {
			require.Equal(t, Summary{Candidates: 2, Failed: 2}, summary)
		}
	}

	require.True(t, dbtest.LoadOrder(t, f.conn, payable.ID).SellerPaid)
	calls := f.fake.TransferCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "acct_good", calls[0].DestinationAccount)
}

func TestSweepTransferFailureRetriesNextRun(t *testing.T) {
	f := newFixture(t)
	seller := dbtest.MustCreateSeller(t, f.conn, "acct_seller")
	order := f.deliveredOrder(t, seller, 5000, sweepNow.Add(-time.Hour), dbtest.OrderSeed{})
	f.fake.TransferFn = func(context.Context, gateway.TransferInput) (*gateway.Transfer, error) {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "provider down")
	}

	_, err := f.svc.Sweep(context.Background())
	require.Error(t, err)
	require.False(t, dbtest.LoadOrder(t, f.conn, order.ID).SellerPaid)
	require.Zero(t, dbtest.Count(t, f.conn, &models.Payment{}, ""))

	f.fake.TransferFn = nil
	summary, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Paid)

	calls := f.fake.TransferCalls()
	require.Len(t, calls, 2)
	require.Equal(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)
}

func TestSplit(t *testing.T) {
	rate := decimal.RequireFromString("0.10")
	cases := []struct {
		gross, fee, net int
	}{
		{10000, 1000, 9000},
		{999, 100, 899},
		{5, 1, 4},
		{4, 0, 4},
	}
	for _, tc := range cases {
		fee, net := Split(tc.gross, rate)
		require.Equal(t, tc.fee, fee, "gross %d", tc.gross)
		require.Equal(t, tc.net, net, "gross %d", tc.gross)
	}

	fee, net := Split(1234, decimal.Zero)
	require.Zero(t, fee)
	require.Equal(t, 1234, net)
}

func TestParseFeeRate(t *testing.T) {
	rate, err := ParseFeeRate(" 0.025 ")
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.RequireFromString("0.025")))

	_, err = ParseFeeRate("ten percent")
	require.Error(t, err)
}

func TestNewServiceRejectsFeeRateOutOfRange(t *testing.T) {
	_, conn := dbtest.Client(t)
	_, err := NewService(ServiceParams{
		Tx:              dbtestRunner{},
		Orders:          orders.NewRepository(conn),
		Sellers:         users.NewRepository(conn),
		Ledger:          ledger.NewRepository(conn),
		Payouts:         &gatewaytest.Fake{},
		Outbox:          outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		FeeRate:         decimal.NewFromInt(1),
		TransferTimeout: time.Second,
	})
	require.Error(t, err)
}

type dbtestRunner struct{}

func (dbtestRunner) WithTx(context.Context, func(tx *gorm.DB) error) error { return nil }
