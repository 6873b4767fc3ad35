package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/internal/gateway"
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

const defaultBatchSize = 200

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type sellerReader interface {
	FindSeller(ctx context.Context, id uuid.UUID) (*models.Seller, error)
}

var errAlreadyPaid = errors.New("seller already paid for order")

// Summary reports one sweep.
type Summary struct {
	Candidates int
	Paid       int
	Skipped    int
	Failed     int
}

// Sweeper releases held funds to sellers once the refund window closes.
type Sweeper interface {
	Sweep(ctx context.Context) (Summary, error)
}

// ServiceParams wires the payout sweeper.
type ServiceParams struct {
	Tx              txRunner
	Orders          orders.Repository
	Sellers         sellerReader
	Ledger          ledger.Repository
	Payouts         gateway.Payouts
	Provider        enums.Gateway
	Outbox          outboxPublisher
	Logger          *logger.Logger
	Metrics         *metrics.PaymentMetrics
	FeeRate         decimal.Decimal
	BatchSize       int
	TransferTimeout time.Duration
	Now             func() time.Time
}

type service struct {
	tx              txRunner
	orders          orders.Repository
	sellers         sellerReader
	ledger          ledger.Repository
	payouts         gateway.Payouts
	provider        enums.Gateway
	outbox          outboxPublisher
	logg            *logger.Logger
	metrics         *metrics.PaymentMetrics
	feeRate         decimal.Decimal
	batchSize       int
	transferTimeout time.Duration
	now             func() time.Time
}

func NewService(params ServiceParams) (Sweeper, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Sellers == nil {
		return nil, fmt.Errorf("seller reader required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout provider required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.FeeRate.IsNegative() || params.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("platform fee rate must be in [0, 1)")
	}
	if params.TransferTimeout <= 0 {
		return nil, fmt.Errorf("transfer timeout must be positive")
	}
	provider := params.Provider
	if provider == "" {
		provider = enums.GatewayStripe
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
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
		tx:              params.Tx,
		orders:          params.Orders,
		sellers:         params.Sellers,
		ledger:          params.Ledger,
		payouts:         params.Payouts,
		provider:        provider,
		outbox:          params.Outbox,
		logg:            logg,
		metrics:         params.Metrics,
		feeRate:         params.FeeRate,
		batchSize:       batch,
		transferTimeout: params.TransferTimeout,
		now:             now,
	}, nil
}

// ParseFeeRate reads a decimal fraction such as "0.10".
func ParseFeeRate(value string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid platform fee rate %q: %w", value, err)
	}
	return rate, nil
}

// Split returns the fee withheld and the amount transferred for a gross
// amount. The fee rounds half away from zero to whole minor units.
func Split(grossCents int, rate decimal.Decimal) (feeCents, netCents int) {
	gross := decimal.NewFromInt(int64(grossCents))
	fee := gross.Mul(rate).Round(0)
	return int(fee.IntPart()), int(gross.Sub(fee).IntPart())
}

// Sweep pays every eligible order once. Candidates are paged with a keyset
// cursor so orders that keep failing cannot hide newer ones. A failure on one
// order does not stop the others; all failures are returned together.
func (s *service) Sweep(ctx context.Context) (Summary, error) {
	now := s.now().UTC()
	var (
		summary Summary
		errs    error
		cursor  *orders.PayoutCursor
	)
	for {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		page, err := s.orders.FindPayoutCandidates(ctx, now, cursor, s.batchSize)
		if err != nil {
			if summary.Candidates == 0 {
				return Summary{}, err
			}
			errs = multierr.Append(errs, err)
			break
		}
		summary.Candidates += len(page)
		for i := range page {
			errs = multierr.Append(errs, s.settle(ctx, &page[i], &summary))
		}
		if len(page) < s.batchSize {
			break
		}
		cursor = orders.CursorAfter(&page[len(page)-1])
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"candidates": summary.Candidates,
		"paid":       summary.Paid,
		"skipped":    summary.Skipped,
		"failed":     summary.Failed,
	})
	s.logg.Info(logCtx, "payout.sweep_complete")
	return summary, errs
}

func (s *service) settle(ctx context.Context, order *models.Order, summary *Summary) error {
	orderCtx := s.logg.WithOrderID(ctx, order.ID.String())
	err := s.payOrder(orderCtx, order)
	switch {
	case err == nil:
		summary.Paid++
		s.metrics.IncPayout(metrics.OutcomeSuccess)
		return nil
	case errors.Is(err, errAlreadyPaid):
		summary.Skipped++
		s.metrics.IncPayout(metrics.OutcomeDuplicate)
		return nil
	default:
		summary.Failed++
		s.metrics.IncPayout(metrics.OutcomeFailed)
		s.logg.Error(orderCtx, "payout.order_failed", err)
		return fmt.Errorf("order %s: %w", order.ID, err)
	}
}

func (s *service) payOrder(ctx context.Context, order *models.Order) error {
	seller, err := s.sellers.FindSeller(ctx, order.SellerID)
	if err != nil {
		return err
	}
	if seller.PayoutAccountID == nil || strings.TrimSpace(*seller.PayoutAccountID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "seller has no payout account")
	}
	feeCents, netCents := Split(order.PriceCents, s.feeRate)
	if netCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "payout amount must be positive").
			WithDetails(map[string]any{"gross": order.PriceCents, "fee": feeCents})
	}

	callCtx, cancel := context.WithTimeout(ctx, s.transferTimeout)
	transfer, err := s.payouts.Transfer(callCtx, gateway.TransferInput{
		DestinationAccount: *seller.PayoutAccountID,
		AmountCents:        netCents,
		Currency:           order.Currency,
		TransferGroup:      order.PaymentGroupID.String(),
		IdempotencyKey:     "payout-" + order.ID.String(),
	})
	cancel()
	if err != nil {
		return err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.orders.WithTx(tx).MarkSellerPaid(ctx, order.ID)
		if err != nil {
			return err
		}
		if !moved {
			return errAlreadyPaid
		}
		sellerID := order.SellerID
		if err := s.ledger.WithTx(tx).Create(ctx, &models.Payment{
			Type:          enums.PaymentTypePayoutToSeller,
			OrderID:       order.ID,
			SellerID:      &sellerID,
			AmountCents:   netCents,
			Currency:      order.Currency,
			Gateway:       s.provider,
			TransactionID: transfer.ID,
			Status:        enums.LedgerStatusCompleted,
		}); err != nil {
			if errors.Is(err, ledger.ErrDuplicateEntry) {
				return errAlreadyPaid
			}
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSellerPayoutRecorded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.SellerPayoutRecordedEvent{
				OrderID:     order.ID,
				SellerID:    order.SellerID,
				TransferID:  transfer.ID,
				AmountCents: netCents,
				FeeCents:    feeCents,
				Currency:    order.Currency,
			},
		})
	})
	if err != nil && !errors.Is(err, errAlreadyPaid) {
		// Money left the platform; the transfer id is the reconciliation handle.
		ctx = s.logg.WithField(ctx, "transfer_id", transfer.ID)
		s.logg.Incident(ctx, "payout.local_commit_failed", err)
	}
	return err
}
