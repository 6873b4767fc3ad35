// Package dbtest opens isolated in-memory sqlite databases migrated with the
// production models, plus seed helpers shared by repository and service tests.
package dbtest

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// Open returns a fresh database. A single connection keeps sqlite
// transactions serialized the way row locks would in postgres.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:mf_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(
		&models.Seller{},
		&models.User{},
		&models.Product{},
		&models.Cart{},
		&models.CartEntry{},
		&models.Order{},
		&models.OrderLineItem{},
		&models.Payment{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return conn
}

// Client wraps Open in the transaction runner used by services.
func Client(t *testing.T) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.FromGorm(conn), conn
}

func MustCreateSeller(t *testing.T, conn *gorm.DB, payoutAccount string) *models.Seller {
	t.Helper()
	seller := &models.Seller{Name: "Seller", Email: "seller-" + uuid.NewString()[:8] + "@example.com"}
	if payoutAccount != "" {
		seller.PayoutAccountID = &payoutAccount
	}
	if err := conn.Create(seller).Error; err != nil {
		t.Fatalf("create seller: %v", err)
	}
	return seller
}

func MustCreateUser(t *testing.T, conn *gorm.DB) *models.User {
	t.Helper()
	phone := "+919999999999"
	user := &models.User{
		Name:  "Buyer",
		Email: "buyer-" + uuid.NewString()[:8] + "@example.com",
		Phone: &phone,
	}
	if err := conn.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func MustCreateProduct(t *testing.T, conn *gorm.DB, sellerID uuid.UUID, priceCents, quantity int) *models.Product {
	t.Helper()
	product := &models.Product{
		SellerID:   sellerID,
		Title:      "Product " + uuid.NewString()[:6],
		PriceCents: priceCents,
		MRPCents:   priceCents + priceCents/5,
		Quantity:   quantity,
		IsActive:   true,
	}
	if err := conn.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

// CartLine seeds one cart entry.
type CartLine struct {
	ProductID uuid.UUID
	Quantity  int
}

func MustCreateCart(t *testing.T, conn *gorm.DB, userID uuid.UUID, lines ...CartLine) *models.Cart {
	t.Helper()
	cart := &models.Cart{UserID: userID}
	for _, line := range lines {
		cart.Entries = append(cart.Entries, models.CartEntry{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	if err := conn.Create(cart).Error; err != nil {
		t.Fatalf("create cart: %v", err)
	}
	return cart
}

func ProductQuantity(t *testing.T, conn *gorm.DB, productID uuid.UUID) int {
	t.Helper()
	var product models.Product
	if err := conn.First(&product, "id = ?", productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return product.Quantity
}

func Count(t *testing.T, conn *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := conn.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// OrderSeed describes a single-line order. Zero statuses default to a fresh
// pending order; zero Quantity defaults to 1.
type OrderSeed struct {
	UserID              uuid.UUID
	Product             *models.Product
	Quantity            int
	PaymentGroupID      uuid.UUID
	Gateway             enums.Gateway
	IntentID            string
	PaymentStatus       enums.PaymentStatus
	OrderStatus         enums.OrderStatus
	SellerPaid          bool
	DeliveredAt         *time.Time
	RefundEligibleUntil *time.Time
}

func MustCreateOrder(t *testing.T, conn *gorm.DB, seed OrderSeed) *models.Order {
	t.Helper()
	if seed.Product == nil {
		t.Fatalf("order seed requires a product")
	}
	qty := seed.Quantity
	if qty == 0 {
		qty = 1
	}
	if seed.PaymentGroupID == uuid.Nil {
		seed.PaymentGroupID = uuid.New()
	}
	if seed.Gateway == "" {
		seed.Gateway = enums.GatewayRazorpay
	}
	if seed.PaymentStatus == "" {
		seed.PaymentStatus = enums.PaymentStatusNotPaid
	}
	if seed.OrderStatus == "" {
		seed.OrderStatus = enums.OrderStatusPaymentPending
	}
	order := &models.Order{
		UserID:              seed.UserID,
		SellerID:            seed.Product.SellerID,
		PaymentGroupID:      seed.PaymentGroupID,
		Gateway:             seed.Gateway,
		PriceCents:          seed.Product.PriceCents * qty,
		MRPCents:            seed.Product.MRPCents * qty,
		Currency:            "INR",
		PaymentStatus:       seed.PaymentStatus,
		OrderStatus:         seed.OrderStatus,
		SellerPaid:          seed.SellerPaid,
		DeliveredAt:         seed.DeliveredAt,
		RefundEligibleUntil: seed.RefundEligibleUntil,
		LineItems: []models.OrderLineItem{{
			ProductID:      seed.Product.ID,
			Title:          seed.Product.Title,
			Quantity:       qty,
			UnitPriceCents: seed.Product.PriceCents,
			UnitMRPCents:   seed.Product.MRPCents,
			TotalCents:     seed.Product.PriceCents * qty,
		}},
	}
	if seed.IntentID != "" {
		intent := seed.IntentID
		order.ProviderIntentID = &intent
	}
	if err := conn.Create(order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

// MustCreateReceive records the Receive ledger row a confirmed payment leaves behind.
func MustCreateReceive(t *testing.T, conn *gorm.DB, order *models.Order, transactionID string) *models.Payment {
	t.Helper()
	userID := order.UserID
	payment := &models.Payment{
		Type:          enums.PaymentTypeReceive,
		OrderID:       order.ID,
		UserID:        &userID,
		AmountCents:   order.PriceCents,
		Currency:      order.Currency,
		Gateway:       order.Gateway,
		TransactionID: transactionID,
		Status:        enums.LedgerStatusCompleted,
	}
	if err := conn.Create(payment).Error; err != nil {
		t.Fatalf("create receive payment: %v", err)
	}
	return payment
}

func LoadOrder(t *testing.T, conn *gorm.DB, orderID uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	if err := conn.Preload("LineItems").First(&order, "id = ?", orderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	return &order
}
