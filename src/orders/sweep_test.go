package orders

import (
	"context"
	"errors"
	"testing"
	"time"
	"tourbook/src/models"
	"tourbook/src/payments"
	"tourbook/src/payments/paymentstest"
	"tourbook/src/saga"
	"tourbook/src/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var placedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func sweepFixtures(t *testing.T) map[string]*fixture {
	gdb := openTestDB(t)
	return map[string]*fixture{
		"memory": defaultFixture(t),
		"gorm":   newFixture(t, NewGormStock(gdb), NewGormStore(gdb), paymentstest.New("card")),
	}
}

// strand leaves an order PENDING with its stock taken, as a crash between
// persisting and charging would.
func (f *fixture) strand(t *testing.T, items ...Item) *models.Order {
	t.Helper()
	ctx := context.Background()
	order, err := f.orders.price(ctx, OrderRequest{UserID: userID, Items: items, Provider: "card"})
	require.NoError(t, err)
	require.NoError(t, f.orders.persist(ctx, order))
	return order
}

func TestExpireStaleRestocksAbandonedOrders(t *testing.T) {
	for name, f := range sweepFixtures(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			order := f.strand(t, Item{ProductID: 1, Quantity: 3}, Item{ProductID: 2, Quantity: 2})
			assert.Equal(t, 7, f.available(t, 1))
			assert.Equal(t, 0, f.available(t, 2))

			n, err := f.orders.ExpireStale(ctx, placedAt.Add(time.Minute))
			require.NoError(t, err)
			assert.Zero(t, n)

			n, err = f.orders.ExpireStale(ctx, placedAt.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			stored, err := f.store.Find(ctx, order.ID)
			require.NoError(t, err)
			assert.Equal(t, types.ORDER_CANCELLED, stored.Status)
			assert.Equal(t, types.REASON_PAYMENT_TIMEOUT, *stored.CancellationReason)
			assert.Equal(t, 10, f.available(t, 1))
			assert.Equal(t, 2, f.available(t, 2))

			n, err = f.orders.ExpireStale(ctx, placedAt.Add(time.Hour))
			require.NoError(t, err)
			assert.Zero(t, n)
			assert.Equal(t, 10, f.available(t, 1))
		})
	}
}

func TestPlaceOverGormInsertFailureKeepsStock(t *testing.T) {
	gdb := openTestDB(t)
	require.NoError(t, gdb.Callback().Create().Before("gorm:create").Register("test:fail_orders", func(tx *gorm.DB) {
		if tx.Statement.Table == "orders" {
			tx.AddError(errors.New("disk I/O error"))
		}
	}))
	f := newFixture(t, NewGormStock(gdb), NewGormStore(gdb), paymentstest.New("card"))

	_, err := f.orders.Place(context.Background(), OrderRequest{
		UserID:   userID,
		Items:    []Item{{ProductID: 1, Quantity: 4}, {ProductID: 2, Quantity: 1}},
		Provider: "card",
	})
	require.ErrorIs(t, err, saga.ErrPersistence)

	assert.Equal(t, 10, f.available(t, 1))
	assert.Equal(t, 2, f.available(t, 2))
	assert.Empty(t, f.card.Charges())
	var count int64
	require.NoError(t, gdb.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestPlaceOverGormOutOfStockTakesNothing(t *testing.T) {
	gdb := openTestDB(t)
	f := newFixture(t, NewGormStock(gdb), NewGormStore(gdb), paymentstest.New("card"))

	_, err := f.orders.Place(context.Background(), OrderRequest{
		UserID:   userID,
		Items:    []Item{{ProductID: 1, Quantity: 4}, {ProductID: 2, Quantity: 3}},
		Provider: "card",
	})
	require.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, 10, f.available(t, 1))
	assert.Equal(t, 2, f.available(t, 2))
}

func railOrders(t *testing.T) (*fixture, *paymentstest.MobileMoneyAPI) {
	t.Helper()
	api := paymentstest.NewMobileMoneyAPI()
	t.Cleanup(api.Close)
	f := defaultFixture(t)
	f.orders.gateway.Register(payments.NewMobileMoneyAdapter(payments.RailConfig{
		Name:         payments.PROVIDER_MPESA,
		BaseURL:      api.URL,
		PollInterval: 5 * time.Millisecond,
	}))
	f.orders.cfg.PaymentTimeout = 100 * time.Millisecond
	return f, api
}

var mpesaOrder = OrderRequest{
	UserID:   userID,
	Items:    []Item{{ProductID: 1, Quantity: 2}},
	Provider: payments.PROVIDER_MPESA,
	Customer: types.CustomerInfo{Phone: "+254700000001"},
}

func TestPlaceRailTimeoutRefundsLateApproval(t *testing.T) {
	f, api := railOrders(t)
	api.ApproveOnCancel()
	ctx := context.Background()

	_, err := f.orders.Place(ctx, mpesaOrder)
	require.ErrorIs(t, err, saga.ErrPaymentTimeout)

	order, err := f.store.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.ORDER_CANCELLED, order.Status)
	assert.Equal(t, types.REASON_LATE_CHARGE_REFUNDED, *order.CancellationReason)
	assert.Equal(t, 10, f.available(t, 1))

	refunds := api.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, "mm_1", refunds[0].PaymentID)
	assert.Equal(t, "refund-late-"+order.Reference, refunds[0].IdempotencyKey)
	assert.Equal(t, order.Total, refunds[0].Amount)
}

func TestReconcileTimedOutOrders(t *testing.T) {
	f, api := railOrders(t)
	api.DeferCancels(1)
	ctx := context.Background()

	_, err := f.orders.Place(ctx, mpesaOrder)
	require.ErrorIs(t, err, saga.ErrPaymentTimeout)
	order, err := f.store.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.REASON_PAYMENT_TIMEOUT, *order.CancellationReason)

	// the customer never approves, so the retried void withdraws the prompt
	n, err := f.orders.ReconcileTimedOut(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, api.Cancels())
	assert.Empty(t, api.Refunds())

	order, err = f.store.Find(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.REASON_PAYMENT_VOIDED, *order.CancellationReason)

	n, err = f.orders.ReconcileTimedOut(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
