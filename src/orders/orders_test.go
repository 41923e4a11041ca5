package orders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"tourbook/src/catalog"
	"tourbook/src/models"
	"tourbook/src/notify"
	"tourbook/src/payments"
	"tourbook/src/payments/paymentstest"
	"tourbook/src/pricing"
	"tourbook/src/promo"
	"tourbook/src/saga"
	"tourbook/src/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = uint(3)

var products = []models.Product{
	{ID: 1, Name: "Trail map", Price: 1500, Currency: "usd", Stock: 10},
	{ID: 2, Name: "Water bottle", Price: 2500, Currency: "usd", Stock: 2},
	{ID: 3, Name: "Souvenir", Price: 900, Currency: "eur", Stock: 5},
}

type fixture struct {
	orders   *OrderSaga
	stock    StockLedger
	store    Store
	card     *paymentstest.Adapter
	recorder *notify.Recorder
}

func newFixture(t *testing.T, stock StockLedger, store Store, card *paymentstest.Adapter) *fixture {
	t.Helper()
	cat := catalog.NewMemoryCatalog()
	for _, p := range products {
		cat.AddProduct(p)
	}
	maxOff := int64(1000)
	f := &fixture{stock: stock, store: store, card: card, recorder: &notify.Recorder{}}
	f.orders = NewOrderSaga(Deps{
		Catalog:  cat,
		Promos:   promo.NewMemoryLookup(models.PromoCode{Code: "GEAR10", DiscountType: types.DISCOUNT_PERCENTAGE, DiscountValue: 10, MaxDiscount: &maxOff}),
		Stock:    stock,
		Gateway:  payments.NewGateway(payments.RetryPolicy{}, card),
		Store:    store,
		Notifier: f.recorder,
	}, Config{
		Rates: pricing.OrderRates{TaxBps: 800, ShippingFlat: 500, FreeShippingOver: 10000},
		Now:   func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	return f
}

func defaultFixture(t *testing.T) *fixture {
	return newFixture(t, NewMemoryStock(products...), NewMemoryStore(), paymentstest.New("card"))
}

func (f *fixture) available(t *testing.T, id uint) int {
	t.Helper()
	n, err := f.stock.Available(context.Background(), id)
	require.NoError(t, err)
	return n
}

func TestPlaceConfirmsOrder(t *testing.T) {
	f := defaultFixture(t)

	order, err := f.orders.Place(context.Background(), OrderRequest{
		UserID:    userID,
		Items:     []Item{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}, {ProductID: 1, Quantity: 1}},
		PromoCode: "gear10",
		Provider:  "card",
	})
	require.NoError(t, err)

	assert.Equal(t, types.ORDER_CONFIRMED, order.Status)
	assert.True(t, strings.HasPrefix(order.Reference, "OR-"))
	require.Len(t, order.Items, 2)
	assert.Equal(t, 3, order.Items[0].Quantity)
	// 7000 subtotal, 560 tax, 500 shipping, 700 off
	assert.Equal(t, int64(7000), order.Subtotal)
	assert.Equal(t, int64(560), order.Tax)
	assert.Equal(t, int64(500), order.Shipping)
	assert.Equal(t, int64(700), order.Discount)
	assert.Equal(t, int64(7360), order.Total)
	assert.Equal(t, int64(7360), f.card.Charges()[0].Amount)

	assert.Equal(t, 7, f.available(t, 1))
	assert.Equal(t, 1, f.available(t, 2))

	stored, err := f.orders.Get(context.Background(), order.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, "card_1", *stored.TransactionRef)
	_, err = f.orders.Get(context.Background(), order.ID, userID+1)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPlaceOutOfStockRestocksEverything(t *testing.T) {
	f := defaultFixture(t)

	_, err := f.orders.Place(context.Background(), OrderRequest{
		UserID:   userID,
		Items:    []Item{{ProductID: 1, Quantity: 4}, {ProductID: 2, Quantity: 3}},
		Provider: "card",
	})
	require.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, "Not enough stock for one or more items", PublicMessage(err))

	assert.Equal(t, 10, f.available(t, 1))
	assert.Equal(t, 2, f.available(t, 2))
	assert.Empty(t, f.card.Charges())
}

func TestPlaceDeclineCancelsAndRestocks(t *testing.T) {
	card := paymentstest.New("card", &payments.DeclinedError{Provider: "card", Code: "card_declined"})
	f := newFixture(t, NewMemoryStock(products...), NewMemoryStore(), card)

	_, err := f.orders.Place(context.Background(), OrderRequest{
		UserID:   userID,
		Items:    []Item{{ProductID: 2, Quantity: 2}},
		Provider: "card",
	})
	require.ErrorIs(t, err, payments.ErrPaymentDeclined)

	order, err := f.store.Find(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, types.ORDER_CANCELLED, order.Status)
	assert.Equal(t, types.REASON_PAYMENT_DECLINED, *order.CancellationReason)
	assert.Equal(t, 2, f.available(t, 2))
	assert.Eventually(t, func() bool {
		kinds := f.recorder.Kinds()
		return len(kinds) == 1 && kinds[0] == notify.ORDER_CANCELLED
	}, time.Second, 10*time.Millisecond)
}

func TestPlaceTimeout(t *testing.T) {
	card := paymentstest.New("card")
	card.Delay = 500 * time.Millisecond
	f := newFixture(t, NewMemoryStock(products...), NewMemoryStore(), card)
	f.orders.cfg.PaymentTimeout = 20 * time.Millisecond

	_, err := f.orders.Place(context.Background(), OrderRequest{UserID: userID, Items: []Item{{ProductID: 1, Quantity: 1}}, Provider: "card"})
	require.ErrorIs(t, err, saga.ErrPaymentTimeout)

	order, err := f.store.Find(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, types.REASON_PAYMENT_TIMEOUT, *order.CancellationReason)
	assert.Equal(t, 10, f.available(t, 1))
}

func TestPlaceConfirmFailureRefunds(t *testing.T) {
	store := &failingStore{Store: NewMemoryStore(), confirmErr: errors.New("connection reset")}
	f := newFixture(t, NewMemoryStock(products...), store, paymentstest.New("card"))

	_, err := f.orders.Place(context.Background(), OrderRequest{UserID: userID, Items: []Item{{ProductID: 1, Quantity: 1}}, Provider: "card"})
	require.ErrorIs(t, err, saga.ErrPersistence)

	refunds := f.card.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, "card_1", refunds[0].TransactionRef)
	assert.Equal(t, 10, f.available(t, 1))
}

func TestPlaceValidation(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	_, err := f.orders.Place(ctx, OrderRequest{UserID: userID, Provider: "card"})
	assert.ErrorIs(t, err, saga.ErrValidation)
	_, err = f.orders.Place(ctx, OrderRequest{UserID: userID, Provider: "card", Items: []Item{{ProductID: 1, Quantity: 0}}})
	assert.ErrorIs(t, err, saga.ErrValidation)
	_, err = f.orders.Place(ctx, OrderRequest{UserID: userID, Provider: "card", Items: []Item{{ProductID: 1, Quantity: 1}, {ProductID: 3, Quantity: 1}}})
	assert.ErrorIs(t, err, saga.ErrValidation)
	_, err = f.orders.Place(ctx, OrderRequest{UserID: userID, Provider: "card", Items: []Item{{ProductID: 42, Quantity: 1}}})
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
	_, err = f.orders.Place(ctx, OrderRequest{UserID: userID, Provider: "cash", Items: []Item{{ProductID: 1, Quantity: 1}}})
	assert.ErrorIs(t, err, payments.ErrInvalidPaymentMethod)

	assert.Equal(t, 10, f.available(t, 1))
}

type failingStore struct {
	Store
	confirmErr error
}

func (s *failingStore) Confirm(ctx context.Context, id uint, ref string) error {
	if s.confirmErr != nil {
		return s.confirmErr
	}
	return s.Store.Confirm(ctx, id, ref)
}
