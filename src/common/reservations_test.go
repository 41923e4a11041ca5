package common

import (
	"context"
	"testing"
	"time"
	"tourbook/src/catalog"
	"tourbook/src/ledger"
	"tourbook/src/models"
	"tourbook/src/payments"
	"tourbook/src/promo"
	"tourbook/src/saga"
	"tourbook/src/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpireReservations(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog().AddTour(models.Tour{ID: 1, PricePerAdult: 5000, Currency: "usd", MaxCapacity: 10})
	past := func() time.Time { return time.Now().Add(-time.Hour) }
	l := ledger.NewMemoryLedger(catalog.CapacityOf(cat), ledger.Options{Now: past})
	store := saga.NewMemoryStore()
	bookings := saga.NewBookingSaga(saga.Deps{
		Catalog: cat,
		Promos:  promo.NewMemoryLookup(),
		Ledger:  l,
		Gateway: payments.NewGateway(payments.DefaultRetryPolicy),
		Store:   store,
	}, saga.Config{Now: past})

	date := time.Now().AddDate(0, 0, 7).Format("2006-01-02")
	checkout, err := bookings.Reserve(ctx, saga.CheckoutRequest{
		UserID: 1,
		Items:  []saga.Item{{TourID: 1, Date: date, Adults: 3}},
	})
	require.NoError(t, err)
	orphan, err := l.Reserve(ctx, ledger.SlotKey{TourID: 1, Date: date}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, orphan.ID)

	ExpireReservations(bookings, l)

	b, err := store.FindBooking(ctx, checkout.Bookings[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.BOOKING_CANCELLED, b.Status)
	a, err := l.Query(ctx, ledger.SlotKey{TourID: 1, Date: date})
	require.NoError(t, err)
	assert.Equal(t, 10, a.SpotsLeft)
}
