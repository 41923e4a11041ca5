package cart

import (
	"context"
	"testing"
	"time"
	"tourbook/src/models"
	"tourbook/src/pricing"
	"tourbook/src/promo"
	"tourbook/src/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

var now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func promos() *promo.MemoryLookup {
	return promo.NewMemoryLookup(
		models.PromoCode{
			Code:          "SUMMER20",
			DiscountType:  types.DISCOUNT_PERCENTAGE,
			DiscountValue: 20,
			MinPurchase:   ptr(int64(10000)),
			MaxDiscount:   ptr(int64(5000)),
		},
		models.PromoCode{
			Code:          "HOLIDAY15",
			DiscountType:  types.DISCOUNT_PERCENTAGE,
			DiscountValue: 15,
			ExpiryDate:    ptr(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)),
		},
	)
}

func familyItem() LineItem {
	return LineItem{
		TourID:        1,
		Date:          "2026-03-01",
		Participants:  pricing.Participants{Adults: 2, Children: 1},
		PricePerAdult: 10000,
		PricePerChild: 7000,
	}
}

func TestAddItemAndApplySummerPromo(t *testing.T) {
	c := AddItem(New(), familyItem(), now)
	assert.Equal(t, int64(27000), c.Subtotal)

	c, err := ApplyPromo(context.Background(), c, "SUMMER20", promos(), now)
	require.NoError(t, err)

	assert.Equal(t, int64(27000), c.Subtotal)
	assert.Equal(t, int64(5000), c.Discount)
	assert.Equal(t, int64(22000), c.Total)
	assert.Equal(t, "SUMMER20", c.AppliedPromo.Code)
}

func TestApplyExpiredPromoLeavesCartUnchanged(t *testing.T) {
	c := AddItem(New(), familyItem(), now)
	c, err := ApplyPromo(context.Background(), c, "SUMMER20", promos(), now)
	require.NoError(t, err)

	after, err := ApplyPromo(context.Background(), c, "HOLIDAY15", promos(), now)

	assert.ErrorIs(t, err, promo.ErrInvalidPromo)
	assert.Equal(t, c, after)
	assert.Equal(t, "SUMMER20", after.AppliedPromo.Code)
}

func TestReducersDoNotMutateInput(t *testing.T) {
	item := familyItem()
	item.AddOns = []types.AddOn{{ID: "lunch", Price: 1500}}
	original := AddItem(New(), item, now)

	updated := UpdateItem(original, 0, LineItem{TourID: 1, Date: "2026-03-01", Participants: pricing.Participants{Adults: 1}, PricePerAdult: 10000}, now)
	removed := RemoveItem(original, 0, now)
	added := AddItem(original, familyItem(), now)

	assert.Len(t, original.Items, 1)
	assert.Equal(t, int64(28500), original.Total)
	assert.Equal(t, int64(10000), updated.Total)
	assert.Empty(t, removed.Items)
	assert.Equal(t, int64(0), removed.Total)
	assert.Len(t, added.Items, 2)
	assert.Equal(t, int64(55500), added.Subtotal)
}

func TestPromoDroppedWhenCartFallsBelowMinimum(t *testing.T) {
	c := AddItem(New(), familyItem(), now)
	c, err := ApplyPromo(context.Background(), c, "SUMMER20", promos(), now)
	require.NoError(t, err)

	small := UpdateItem(c, 0, LineItem{TourID: 1, Date: "2026-03-01", Participants: pricing.Participants{Children: 1}, PricePerChild: 7000}, now)

	assert.Nil(t, small.AppliedPromo)
	assert.Equal(t, int64(0), small.Discount)
	assert.Equal(t, int64(7000), small.Total)
}

func TestRemovePromo(t *testing.T) {
	c := AddItem(New(), familyItem(), now)
	c, err := ApplyPromo(context.Background(), c, "SUMMER20", promos(), now)
	require.NoError(t, err)

	c = RemovePromo(c)
	assert.Nil(t, c.AppliedPromo)
	assert.Equal(t, c.Subtotal, c.Total)
}

func TestRemoveItemOutOfRange(t *testing.T) {
	c := AddItem(New(), familyItem(), now)
	same := RemoveItem(c, 5, now)
	assert.Equal(t, c.Total, same.Total)
	assert.Len(t, same.Items, 1)
}
