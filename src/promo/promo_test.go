package promo

import (
	"context"
	"errors"
	"testing"
	"time"
	"tourbook/src/db"
	"tourbook/src/models"
	"tourbook/src/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

var (
	summer20 = models.PromoCode{
		Code:          "SUMMER20",
		DiscountType:  types.DISCOUNT_PERCENTAGE,
		DiscountValue: 20,
		MinPurchase:   ptr(int64(10000)),
		MaxDiscount:   ptr(int64(5000)),
	}
	holiday15 = models.PromoCode{
		Code:          "HOLIDAY15",
		DiscountType:  types.DISCOUNT_PERCENTAGE,
		DiscountValue: 15,
		ExpiryDate:    ptr(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)),
	}
)

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected), "expected RejectedError, got %v", err)
	assert.ErrorIs(t, err, ErrInvalidPromo)
	return rejected.Reason
}

func TestValidate(t *testing.T) {
	lookup := NewMemoryLookup(summer20, holiday15)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("accepts a valid code regardless of case", func(t *testing.T) {
		p, err := Validate(ctx, lookup, " summer20 ", 27000, now)
		require.NoError(t, err)
		assert.Equal(t, "SUMMER20", p.Code)
	})

	t.Run("rejects an expired code", func(t *testing.T) {
		_, err := Validate(ctx, lookup, "HOLIDAY15", 27000, now)
		assert.Equal(t, Expired, reasonOf(t, err))
	})

	t.Run("rejects an unknown code", func(t *testing.T) {
		_, err := Validate(ctx, lookup, "NOPE", 27000, now)
		assert.Equal(t, NotFound, reasonOf(t, err))
	})

	t.Run("rejects an empty code", func(t *testing.T) {
		_, err := Validate(ctx, lookup, "  ", 27000, now)
		assert.Equal(t, NotFound, reasonOf(t, err))
	})

	t.Run("rejects below minimum purchase", func(t *testing.T) {
		_, err := Validate(ctx, lookup, "SUMMER20", 9999, now)
		assert.Equal(t, BelowMinimumPurchase, reasonOf(t, err))
	})
}

func TestCheckMalformed(t *testing.T) {
	err := Check(models.PromoCode{Code: "BAD", DiscountType: types.DISCOUNT_PERCENTAGE, DiscountValue: 150}, 1000, time.Now())
	assert.Equal(t, Malformed, reasonOf(t, err))

	err = Check(models.PromoCode{Code: "BAD", DiscountType: "bogus", DiscountValue: 1}, 1000, time.Now())
	assert.Equal(t, Malformed, reasonOf(t, err))
}

func TestGormLookup(t *testing.T) {
	gdb, err := db.OpenSQLite("file:promotest?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&models.PromoCode{}))
	require.NoError(t, gdb.Create(ptr(summer20)).Error)

	lookup := NewGormLookup(gdb)
	p, err := lookup.FindPromo(context.Background(), "SUMMER20")
	require.NoError(t, err)
	assert.Equal(t, int64(20), p.DiscountValue)
	assert.Equal(t, int64(5000), *p.MaxDiscount)

	_, err = lookup.FindPromo(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}
