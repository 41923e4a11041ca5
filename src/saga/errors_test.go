package saga

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"tourbook/src/ledger"
	"tourbook/src/payments"
	"tourbook/src/promo"
	"tourbook/src/types"

	"github.com/stretchr/testify/assert"
)

func TestPublicMessageHidesInternals(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("tour 1 on 2026-03-10: %w", ledger.ErrCapacityExceeded), "Not enough spots left for the selected date"},
		{&payments.DeclinedError{Provider: "card", Code: "insufficient_funds", Message: "Your card has insufficient funds."}, "Payment was declined. Please try a different payment method."},
		{fmt.Errorf("%w: %w", ErrPaymentTimeout, context.DeadlineExceeded), "Payment timed out. Your booking was cancelled and you were not charged."},
		{fmt.Errorf("%w: pq: relation bookings does not exist", ErrPersistence), "Something went wrong. Please try again."},
		{&promo.RejectedError{Code: "HOLIDAY15", Reason: promo.Expired}, "Promo code HOLIDAY15 has expired"},
		{&promo.RejectedError{Code: "NOPE", Reason: promo.NotFound}, "Invalid promo code"},
		{validation("item 1 needs at least one participant"), "invalid request: item 1 needs at least one participant"},
		{errors.New("dial tcp 10.0.0.3:5432: connection refused"), "Something went wrong. Please try again."},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, PublicMessage(tc.err))
	}
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, types.REASON_PAYMENT_TIMEOUT, FailureReason(fmt.Errorf("%w: %w", ErrPaymentTimeout, context.DeadlineExceeded)))
	assert.Equal(t, types.REASON_PAYMENT_DECLINED, FailureReason(&payments.DeclinedError{Provider: "mpesa"}))
	assert.Equal(t, types.REASON_PROVIDER_UNAVAILABLE, FailureReason(fmt.Errorf("%w: %w", payments.ErrRetryExhausted, payments.ErrProviderUnavailable)))
}
