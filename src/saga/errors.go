package saga

import (
	"context"
	"errors"
	"fmt"
	"tourbook/src/catalog"
	"tourbook/src/ledger"
	"tourbook/src/payments"
	"tourbook/src/promo"
	"tourbook/src/types"
)

var (
	ErrValidation               = errors.New("invalid request")
	ErrPersistence              = errors.New("persistence failure")
	ErrPaymentTimeout           = errors.New("payment timed out")
	ErrBookingNotFound          = errors.New("booking not found")
	ErrTransactionNotFound      = errors.New("payment transaction not found")
	ErrPartialPayment           = errors.New("bookings must be paid as one complete checkout")
	ErrAmountMismatch           = errors.New("amount does not match booking total")
	ErrPaymentInProgress        = errors.New("payment already in progress for checkout")
	ErrInvalidState             = errors.New("booking state does not allow this operation")
	ErrCancellationWindowClosed = errors.New("cancellation window closed")
	ErrReservationExpired       = errors.New("reservation expired before confirmation")
	ErrRefundFailed             = errors.New("refund failed")
	ErrReferenceExhausted       = errors.New("could not allocate a unique reference")
)

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// FailureReason maps a charge error onto the cancellation reason stored with
// the rolled back bookings.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrPaymentTimeout), errors.Is(err, context.DeadlineExceeded):
		return types.REASON_PAYMENT_TIMEOUT
	case errors.Is(err, payments.ErrPaymentDeclined):
		return types.REASON_PAYMENT_DECLINED
	}
	return types.REASON_PROVIDER_UNAVAILABLE
}

// PublicMessage is the text shown to users for err. Provider and database
// details never reach it.
func PublicMessage(err error) string {
	var rejected *promo.RejectedError
	switch {
	case errors.As(err, &rejected):
		switch rejected.Reason {
		case promo.Expired:
			return fmt.Sprintf("Promo code %s has expired", rejected.Code)
		case promo.BelowMinimumPurchase:
			return fmt.Sprintf("Cart total is below the minimum purchase for promo code %s", rejected.Code)
		}
		return "Invalid promo code"
	case errors.Is(err, ledger.ErrConcurrentOversell):
		return "Something went wrong. Please try again."
	case errors.Is(err, ledger.ErrCapacityExceeded):
		return "Not enough spots left for the selected date"
	case errors.Is(err, payments.ErrPaymentDeclined):
		return "Payment was declined. Please try a different payment method."
	case errors.Is(err, payments.ErrInvalidPaymentMethod):
		return "Unsupported or incomplete payment method"
	case errors.Is(err, payments.ErrProviderUnavailable):
		return "Payment provider is temporarily unavailable. Please try again."
	case errors.Is(err, ErrPaymentTimeout):
		return "Payment timed out. Your booking was cancelled and you were not charged."
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, catalog.ErrTourNotFound):
		return "Tour not found"
	case errors.Is(err, ErrBookingNotFound):
		return "Booking not found"
	case errors.Is(err, ErrPartialPayment):
		return "All bookings from one checkout must be paid together"
	case errors.Is(err, ErrAmountMismatch):
		return "Amount does not match the booking total"
	case errors.Is(err, ErrPaymentInProgress):
		return "A payment for this checkout is already in progress"
	case errors.Is(err, ErrCancellationWindowClosed):
		return "Bookings can only be cancelled at least 24 hours before the tour starts"
	case errors.Is(err, ErrInvalidState):
		return "Booking cannot be changed in its current state"
	case errors.Is(err, ErrReservationExpired):
		return "Your reservation expired before payment completed. Any payment taken has been refunded."
	case errors.Is(err, ErrRefundFailed):
		return "Refund could not be processed. Please contact support."
	}
	return "Something went wrong. Please try again."
}
