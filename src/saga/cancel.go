package saga

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"tourbook/src/lib/metrics"
	"tourbook/src/models"
	"tourbook/src/notify"
	"tourbook/src/payments"
	"tourbook/src/types"
	"tourbook/src/utils"

	"github.com/google/uuid"
)

func (s *BookingSaga) ListBookings(ctx context.Context, userID uint) ([]models.Booking, error) {
	return s.store.ListBookings(ctx, userID)
}

// GetBooking returns the booking when it belongs to userID.
func (s *BookingSaga) GetBooking(ctx context.Context, bookingID, userID uint) (*models.Booking, error) {
	b, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

// Cancel cancels a booking on behalf of its owner.
//
// A PENDING booking takes its whole unpaid checkout with it. A CONFIRMED
// booking can be cancelled until the cutoff before the tour starts. Bookings
// of the same checkout on the same tour and date share one capacity hold, so
// cancelling any of them cancels all of them, each refunded for its own
// share. The returned slice holds every booking cancelled, not only
// bookingID.
//
// A pending payment blocks cancellation with ErrPaymentInProgress until it
// is older than the hold window plus the payment timeout; it is then failed
// and voided at the provider along with the checkout.
func (s *BookingSaga) Cancel(ctx context.Context, bookingID, userID uint, reason string, now time.Time) ([]models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = types.REASON_USER_REQUESTED
	}

	var group []models.Booking
	var abandoned *models.PaymentTransaction
	switch b.Status {
	case types.BOOKING_PENDING:
		txn, err := s.store.FindTransactionByCheckout(ctx, b.CheckoutID)
		if err != nil && !errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
		if txn != nil && txn.Status == types.TRANSACTION_PENDING {
			if !s.paymentStale(txn, now) {
				return nil, ErrPaymentInProgress
			}
			if err := s.abandonPayment(ctx, txn); err != nil {
				return nil, err
			}
			abandoned = txn
		}
		group, err = s.checkoutWith(ctx, b, func(other models.Booking) bool {
			return other.Status == types.BOOKING_PENDING
		})
		if err != nil {
			return nil, err
		}
	case types.BOOKING_CONFIRMED:
		if err := s.checkCutoff(ctx, b, now); err != nil {
			return nil, err
		}
		group, err = s.checkoutWith(ctx, b, func(other models.Booking) bool {
			return other.Status == types.BOOKING_CONFIRMED && other.HoldToken == b.HoldToken
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidState, b.Reference, b.Status)
	}

	ids := bookingIDs(group)
	if err := s.store.Cancel(ctx, ids, reason, now); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	ctx = context.WithoutCancel(ctx)
	s.release(ctx, holdTokens(group))
	s.publish(ctx, notify.BOOKING_CANCELLED, group, 0, reason, types.CustomerInfo{})
	if abandoned != nil {
		s.settleTimedOut(ctx, abandoned)
	}

	if b.Status == types.BOOKING_CONFIRMED {
		for i := range group {
			group[i].Status = types.BOOKING_CANCELLED
			if err := s.refundBooking(ctx, &group[i]); err != nil {
				log.Printf("[BookingSaga] Error refunding booking %s: %s\n", group[i].Reference, err.Error())
			}
		}
	}
	return s.store.FindBookings(ctx, ids)
}

// checkoutWith returns b plus the other bookings of its checkout matching keep.
func (s *BookingSaga) checkoutWith(ctx context.Context, b *models.Booking, keep func(models.Booking) bool) ([]models.Booking, error) {
	if b.HoldToken == "" && b.Status == types.BOOKING_CONFIRMED {
		return []models.Booking{*b}, nil
	}
	all, err := s.store.FindCheckout(ctx, b.CheckoutID)
	if err != nil {
		return nil, err
	}
	group := []models.Booking{}
	for _, other := range all {
		if other.ID == b.ID || keep(other) {
			group = append(group, other)
		}
	}
	return group, nil
}

func (s *BookingSaga) checkCutoff(ctx context.Context, b *models.Booking, now time.Time) error {
	startTime := ""
	if tour, err := s.catalog.Tour(ctx, b.TourID); err == nil {
		startTime = tour.StartTime
	}
	start, err := utils.TourStart(b.Date, startTime, s.cfg.Location)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if start.Sub(now) < s.cfg.CancellationCutoff {
		return ErrCancellationWindowClosed
	}
	return nil
}

// Refund refunds a CANCELLED booking that was paid for.
func (s *BookingSaga) Refund(ctx context.Context, bookingID uint) (*models.Booking, error) {
	b, err := s.store.FindBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != types.BOOKING_CANCELLED || b.TransactionID == nil || b.TotalPrice <= 0 {
		return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidState, b.Reference, b.Status)
	}
	if err := s.refundBooking(ctx, b); err != nil {
		return nil, err
	}
	return s.store.FindBooking(ctx, bookingID)
}

// refundBooking returns the booking's share of its checkout payment. A
// booking that was free or never paid is left as is.
func (s *BookingSaga) refundBooking(ctx context.Context, b *models.Booking) error {
	if b.TransactionID == nil || b.TotalPrice <= 0 {
		return nil
	}
	txn, err := s.store.FindTransaction(ctx, *b.TransactionID)
	if err != nil {
		return err
	}
	if txn.TransactionRef == nil {
		return fmt.Errorf("%w: transaction %s has no provider reference", ErrRefundFailed, txn.ID)
	}
	_, err = s.gateway.Refund(ctx, txn.Provider, payments.RefundRequest{
		IdempotencyKey: fmt.Sprintf("refund-booking-%d", b.ID),
		TransactionRef: *txn.TransactionRef,
		Amount:         b.TotalPrice,
		Currency:       b.Currency,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRefundFailed, err)
	}
	if err := s.store.MarkRefunded(ctx, []uint{b.ID}); err != nil {
		return err
	}
	b.Status = types.BOOKING_REFUNDED
	s.publish(ctx, notify.BOOKING_REFUNDED, []models.Booking{*b}, b.TotalPrice, "", types.CustomerInfo{})
	return nil
}

// ExpireAbandoned cancels PENDING checkouts older than the hold window,
// returning their capacity. A checkout whose payment is still marked pending
// is left alone until no Settle can be waiting on it any more; its charge is
// then failed and voided at the provider. It reports how many bookings were
// cancelled.
func (s *BookingSaga) ExpireAbandoned(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.StalePending(ctx, now.Add(-s.cfg.HoldWindow))
	if err != nil {
		return 0, err
	}
	checkouts := map[uuid.UUID][]models.Booking{}
	order := []uuid.UUID{}
	for _, b := range stale {
		if _, ok := checkouts[b.CheckoutID]; !ok {
			order = append(order, b.CheckoutID)
		}
		checkouts[b.CheckoutID] = append(checkouts[b.CheckoutID], b)
	}

	expired := 0
	for _, checkoutID := range order {
		group := checkouts[checkoutID]
		txn, err := s.store.FindTransactionByCheckout(ctx, checkoutID)
		if err != nil && !errors.Is(err, ErrTransactionNotFound) {
			log.Printf("[BookingSaga] Error checking payment for %s: %s\n", checkoutID, err.Error())
			continue
		}
		reason := types.REASON_HOLD_EXPIRED
		var abandoned *models.PaymentTransaction
		if txn != nil && txn.Status == types.TRANSACTION_PENDING {
			if !s.paymentStale(txn, now) {
				continue
			}
			if err := s.abandonPayment(ctx, txn); err != nil {
				log.Printf("[BookingSaga] Error failing transaction %s: %s\n", txn.ID, err.Error())
				continue
			}
			reason = types.REASON_PAYMENT_TIMEOUT
			abandoned = txn
		}
		if err := s.store.Cancel(ctx, bookingIDs(group), reason, now); err != nil {
			log.Printf("[BookingSaga] Error expiring checkout %s: %s\n", checkoutID, err.Error())
			continue
		}
		s.release(ctx, holdTokens(group))
		metrics.SagaOutcomes.WithLabelValues(FLOW_BOOKING, string(ROLLED_BACK), reason).Inc()
		s.publish(ctx, notify.BOOKING_CANCELLED, group, 0, reason, types.CustomerInfo{})
		if abandoned != nil {
			s.settleTimedOut(ctx, abandoned)
		}
		expired += len(group)
	}
	if expired > 0 {
		log.Printf("[BookingSaga] Expired %d abandoned bookings\n", expired)
	}
	return expired, nil
}

// ReconcileRefund applies a refund issued outside the service, such as one
// made from the provider dashboard. Confirmed bookings are cancelled and
// their capacity returned. It reports how many bookings were marked refunded.
func (s *BookingSaga) ReconcileRefund(ctx context.Context, transactionRef string) (int, error) {
	txn, err := s.store.FindTransactionByRef(ctx, transactionRef)
	if err != nil {
		return 0, err
	}
	bookings, err := s.store.FindBookings(ctx, txn.BookingIDs)
	if err != nil {
		return 0, err
	}
	now := s.cfg.Now()
	affected := []models.Booking{}
	for _, b := range bookings {
		if b.Status == types.BOOKING_CONFIRMED || b.Status == types.BOOKING_CANCELLED {
			affected = append(affected, b)
		}
	}
	if len(affected) == 0 {
		return 0, nil
	}
	ids := bookingIDs(affected)
	if err := s.store.Cancel(ctx, ids, "refunded_by_provider", now); err != nil {
		return 0, err
	}
	s.release(ctx, holdTokens(affected))
	if err := s.store.MarkRefunded(ctx, ids); err != nil {
		return 0, err
	}
	s.publish(ctx, notify.BOOKING_REFUNDED, affected, txn.Amount, "", types.CustomerInfo{})
	return len(affected), nil
}

// ReconcileLateCharge handles a provider reporting a successful charge for a
// checkout that was already rolled back, typically after a payment timeout.
// The stray charge is refunded.
func (s *BookingSaga) ReconcileLateCharge(ctx context.Context, checkoutID uuid.UUID, transactionRef string, amount int64) error {
	txn, err := s.store.FindTransactionByCheckout(ctx, checkoutID)
	if err != nil {
		return err
	}
	if txn.Status != types.TRANSACTION_FAILED {
		return nil
	}
	if amount <= 0 {
		amount = txn.Amount
	}
	log.Printf("[BookingSaga] Late charge %s for rolled back checkout %s, refunding\n", transactionRef, checkoutID)
	_, err = s.gateway.Refund(ctx, txn.Provider, payments.RefundRequest{
		IdempotencyKey: "refund-late-" + checkoutID.String(),
		TransactionRef: transactionRef,
		Amount:         amount,
		Currency:       txn.Currency,
	})
	if err != nil {
		metrics.IntegrityAlarms.WithLabelValues("unrefunded_charge").Inc()
		log.Printf("[BookingSaga] INTEGRITY ALARM late charge %s on checkout %s could not be refunded: %s\n", transactionRef, checkoutID, err.Error())
		return fmt.Errorf("%w: %w", ErrRefundFailed, err)
	}
	return nil
}

// paymentStale reports whether a pending transaction has outlived any Settle
// that could still be charging it.
func (s *BookingSaga) paymentStale(txn *models.PaymentTransaction, now time.Time) bool {
	return now.After(txn.CreatedAt.Add(s.cfg.HoldWindow + s.cfg.PaymentTimeout))
}

func (s *BookingSaga) abandonPayment(ctx context.Context, txn *models.PaymentTransaction) error {
	log.Printf("[BookingSaga] Payment %s for checkout %s never resolved, failing it\n", txn.ID, txn.CheckoutID)
	if err := s.store.FailPendingTransaction(ctx, txn.ID, types.REASON_PAYMENT_TIMEOUT); err != nil {
		return err
	}
	txn.Status = types.TRANSACTION_FAILED
	return nil
}

// settleTimedOut asks the provider to void a charge given up on after a
// payment timeout. A charge the customer completed anyway is refunded. It
// reports whether the charge reached a final state; providers that cannot
// void report through their webhooks instead.
func (s *BookingSaga) settleTimedOut(ctx context.Context, txn *models.PaymentTransaction) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PaymentTimeout)
	defer cancel()
	res, err := s.gateway.Void(ctx, txn.Provider, chargeKey(txn.CheckoutID))
	if errors.Is(err, payments.ErrVoidUnsupported) {
		return false
	}
	if err != nil {
		log.Printf("[BookingSaga] Error voiding charge for checkout %s: %s\n", txn.CheckoutID, err.Error())
		return false
	}

	reason := types.REASON_PAYMENT_VOIDED
	switch res.Status {
	case payments.STATUS_PENDING:
		return false
	case payments.STATUS_COMPLETED:
		if err := s.ReconcileLateCharge(ctx, txn.CheckoutID, res.TransactionRef, 0); err != nil {
			return false
		}
		reason = types.REASON_LATE_CHARGE_REFUNDED
	}
	if err := s.store.CloseTransaction(ctx, txn.ID, types.TRANSACTION_FAILED, reason); err != nil {
		log.Printf("[BookingSaga] Error closing transaction %s: %s\n", txn.ID, err.Error())
		return false
	}
	return true
}

// ReconcileTimedOut revisits charges given up on after a payment timeout
// whose provider has not yet confirmed they were voided. It reports how many
// were settled.
func (s *BookingSaga) ReconcileTimedOut(ctx context.Context) (int, error) {
	providers := s.gateway.Voidable()
	if len(providers) == 0 {
		return 0, nil
	}
	txns, err := s.store.TimedOutTransactions(ctx, providers)
	if err != nil {
		return 0, err
	}
	settled := 0
	for i := range txns {
		if s.settleTimedOut(ctx, &txns[i]) {
			settled++
		}
	}
	return settled, nil
}
