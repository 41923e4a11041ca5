package saga

import (
	"context"
	"errors"
	"fmt"
	"time"
	"tourbook/src/db"
	"tourbook/src/models"
	"tourbook/src/models/scopes"
	"tourbook/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// CreateBookings inserts every booking in one transaction. A reference that
// collides with an existing one is regenerated inside a savepoint.
func (s *GormStore) CreateBookings(ctx context.Context, bookings []models.Booking) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range bookings {
			if err := createWithReference(tx, &bookings[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for i := range bookings {
			bookings[i].ID = 0
		}
	}
	return err
}

func createWithReference(tx *gorm.DB, b *models.Booking) error {
	for attempt := range maxReferenceAttempts {
		ref, err := newReference()
		if err != nil {
			return err
		}
		b.Reference = ref
		savepoint := fmt.Sprintf("booking_ref_%d", attempt)
		if err := tx.SavePoint(savepoint).Error; err != nil {
			return err
		}
		err = tx.Create(b).Error
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err) {
			return err
		}
		if err := tx.RollbackTo(savepoint).Error; err != nil {
			return err
		}
		b.ID = 0
	}
	return ErrReferenceExhausted
}

func (s *GormStore) FindBooking(ctx context.Context, id uint) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).First(&booking, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (s *GormStore) FindBookings(ctx context.Context, ids []uint) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := s.db.WithContext(ctx).
		Scopes(scopes.WithIDs(ids...)).
		Order("id").
		Find(&bookings).
		Error
	return bookings, err
}

func (s *GormStore) FindCheckout(ctx context.Context, checkoutID uuid.UUID) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := s.db.WithContext(ctx).
		Where("checkout_id = ?", checkoutID).
		Order("id").
		Find(&bookings).
		Error
	return bookings, err
}

func (s *GormStore) ListBookings(ctx context.Context, userID uint) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := s.db.WithContext(ctx).
		Scopes(scopes.ForUser(userID)).
		Order("id").
		Find(&bookings).
		Error
	return bookings, err
}

func (s *GormStore) StalePending(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", types.BOOKING_PENDING, cutoff).
		Order("id").
		Find(&bookings).
		Error
	return bookings, err
}

func (s *GormStore) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	err := s.db.WithContext(ctx).Create(txn).Error
	if db.IsUniqueViolation(err) {
		return ErrPaymentInProgress
	}
	return err
}

func (s *GormStore) findTransaction(ctx context.Context, query string, arg any) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := s.db.WithContext(ctx).Where(query, arg).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *GormStore) FindTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return s.findTransaction(ctx, "id = ?", id)
}

func (s *GormStore) FindTransactionByRef(ctx context.Context, ref string) (*models.PaymentTransaction, error) {
	return s.findTransaction(ctx, "transaction_ref = ?", ref)
}

func (s *GormStore) FindTransactionByCheckout(ctx context.Context, checkoutID uuid.UUID) (*models.PaymentTransaction, error) {
	return s.findTransaction(ctx, "checkout_id = ?", checkoutID)
}

func (s *GormStore) CloseTransaction(ctx context.Context, id uuid.UUID, status types.TransactionStatus, reason string) error {
	updates := map[string]any{"status": status}
	if reason != "" {
		updates["failure_reason"] = reason
	}
	result := s.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (s *GormStore) FailPendingTransaction(ctx context.Context, id uuid.UUID, reason string) error {
	result := s.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, types.TRANSACTION_PENDING).
		Updates(map[string]any{"status": types.TRANSACTION_FAILED, "failure_reason": reason})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidState
	}
	return nil
}

func (s *GormStore) TimedOutTransactions(ctx context.Context, providers []string) ([]models.PaymentTransaction, error) {
	txns := []models.PaymentTransaction{}
	err := s.db.WithContext(ctx).
		Where("status = ? AND failure_reason = ? AND provider IN ?", types.TRANSACTION_FAILED, types.REASON_PAYMENT_TIMEOUT, providers).
		Order("created_at").
		Find(&txns).
		Error
	return txns, err
}

func (s *GormStore) Confirm(ctx context.Context, ids []uint, txnID uuid.UUID, ref string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Booking{}).
			Where("id IN ? AND status = ?", ids, types.BOOKING_PENDING).
			Updates(map[string]any{"status": types.BOOKING_CONFIRMED, "transaction_id": txnID})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(ids)) {
			return ErrInvalidState
		}
		updates := map[string]any{"status": types.TRANSACTION_COMPLETED}
		if ref != "" {
			updates["transaction_ref"] = ref
		}
		result = tx.Model(&models.PaymentTransaction{}).Where("id = ?", txnID).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrTransactionNotFound
		}
		return nil
	})
}

func (s *GormStore) Cancel(ctx context.Context, ids []uint, reason string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id IN ? AND status IN ?", ids, []types.BookingStatus{types.BOOKING_PENDING, types.BOOKING_CONFIRMED}).
		Updates(map[string]any{
			"status":              types.BOOKING_CANCELLED,
			"cancelled_at":        at,
			"cancellation_reason": reason,
		}).
		Error
}

func (s *GormStore) MarkRefunded(ctx context.Context, ids []uint) error {
	return s.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id IN ? AND status = ?", ids, types.BOOKING_CANCELLED).
		Update("status", types.BOOKING_REFUNDED).
		Error
}
