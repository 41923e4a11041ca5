package saga

import (
	"context"
	"slices"
	"sync"
	"time"
	"tourbook/src/config"
	"tourbook/src/models"
	"tourbook/src/types"
	"tourbook/src/utils"

	"github.com/google/uuid"
)

// Store persists bookings and payment transactions. Multi-row writes are
// all-or-nothing: on error nothing was written.
type Store interface {
	CreateBookings(ctx context.Context, bookings []models.Booking) error
	FindBooking(ctx context.Context, id uint) (*models.Booking, error)
	FindBookings(ctx context.Context, ids []uint) ([]models.Booking, error)
	FindCheckout(ctx context.Context, checkoutID uuid.UUID) ([]models.Booking, error)
	ListBookings(ctx context.Context, userID uint) ([]models.Booking, error)
	// StalePending returns PENDING bookings created before cutoff.
	StalePending(ctx context.Context, cutoff time.Time) ([]models.Booking, error)

	// CreateTransaction fails with ErrPaymentInProgress when the checkout
	// already has a transaction.
	CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	FindTransactionByRef(ctx context.Context, ref string) (*models.PaymentTransaction, error)
	FindTransactionByCheckout(ctx context.Context, checkoutID uuid.UUID) (*models.PaymentTransaction, error)
	CloseTransaction(ctx context.Context, id uuid.UUID, status types.TransactionStatus, reason string) error
	// FailPendingTransaction fails a transaction that is still pending, or
	// returns ErrInvalidState.
	FailPendingTransaction(ctx context.Context, id uuid.UUID, reason string) error
	// TimedOutTransactions returns failed transactions of the given
	// providers whose charge was given up on after a payment timeout.
	TimedOutTransactions(ctx context.Context, providers []string) ([]models.PaymentTransaction, error)

	// Confirm moves the bookings from PENDING to CONFIRMED and completes the
	// transaction. It fails with ErrInvalidState unless every booking is
	// still PENDING.
	Confirm(ctx context.Context, ids []uint, txnID uuid.UUID, ref string) error
	// Cancel moves the PENDING or CONFIRMED bookings among ids to CANCELLED.
	Cancel(ctx context.Context, ids []uint, reason string, at time.Time) error
	// MarkRefunded moves CANCELLED bookings among ids to REFUNDED.
	MarkRefunded(ctx context.Context, ids []uint) error
}

const maxReferenceAttempts = 5

func newReference() (string, error) {
	return utils.GenerateReference(config.BOOKING_REFERENCE_PREFIX)
}

type MemoryStore struct {
	mu           sync.Mutex
	nextID       uint
	bookings     map[uint]models.Booking
	transactions map[uuid.UUID]models.PaymentTransaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:     map[uint]models.Booking{},
		transactions: map[uuid.UUID]models.PaymentTransaction{},
	}
}

func (s *MemoryStore) referenceTaken(ref string) bool {
	for _, b := range s.bookings {
		if b.Reference == ref {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateBookings(_ context.Context, bookings []models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]string, len(bookings))
	for i := range bookings {
		for attempt := 0; ; attempt++ {
			if attempt == maxReferenceAttempts {
				return ErrReferenceExhausted
			}
			ref, err := newReference()
			if err != nil {
				return err
			}
			if !s.referenceTaken(ref) && !slices.Contains(refs[:i], ref) {
				refs[i] = ref
				break
			}
		}
	}
	for i := range bookings {
		s.nextID++
		bookings[i].ID = s.nextID
		bookings[i].Reference = refs[i]
		if bookings[i].CreatedAt.IsZero() {
			bookings[i].CreatedAt = time.Now()
		}
		bookings[i].UpdatedAt = bookings[i].CreatedAt
		s.bookings[bookings[i].ID] = bookings[i]
	}
	return nil
}

func (s *MemoryStore) FindBooking(_ context.Context, id uint) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (s *MemoryStore) FindBookings(_ context.Context, ids []uint) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Booking{}
	for _, id := range ids {
		if b, ok := s.bookings[id]; ok {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func (s *MemoryStore) filter(keep func(models.Booking) bool) []models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Booking{}
	for _, b := range s.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out
}

func (s *MemoryStore) FindCheckout(_ context.Context, checkoutID uuid.UUID) ([]models.Booking, error) {
	return s.filter(func(b models.Booking) bool { return b.CheckoutID == checkoutID }), nil
}

func (s *MemoryStore) ListBookings(_ context.Context, userID uint) ([]models.Booking, error) {
	return s.filter(func(b models.Booking) bool { return b.UserID == userID }), nil
}

func (s *MemoryStore) StalePending(_ context.Context, cutoff time.Time) ([]models.Booking, error) {
	return s.filter(func(b models.Booking) bool {
		return b.Status == types.BOOKING_PENDING && b.CreatedAt.Before(cutoff)
	}), nil
}

func (s *MemoryStore) CreateTransaction(_ context.Context, txn *models.PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.transactions {
		if existing.CheckoutID == txn.CheckoutID {
			return ErrPaymentInProgress
		}
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	s.transactions[txn.ID] = *txn
	return nil
}

func (s *MemoryStore) FindTransaction(_ context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return &txn, nil
}

func (s *MemoryStore) findTransaction(match func(models.PaymentTransaction) bool) (*models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txn := range s.transactions {
		if match(txn) {
			return &txn, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (s *MemoryStore) FindTransactionByRef(_ context.Context, ref string) (*models.PaymentTransaction, error) {
	return s.findTransaction(func(txn models.PaymentTransaction) bool {
		return txn.TransactionRef != nil && *txn.TransactionRef == ref
	})
}

func (s *MemoryStore) FindTransactionByCheckout(_ context.Context, checkoutID uuid.UUID) (*models.PaymentTransaction, error) {
	return s.findTransaction(func(txn models.PaymentTransaction) bool {
		return txn.CheckoutID == checkoutID
	})
}

func (s *MemoryStore) CloseTransaction(_ context.Context, id uuid.UUID, status types.TransactionStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[id]
	if !ok {
		return ErrTransactionNotFound
	}
	txn.Status = status
	if reason != "" {
		txn.FailureReason = &reason
	}
	s.transactions[id] = txn
	return nil
}

func (s *MemoryStore) FailPendingTransaction(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[id]
	if !ok {
		return ErrTransactionNotFound
	}
	if txn.Status != types.TRANSACTION_PENDING {
		return ErrInvalidState
	}
	txn.Status = types.TRANSACTION_FAILED
	txn.FailureReason = &reason
	s.transactions[id] = txn
	return nil
}

func (s *MemoryStore) TimedOutTransactions(_ context.Context, providers []string) ([]models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.PaymentTransaction{}
	for _, txn := range s.transactions {
		if txn.Status == types.TRANSACTION_FAILED && txn.FailureReason != nil &&
			*txn.FailureReason == types.REASON_PAYMENT_TIMEOUT && slices.Contains(providers, txn.Provider) {
			out = append(out, txn)
		}
	}
	slices.SortFunc(out, func(a, b models.PaymentTransaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Confirm(_ context.Context, ids []uint, txnID uuid.UUID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[txnID]
	if !ok {
		return ErrTransactionNotFound
	}
	for _, id := range ids {
		if b, ok := s.bookings[id]; !ok || b.Status != types.BOOKING_PENDING {
			return ErrInvalidState
		}
	}
	for _, id := range ids {
		b := s.bookings[id]
		b.Status = types.BOOKING_CONFIRMED
		b.TransactionID = &txnID
		s.bookings[id] = b
	}
	txn.Status = types.TRANSACTION_COMPLETED
	if ref != "" {
		txn.TransactionRef = &ref
	}
	s.transactions[txnID] = txn
	return nil
}

func (s *MemoryStore) Cancel(_ context.Context, ids []uint, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		b, ok := s.bookings[id]
		if !ok || (b.Status != types.BOOKING_PENDING && b.Status != types.BOOKING_CONFIRMED) {
			continue
		}
		b.Status = types.BOOKING_CANCELLED
		b.CancelledAt = &at
		b.CancellationReason = &reason
		s.bookings[id] = b
	}
	return nil
}

func (s *MemoryStore) MarkRefunded(_ context.Context, ids []uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if b, ok := s.bookings[id]; ok && b.Status == types.BOOKING_CANCELLED {
			b.Status = types.BOOKING_REFUNDED
			s.bookings[id] = b
		}
	}
	return nil
}

func sortBookings(bookings []models.Booking) {
	slices.SortFunc(bookings, func(a, b models.Booking) int {
		return int(a.ID) - int(b.ID)
	})
}
