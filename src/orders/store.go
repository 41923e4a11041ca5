package orders

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
	"tourbook/src/config"
	"tourbook/src/db"
	"tourbook/src/models"
	"tourbook/src/models/scopes"
	"tourbook/src/types"
	"tourbook/src/utils"

	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("order not found")

const maxReferenceAttempts = 5

// Store persists orders with their items.
type Store interface {
	Create(ctx context.Context, order *models.Order) error
	Find(ctx context.Context, id uint) (*models.Order, error)
	// Confirm moves a PENDING order to CONFIRMED.
	Confirm(ctx context.Context, id uint, ref string) error
	// Cancel moves a PENDING order to CANCELLED.
	Cancel(ctx context.Context, id uint, reason string) error
	// StalePending returns PENDING orders, with their items, created before
	// cutoff.
	StalePending(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	// TimedOut returns orders of the given providers cancelled after a
	// payment timeout whose charge has not been settled at the provider.
	TimedOut(ctx context.Context, providers []string) ([]models.Order, error)
	// Resolve replaces the payment timeout reason of a cancelled order once
	// its charge was settled.
	Resolve(ctx context.Context, id uint, reason string) error
}

// StockingStore is a Store sharing a database with the stock counters. An
// order is inserted together with its stock decrement and cancelled
// together with its restock.
type StockingStore interface {
	Store
	CreateTakingStock(ctx context.Context, order *models.Order) error
	CancelRestocking(ctx context.Context, order *models.Order, reason string) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, order *models.Order) error {
	return s.create(ctx, order, nil)
}

// CreateTakingStock decrements the stock of every item and inserts the
// order in one transaction. Products are locked in id order.
func (s *GormStore) CreateTakingStock(ctx context.Context, order *models.Order) error {
	return s.create(ctx, order, func(tx *gorm.DB) error {
		items := slices.Clone(order.Items)
		slices.SortFunc(items, func(a, b models.OrderItem) int {
			return cmp.Compare(a.ProductID, b.ProductID)
		})
		for _, item := range items {
			if err := takeStock(tx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("product %d: %w", item.ProductID, err)
			}
		}
		return nil
	})
}

func (s *GormStore) create(ctx context.Context, order *models.Order, before func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if before != nil {
			if err := before(tx); err != nil {
				return err
			}
		}
		return insertWithReference(tx, order)
	})
	if err != nil {
		resetIDs(order)
	}
	return err
}

// insertWithReference inserts the order and its items, regenerating the
// reference inside a savepoint on a collision.
func insertWithReference(tx *gorm.DB, order *models.Order) error {
	for attempt := range maxReferenceAttempts {
		ref, err := utils.GenerateReference(config.ORDER_REFERENCE_PREFIX)
		if err != nil {
			return err
		}
		order.Reference = ref
		savepoint := fmt.Sprintf("order_ref_%d", attempt)
		if err := tx.SavePoint(savepoint).Error; err != nil {
			return err
		}
		err = tx.Create(order).Error
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err) {
			return err
		}
		if err := tx.RollbackTo(savepoint).Error; err != nil {
			return err
		}
		resetIDs(order)
	}
	return errors.New("could not allocate a unique order reference")
}

func resetIDs(order *models.Order) {
	order.ID = 0
	for i := range order.Items {
		order.Items[i].ID = 0
		order.Items[i].OrderID = 0
	}
}

func (s *GormStore) Find(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items").First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func transition(tx *gorm.DB, id uint, from types.OrderStatus, updates map[string]any) error {
	result := tx.
		Model(&models.Order{}).
		Scopes(scopes.WithID(id), scopes.WithStatus(from)).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func cancelUpdates(reason string) map[string]any {
	return map[string]any{
		"status":              types.ORDER_CANCELLED,
		"cancellation_reason": reason,
	}
}

func (s *GormStore) Confirm(ctx context.Context, id uint, ref string) error {
	updates := map[string]any{"status": types.ORDER_CONFIRMED}
	if ref != "" {
		updates["transaction_ref"] = ref
	}
	return transition(s.db.WithContext(ctx), id, types.ORDER_PENDING, updates)
}

func (s *GormStore) Cancel(ctx context.Context, id uint, reason string) error {
	return transition(s.db.WithContext(ctx), id, types.ORDER_PENDING, cancelUpdates(reason))
}

func (s *GormStore) CancelRestocking(ctx context.Context, order *models.Order, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transition(tx, order.ID, types.ORDER_PENDING, cancelUpdates(reason)); err != nil {
			return err
		}
		for _, item := range order.Items {
			if err := restock(tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) StalePending(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.WithContext(ctx).
		Preload("Items").
		Scopes(scopes.WithStatus(types.ORDER_PENDING)).
		Where("created_at < ?", cutoff).
		Order("id").
		Find(&orders).
		Error
	return orders, err
}

func (s *GormStore) TimedOut(ctx context.Context, providers []string) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.WithContext(ctx).
		Scopes(scopes.WithStatus(types.ORDER_CANCELLED)).
		Where("cancellation_reason = ? AND provider IN ?", types.REASON_PAYMENT_TIMEOUT, providers).
		Order("id").
		Find(&orders).
		Error
	return orders, err
}

func (s *GormStore) Resolve(ctx context.Context, id uint, reason string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Scopes(scopes.WithID(id), scopes.WithStatus(types.ORDER_CANCELLED)).
		Where("cancellation_reason = ?", types.REASON_PAYMENT_TIMEOUT).
		Update("cancellation_reason", reason)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

type MemoryStore struct {
	mu     sync.Mutex
	nextID uint
	orders map[uint]models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: map[uint]models.Order{}}
}

func (s *MemoryStore) Create(_ context.Context, order *models.Order) error {
	ref, err := utils.GenerateReference(config.ORDER_REFERENCE_PREFIX)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	order.ID = s.nextID
	order.Reference = ref
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	s.orders[order.ID] = *order
	return nil
}

func (s *MemoryStore) Find(_ context.Context, id uint) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &order, nil
}

func (s *MemoryStore) update(id uint, fn func(*models.Order)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok || order.Status != types.ORDER_PENDING {
		return ErrOrderNotFound
	}
	fn(&order)
	s.orders[id] = order
	return nil
}

func (s *MemoryStore) Confirm(_ context.Context, id uint, ref string) error {
	return s.update(id, func(o *models.Order) {
		o.Status = types.ORDER_CONFIRMED
		if ref != "" {
			o.TransactionRef = &ref
		}
	})
}

func (s *MemoryStore) Cancel(_ context.Context, id uint, reason string) error {
	return s.update(id, func(o *models.Order) {
		o.Status = types.ORDER_CANCELLED
		o.CancellationReason = &reason
	})
}

func (s *MemoryStore) filter(keep func(models.Order) bool) []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Order{}
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b models.Order) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (s *MemoryStore) StalePending(_ context.Context, cutoff time.Time) ([]models.Order, error) {
	return s.filter(func(o models.Order) bool {
		return o.Status == types.ORDER_PENDING && o.CreatedAt.Before(cutoff)
	}), nil
}

func (s *MemoryStore) TimedOut(_ context.Context, providers []string) ([]models.Order, error) {
	return s.filter(func(o models.Order) bool {
		return o.Status == types.ORDER_CANCELLED && o.CancellationReason != nil &&
			*o.CancellationReason == types.REASON_PAYMENT_TIMEOUT && slices.Contains(providers, o.Provider)
	}), nil
}

func (s *MemoryStore) Resolve(_ context.Context, id uint, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok || order.Status != types.ORDER_CANCELLED || order.CancellationReason == nil ||
		*order.CancellationReason != types.REASON_PAYMENT_TIMEOUT {
		return ErrOrderNotFound
	}
	order.CancellationReason = &reason
	s.orders[id] = order
	return nil
}
