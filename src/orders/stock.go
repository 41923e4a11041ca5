package orders

import (
	"context"
	"errors"
	"sync"
	"tourbook/src/catalog"
	"tourbook/src/models"

	"gorm.io/gorm"
)

var ErrOutOfStock = errors.New("insufficient stock")

// StockLedger is the goods counterpart of the capacity ledger. Take never
// lets stock drop below zero.
type StockLedger interface {
	Take(ctx context.Context, productID uint, quantity int) error
	Restock(ctx context.Context, productID uint, quantity int) error
	Available(ctx context.Context, productID uint) (int, error)
}

type GormStock struct {
	db *gorm.DB
}

func NewGormStock(db *gorm.DB) *GormStock {
	return &GormStock{db: db}
}

func (s *GormStock) Take(ctx context.Context, productID uint, quantity int) error {
	return takeStock(s.db.WithContext(ctx), productID, quantity)
}

func (s *GormStock) Restock(ctx context.Context, productID uint, quantity int) error {
	return restock(s.db.WithContext(ctx), productID, quantity)
}

func (s *GormStock) Available(ctx context.Context, productID uint) (int, error) {
	return stockOf(s.db.WithContext(ctx), productID)
}

// takeStock decrements stock only while enough is left. tx may be a
// transaction shared with the order insert.
func takeStock(tx *gorm.DB, productID uint, quantity int) error {
	result := tx.
		Model(&models.Product{}).
		Where("id = ? AND stock >= ?", productID, quantity).
		UpdateColumn("stock", gorm.Expr("stock - ?", quantity))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if _, err := stockOf(tx, productID); err != nil {
		return err
	}
	return ErrOutOfStock
}

func restock(tx *gorm.DB, productID uint, quantity int) error {
	return tx.
		Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("stock", gorm.Expr("stock + ?", quantity)).
		Error
}

func stockOf(tx *gorm.DB, productID uint) (int, error) {
	var product models.Product
	err := tx.Select("id", "stock").First(&product, productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, catalog.ErrProductNotFound
	}
	if err != nil {
		return 0, err
	}
	return product.Stock, nil
}

type MemoryStock struct {
	mu    sync.Mutex
	stock map[uint]int
}

func NewMemoryStock(products ...models.Product) *MemoryStock {
	s := &MemoryStock{stock: map[uint]int{}}
	for _, p := range products {
		s.stock[p.ID] = p.Stock
	}
	return s
}

func (s *MemoryStock) Take(_ context.Context, productID uint, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.stock[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	if n < quantity {
		return ErrOutOfStock
	}
	s.stock[productID] = n - quantity
	return nil
}

func (s *MemoryStock) Restock(_ context.Context, productID uint, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stock[productID]; !ok {
		return catalog.ErrProductNotFound
	}
	s.stock[productID] += quantity
	return nil
}

func (s *MemoryStock) Available(_ context.Context, productID uint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.stock[productID]
	if !ok {
		return 0, catalog.ErrProductNotFound
	}
	return n, nil
}
