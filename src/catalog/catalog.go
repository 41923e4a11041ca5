// Package catalog is the read-only query surface over tours and products.
package catalog

import (
	"context"
	"errors"
	"sync"
	"tourbook/src/models"

	"gorm.io/gorm"
)

var (
	ErrTourNotFound    = errors.New("tour not found")
	ErrProductNotFound = errors.New("product not found")
)

type Catalog interface {
	Tour(ctx context.Context, id uint) (*models.Tour, error)
	Product(ctx context.Context, id uint) (*models.Product, error)
}

type GormCatalog struct {
	db *gorm.DB
}

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

func (c *GormCatalog) Tour(ctx context.Context, id uint) (*models.Tour, error) {
	var tour models.Tour
	err := c.db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		First(&tour).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTourNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tour, nil
}

func (c *GormCatalog) Product(ctx context.Context, id uint) (*models.Product, error) {
	var product models.Product
	err := c.db.WithContext(ctx).First(&product, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

type MemoryCatalog struct {
	mu       sync.RWMutex
	tours    map[uint]models.Tour
	products map[uint]models.Product
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		tours:    map[uint]models.Tour{},
		products: map[uint]models.Product{},
	}
}

func (c *MemoryCatalog) AddTour(t models.Tour) *MemoryCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tours[t.ID] = t
	return c
}

func (c *MemoryCatalog) AddProduct(p models.Product) *MemoryCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
	return c
}

func (c *MemoryCatalog) Tour(_ context.Context, id uint) (*models.Tour, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tours[id]
	if !ok {
		return nil, ErrTourNotFound
	}
	return &t, nil
}

func (c *MemoryCatalog) Product(_ context.Context, id uint) (*models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

// CapacityOf adapts a catalog to the capacity lookup used by the ledger.
func CapacityOf(c Catalog) func(ctx context.Context, tourID uint) (int, error) {
	return func(ctx context.Context, tourID uint) (int, error) {
		tour, err := c.Tour(ctx, tourID)
		if err != nil {
			return 0, err
		}
		return tour.MaxCapacity, nil
	}
}
