package promo

import (
	"context"
	"errors"
	"sync"
	"tourbook/src/models"

	"gorm.io/gorm"
)

type GormLookup struct {
	db *gorm.DB
}

func NewGormLookup(db *gorm.DB) *GormLookup {
	return &GormLookup{db: db}
}

func (l *GormLookup) FindPromo(ctx context.Context, code string) (*models.PromoCode, error) {
	var p models.PromoCode
	err := l.db.WithContext(ctx).
		Where(&models.PromoCode{Code: code}).
		First(&p).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type MemoryLookup struct {
	mu     sync.RWMutex
	promos map[string]models.PromoCode
}

func NewMemoryLookup(promos ...models.PromoCode) *MemoryLookup {
	l := &MemoryLookup{promos: map[string]models.PromoCode{}}
	for _, p := range promos {
		l.Put(p)
	}
	return l
}

func (l *MemoryLookup) Put(p models.PromoCode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p.Code = Normalize(p.Code)
	l.promos[p.Code] = p
}

func (l *MemoryLookup) FindPromo(_ context.Context, code string) (*models.PromoCode, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.promos[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}
