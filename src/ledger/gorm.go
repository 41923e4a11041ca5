package ledger

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
	"tourbook/src/lib/metrics"
	"tourbook/src/models"
	"tourbook/src/models/scopes"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedger keeps counters in tour_slot_capacities and guards them with a
// conditional UPDATE, so the database arbitrates concurrent reservations.
type GormLedger struct {
	db       *gorm.DB
	capacity CapacityFunc
	opts     Options
	known    sync.Map
}

func NewGormLedger(db *gorm.DB, capacity CapacityFunc, opts Options) *GormLedger {
	return &GormLedger{db: db, capacity: capacity, opts: opts.withDefaults()}
}

// ensureSlot creates the counter row on first use. It runs outside any
// transaction since the capacity lookup may share the connection pool.
func (l *GormLedger) ensureSlot(ctx context.Context, key SlotKey) error {
	if _, ok := l.known.Load(key); ok {
		return nil
	}
	var slot models.TourSlotCapacity
	err := l.db.WithContext(ctx).
		Scopes(scopes.WithSlot(key.TourID, key.Date)).
		First(&slot).
		Error
	if err == nil {
		l.known.Store(key, struct{}{})
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	capacity, err := l.capacity.lookup(ctx, key.TourID)
	if err != nil {
		return err
	}
	slot = models.TourSlotCapacity{TourID: key.TourID, SlotDate: key.Date, MaxCapacity: capacity}
	if err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&slot).
		Error; err != nil {
		return err
	}
	l.known.Store(key, struct{}{})
	return nil
}

func (l *GormLedger) Reserve(ctx context.Context, key SlotKey, spots int) (Token, error) {
	if spots < 0 {
		return Token{}, ErrInvalidSpots
	}
	if spots == 0 {
		return Token{Key: key}, nil
	}
	if err := l.ensureSlot(ctx, key); err != nil {
		return Token{}, err
	}

	now := l.opts.Now()
	token := Token{
		ID:        l.opts.NewToken(),
		Key:       key,
		Spots:     spots,
		ExpiresAt: now.Add(l.opts.HoldWindow),
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TourSlotCapacity{}).
			Where("tour_id = ? AND slot_date = ? AND reserved_count + ? <= max_capacity", key.TourID, key.Date, spots).
			Update("reserved_count", gorm.Expr("reserved_count + ?", spots))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var slot models.TourSlotCapacity
			if err := tx.Where("tour_id = ? AND slot_date = ?", key.TourID, key.Date).First(&slot).Error; err != nil {
				return err
			}
			if slot.ReservedCount > slot.MaxCapacity || slot.ReservedCount < 0 {
				return alarm(key, slot.MaxCapacity, slot.ReservedCount)
			}
			return ErrCapacityExceeded
		}
		return tx.Create(&models.CapacityHold{
			Token:     token.ID,
			TourID:    key.TourID,
			SlotDate:  key.Date,
			Spots:     spots,
			ExpiresAt: token.ExpiresAt,
			CreatedAt: now,
		}).Error
	})
	if errors.Is(err, ErrCapacityExceeded) {
		metrics.CapacityRejections.Inc()
	}
	if err != nil {
		return Token{}, err
	}
	return token, nil
}

func (l *GormLedger) Release(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return nil
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.release(tx, tokenID)
	})
}

func (l *GormLedger) release(tx *gorm.DB, tokenID string) error {
	var hold models.CapacityHold
	err := tx.Where("token = ? AND released_at IS NULL", tokenID).First(&hold).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	res := tx.Model(&models.CapacityHold{}).
		Where("token = ? AND released_at IS NULL", tokenID).
		Update("released_at", l.opts.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// released concurrently
		return nil
	}

	res = tx.Model(&models.TourSlotCapacity{}).
		Where("tour_id = ? AND slot_date = ? AND reserved_count >= ?", hold.TourID, hold.SlotDate, hold.Spots).
		Update("reserved_count", gorm.Expr("reserved_count - ?", hold.Spots))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var slot models.TourSlotCapacity
		if err := tx.Where("tour_id = ? AND slot_date = ?", hold.TourID, hold.SlotDate).First(&slot).Error; err != nil {
			return err
		}
		return alarm(SlotKey{TourID: hold.TourID, Date: hold.SlotDate}, slot.MaxCapacity, slot.ReservedCount-hold.Spots)
	}
	return nil
}

func (l *GormLedger) Commit(ctx context.Context, tokenID string) error {
	if tokenID == "" {
		return nil
	}
	res := l.db.WithContext(ctx).
		Model(&models.CapacityHold{}).
		Where("token = ? AND released_at IS NULL", tokenID).
		Update("committed_at", l.opts.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrHoldNotFound
	}
	return nil
}

func (l *GormLedger) Query(ctx context.Context, key SlotKey) (Availability, error) {
	var slot models.TourSlotCapacity
	err := l.db.WithContext(ctx).
		Scopes(scopes.WithSlot(key.TourID, key.Date)).
		First(&slot).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		capacity, err := l.capacity.lookup(ctx, key.TourID)
		if err != nil {
			return Availability{}, err
		}
		return availability(capacity, 0), nil
	}
	if err != nil {
		return Availability{}, err
	}
	return availability(slot.MaxCapacity, slot.ReservedCount), nil
}

func (l *GormLedger) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	var holds []models.CapacityHold
	if err := l.db.WithContext(ctx).
		Where("committed_at IS NULL AND released_at IS NULL AND expires_at <= ?", now).
		Find(&holds).
		Error; err != nil {
		return 0, err
	}

	released := 0
	for _, hold := range holds {
		if err := l.Release(ctx, hold.Token); err != nil {
			log.Printf("[CapacityLedger] Error releasing expired hold %s: %s\n", hold.Token, err.Error())
			continue
		}
		released++
	}
	metrics.HoldsExpired.Add(float64(released))
	return released, nil
}
