package models

import "time"

// TourSlotCapacity is the shared counter guarded by conditional updates.
// 0 <= ReservedCount <= MaxCapacity must hold at all times.
type TourSlotCapacity struct {
	TourID        uint   `gorm:"primaryKey;autoIncrement:false"`
	SlotDate      string `gorm:"primaryKey;size:10"`
	MaxCapacity   int    `gorm:"not null"`
	ReservedCount int    `gorm:"not null;default:0"`
}

// CapacityHold is the durable form of a reservation token.
type CapacityHold struct {
	Token       string    `gorm:"primaryKey;size:36"`
	TourID      uint      `gorm:"index:idx_hold_slot"`
	SlotDate    string    `gorm:"index:idx_hold_slot;size:10"`
	Spots       int       `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"index"`
	CommittedAt *time.Time
	ReleasedAt  *time.Time `gorm:"index"`
	CreatedAt   time.Time
}
