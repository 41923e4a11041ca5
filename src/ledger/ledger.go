// Package ledger tracks reserved spots per (tour, date) and guarantees that
// reserved never exceeds capacity, however many callers race for a slot.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"tourbook/src/lib/metrics"

	"github.com/google/uuid"
)

var (
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrSlotNotFound       = errors.New("tour slot not found")
	ErrHoldNotFound       = errors.New("capacity hold not found or already released")
	ErrInvalidSpots       = errors.New("spots must not be negative")
	ErrConcurrentOversell = errors.New("integrity alarm: reserved count outside [0, capacity]")
)

type SlotKey struct {
	TourID uint
	Date   string
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%d:%s", k.TourID, k.Date)
}

// Token identifies one reservation. The zero token (empty ID) is issued for
// zero-spot reservations and releasing it does nothing.
type Token struct {
	ID        string
	Key       SlotKey
	Spots     int
	ExpiresAt time.Time
}

func (t Token) IsZero() bool {
	return t.ID == ""
}

type Availability struct {
	SpotsLeft     int  `json:"spotsLeft"`
	TotalCapacity int  `json:"totalCapacity"`
	IsFullyBooked bool `json:"isFullyBooked"`
}

func availability(capacity, reserved int) Availability {
	left := max(0, capacity-reserved)
	return Availability{SpotsLeft: left, TotalCapacity: capacity, IsFullyBooked: left == 0}
}

// Ledger is implemented by MemoryLedger, GormLedger and RedisLedger.
type Ledger interface {
	// Reserve atomically adds spots to the slot or fails with ErrCapacityExceeded.
	Reserve(ctx context.Context, key SlotKey, spots int) (Token, error)
	// Release returns a hold's spots. Unknown or released tokens are a no-op.
	Release(ctx context.Context, tokenID string) error
	// Commit pins a hold so the sweeper no longer expires it.
	Commit(ctx context.Context, tokenID string) error
	Query(ctx context.Context, key SlotKey) (Availability, error)
	// ReleaseExpired releases uncommitted holds whose window ended before now.
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
}

// CapacityFunc returns the maximum group size for a tour. It is consulted
// the first time a slot is touched.
type CapacityFunc func(ctx context.Context, tourID uint) (int, error)

func (f CapacityFunc) lookup(ctx context.Context, tourID uint) (int, error) {
	n, err := f(ctx, tourID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSlotNotFound, err)
	}
	return n, nil
}

type Options struct {
	HoldWindow time.Duration
	Now        func() time.Time
	NewToken   func() string
}

func (o Options) withDefaults() Options {
	if o.HoldWindow <= 0 {
		o.HoldWindow = 15 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewToken == nil {
		o.NewToken = uuid.NewString
	}
	return o
}

func alarm(key SlotKey, capacity, reserved int) error {
	metrics.IntegrityAlarms.WithLabelValues("capacity").Inc()
	log.Printf("[CapacityLedger] INTEGRITY ALARM slot=%s capacity=%d reserved=%d\n", key, capacity, reserved)
	return fmt.Errorf("%w: slot %s", ErrConcurrentOversell, key)
}
