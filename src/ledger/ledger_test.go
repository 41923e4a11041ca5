package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"tourbook/src/db"
	"tourbook/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sqliteSeq atomic.Int32

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fixedCapacity(n int) CapacityFunc {
	return func(context.Context, uint) (int, error) { return n, nil }
}

type ledgerFactory func(t *testing.T, capacity CapacityFunc, opts Options) Ledger

func factories() map[string]ledgerFactory {
	return map[string]ledgerFactory{
		"memory": func(_ *testing.T, capacity CapacityFunc, opts Options) Ledger {
			return NewMemoryLedger(capacity, opts)
		},
		"gorm": func(t *testing.T, capacity CapacityFunc, opts Options) Ledger {
			dsn := fmt.Sprintf("file:ledgertest%d?mode=memory&cache=shared", sqliteSeq.Add(1))
			gdb, err := db.OpenSQLite(dsn)
			require.NoError(t, err)
			require.NoError(t, gdb.AutoMigrate(&models.TourSlotCapacity{}, &models.CapacityHold{}))
			return NewGormLedger(gdb, capacity, opts)
		},
	}
}

func forEachLedger(t *testing.T, fn func(t *testing.T, newLedger func(capacity CapacityFunc, opts Options) Ledger)) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			fn(t, func(capacity CapacityFunc, opts Options) Ledger {
				return factory(t, capacity, opts)
			})
		})
	}
}

var slot = SlotKey{TourID: 1, Date: "2030-06-01"}

func TestReserveWithinCapacity(t *testing.T) {
	forEachLedger(t, func(t *testing.T, newLedger func(CapacityFunc, Options) Ledger) {
		l := newLedger(fixedCapacity(20), Options{})
		ctx := context.Background()

		tok, err := l.Reserve(ctx, slot, 5)
		require.NoError(t, err)
		assert.False(t, tok.IsZero())
		assert.Equal(t, 5, tok.Spots)

		avail, err := l.Query(ctx, slot)
		require.NoError(t, err)
		assert.Equal(t, Availability{SpotsLeft: 15, TotalCapacity: 20}, avail)
	})
}

func TestReserveExceeded(t *testing.T) {
	forEachLedger(t, func(t *testing.T, newLedger func(CapacityFunc, Options) Ledger) {
		l := newLedger(fixedCapacity(4), Options{})
		ctx := context.Background()

		_, err := l.Reserve(ctx, slot, 3)
		require.NoError(t, err)
		_, err = l.Reserve(ctx, slot, 2)
		assert.ErrorIs(t, err, ErrCapacityExceeded)

		tok, err := l.Reserve(ctx, slot, 1)
		require.NoError(t, err)
		assert.False(t, tok.IsZero())

		avail, err := l.Query(ctx, slot)
		require.NoError(t, err)
		assert.True(t, avail.IsFullyBooked)
		assert.Equal(t, 0, avail.SpotsLeft)
	})
}

func TestReserveZeroAndNegativeSpots(t *testing.T) {
	forEachLedger(t, func(t *testing.T, newLedger func(CapacityFunc, Options) Ledger) {
		l := newLedger(fixedCapacity(2), Options{})
		ctx := context.Background()

		tok, err := l.Reserve(ctx, slot, 0)
		require.NoError(t, err)
		assert.True(t, tok.IsZero())
		require.NoError(t, l.Release(ctx, tok.ID))

		_, err = l.Reserve(ctx, slot, -1)
		assert.ErrorIs(t, err, ErrInvalidSpots)
	})
}

func TestReleaseIsIdempotent(t *testing.T) {
	forEachLedger(t, func(t *testing.T, newLedger func(CapacityFunc, Options) Ledger) {
		l := newLedger(fixedCapacity(10), Options{})
		ctx := context.Background()

		a, err := l.Reserve(ctx, slot, 4)
		require.NoError(t, err)
		_, err = l.Reserve(ctx, slot, 3)
		require.NoError(t, err)

		require.NoError(t, l.Release(ctx, a.ID))
		require.NoError(t, l.Release(ctx, a.ID))
		require.NoError(t, l.Release(ctx, "unknown-token"))

		avail, err := l.Query(ctx, slot)
		require.NoError(t, err)
		assert.Equal(t, 7, avail.SpotsLeft)
	})
}

func TestCommitReleasedHold(t *testing.T) {
	forEachLedger(t, func(t *testing.T, newLedger func(CapacityFunc, Options) Ledger) {
		l := newLedger(fixedCapacity(10), Options{})
		ctx := context.Background()

		tok, err := l.Reserve(ctx, slot, 2)
		require.NoError(t, err)
		require.NoError(t, l.Release(ctx, tok.ID))
		assert.ErrorIs(t, l.Commit(ctx, tok.ID), ErrHoldNotFound)
	})
}

func TestReleaseExpired(t *testing.T) {
	forEachLedger(t, func(t *testing.T, newLedger func(CapacityFunc, Options) Ledger) {
		c := &clock{now: time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC)}
		l := newLedger(fixedCapacity(10), Options{HoldWindow: 15 * time.Minute, Now: c.Now})
		ctx := context.Background()

		abandoned, err := l.Reserve(ctx, slot, 3)
		require.NoError(t, err)
		committed, err := l.Reserve(ctx, slot, 2)
		require.NoError(t, err)
		require.NoError(t, l.Commit(ctx, committed.ID))

		n, err := l.ReleaseExpired(ctx, c.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		c.Advance(16 * time.Minute)
		n, err = l.ReleaseExpired(ctx, c.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		avail, err := l.Query(ctx, slot)
		require.NoError(t, err)
		assert.Equal(t, 8, avail.SpotsLeft)
		assert.ErrorIs(t, l.Commit(ctx, abandoned.ID), ErrHoldNotFound)
	})
}

func TestQueryUntouchedSlot(t *testing.T) {
	forEachLedger(t, func(t *testing.T, newLedger func(CapacityFunc, Options) Ledger) {
		l := newLedger(fixedCapacity(12), Options{})

		avail, err := l.Query(context.Background(), SlotKey{TourID: 9, Date: "2030-01-01"})
		require.NoError(t, err)
		assert.Equal(t, 12, avail.SpotsLeft)
		assert.False(t, avail.IsFullyBooked)
	})
}

// 19 of 20 spots taken, ten callers race for the last one.
func TestConcurrentReserveLastSpot(t *testing.T) {
	forEachLedger(t, func(t *testing.T, newLedger func(CapacityFunc, Options) Ledger) {
		l := newLedger(fixedCapacity(20), Options{})
		ctx := context.Background()

		_, err := l.Reserve(ctx, slot, 19)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var won, lost atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Reserve(ctx, slot, 1)
				switch {
				case err == nil:
					won.Add(1)
				case assert.ErrorIs(t, err, ErrCapacityExceeded):
					lost.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), won.Load())
		assert.Equal(t, int32(9), lost.Load())

		avail, err := l.Query(ctx, slot)
		require.NoError(t, err)
		assert.True(t, avail.IsFullyBooked)
	})
}

func TestCapacityLookupError(t *testing.T) {
	forEachLedger(t, func(t *testing.T, newLedger func(CapacityFunc, Options) Ledger) {
		lookupErr := fmt.Errorf("tour not found")
		l := newLedger(func(context.Context, uint) (int, error) { return 0, lookupErr }, Options{})

		_, err := l.Reserve(context.Background(), slot, 1)
		assert.ErrorIs(t, err, lookupErr)
		assert.ErrorIs(t, err, ErrSlotNotFound)
	})
}
