package ledger

import (
	"context"
	"sync"
	"time"
	"tourbook/src/lib/metrics"
)

type memorySlot struct {
	mu       sync.Mutex
	max      int
	reserved int
}

type memoryHold struct {
	key       SlotKey
	spots     int
	expiresAt time.Time
	committed bool
}

// MemoryLedger serializes each slot behind its own mutex, so unrelated
// slots never contend.
type MemoryLedger struct {
	capacity CapacityFunc
	opts     Options

	mu    sync.Mutex
	slots map[SlotKey]*memorySlot
	holds map[string]*memoryHold
}

func NewMemoryLedger(capacity CapacityFunc, opts Options) *MemoryLedger {
	return &MemoryLedger{
		capacity: capacity,
		opts:     opts.withDefaults(),
		slots:    map[SlotKey]*memorySlot{},
		holds:    map[string]*memoryHold{},
	}
}

func (l *MemoryLedger) slot(ctx context.Context, key SlotKey) (*memorySlot, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	l.mu.Unlock()
	if ok {
		return s, nil
	}
	capacity, err := l.capacity.lookup(ctx, key.TourID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[key]; ok {
		return s, nil
	}
	s = &memorySlot{max: capacity}
	l.slots[key] = s
	return s, nil
}

func (l *MemoryLedger) Reserve(ctx context.Context, key SlotKey, spots int) (Token, error) {
	if spots < 0 {
		return Token{}, ErrInvalidSpots
	}
	if spots == 0 {
		return Token{Key: key}, nil
	}
	s, err := l.slot(ctx, key)
	if err != nil {
		return Token{}, err
	}

	s.mu.Lock()
	if s.reserved+spots > s.max {
		s.mu.Unlock()
		metrics.CapacityRejections.Inc()
		return Token{}, ErrCapacityExceeded
	}
	s.reserved += spots
	s.mu.Unlock()

	token := Token{
		ID:        l.opts.NewToken(),
		Key:       key,
		Spots:     spots,
		ExpiresAt: l.opts.Now().Add(l.opts.HoldWindow),
	}
	l.mu.Lock()
	l.holds[token.ID] = &memoryHold{key: key, spots: spots, expiresAt: token.ExpiresAt}
	l.mu.Unlock()
	return token, nil
}

func (l *MemoryLedger) Release(_ context.Context, tokenID string) error {
	if tokenID == "" {
		return nil
	}
	l.mu.Lock()
	h, ok := l.holds[tokenID]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	delete(l.holds, tokenID)
	s := l.slots[h.key]
	l.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved < h.spots {
		return alarm(h.key, s.max, s.reserved-h.spots)
	}
	s.reserved -= h.spots
	return nil
}

func (l *MemoryLedger) Commit(_ context.Context, tokenID string) error {
	if tokenID == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holds[tokenID]
	if !ok {
		return ErrHoldNotFound
	}
	h.committed = true
	return nil
}

func (l *MemoryLedger) Query(ctx context.Context, key SlotKey) (Availability, error) {
	s, err := l.slot(ctx, key)
	if err != nil {
		return Availability{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return availability(s.max, s.reserved), nil
}

func (l *MemoryLedger) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	var expired []string
	for id, h := range l.holds {
		if !h.committed && !h.expiresAt.After(now) {
			expired = append(expired, id)
		}
	}
	l.mu.Unlock()

	for _, id := range expired {
		if err := l.Release(ctx, id); err != nil {
			return 0, err
		}
	}
	metrics.HoldsExpired.Add(float64(len(expired)))
	return len(expired), nil
}
