// Package notify delivers booking and order outcomes to customers and
// downstream consumers. Delivery is fire-and-forget: a failed notification
// never affects the outcome it reports.
package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

type Kind string

const (
	BOOKING_CONFIRMED Kind = "booking.confirmed"
	BOOKING_CANCELLED Kind = "booking.cancelled"
	BOOKING_REFUNDED  Kind = "booking.refunded"
	ORDER_CONFIRMED   Kind = "order.confirmed"
	ORDER_CANCELLED   Kind = "order.cancelled"
)

type Event struct {
	Kind       Kind      `json:"kind"`
	CheckoutID string    `json:"checkoutId,omitempty"`
	UserID     uint      `json:"userId"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	References []string  `json:"references"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

const dispatchTimeout = 30 * time.Second

// Dispatch sends ev in the background, detached from the caller's
// cancellation.
func Dispatch(ctx context.Context, n Notifier, ev Event) {
	if n == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()
		if err := n.Notify(ctx, ev); err != nil {
			log.Printf("[Notifier] Error delivering %s for %v: %s\n", ev.Kind, ev.References, err.Error())
		}
	}()
}

type Noop struct{}

func (Noop) Notify(context.Context, Event) error {
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}
