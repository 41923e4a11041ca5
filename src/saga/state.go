package saga

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"tourbook/src/lib/metrics"
)

type State string

const (
	INITIATED          State = "INITIATED"
	CAPACITY_RESERVED  State = "CAPACITY_RESERVED"
	BOOKINGS_PERSISTED State = "BOOKINGS_PERSISTED"
	PAYMENT_PENDING    State = "PAYMENT_PENDING"
	CONFIRMED          State = "CONFIRMED"
	ROLLED_BACK        State = "ROLLED_BACK"
)

var ErrIllegalTransition = errors.New("illegal saga transition")

var transitions = map[State][]State{
	INITIATED:          {CAPACITY_RESERVED, ROLLED_BACK},
	CAPACITY_RESERVED:  {BOOKINGS_PERSISTED, ROLLED_BACK},
	BOOKINGS_PERSISTED: {PAYMENT_PENDING, ROLLED_BACK},
	PAYMENT_PENDING:    {CONFIRMED, ROLLED_BACK},
}

func (s State) Terminal() bool {
	return s == CONFIRMED || s == ROLLED_BACK
}

// Run tracks one saga execution. Settle resumes a run that Reserve left
// in BOOKINGS_PERSISTED.
type Run struct {
	Flow  string
	ID    string
	state State
}

func NewRun(flow, id string, from State) *Run {
	return &Run{Flow: flow, ID: id, state: from}
}

func (r *Run) State() State {
	return r.state
}

func (r *Run) Advance(to State, reason string) error {
	if !slices.Contains(transitions[r.state], to) {
		log.Printf("[Saga] %s %s: rejected transition %s -> %s\n", r.Flow, r.ID, r.state, to)
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.state, to)
	}
	if reason != "" {
		log.Printf("[Saga] %s %s: %s -> %s (%s)\n", r.Flow, r.ID, r.state, to, reason)
	} else {
		log.Printf("[Saga] %s %s: %s -> %s\n", r.Flow, r.ID, r.state, to)
	}
	r.state = to
	if to.Terminal() {
		metrics.SagaOutcomes.WithLabelValues(r.Flow, string(to), reason).Inc()
	}
	return nil
}
