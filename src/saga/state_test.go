package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAdvancesAlongHappyPath(t *testing.T) {
	run := NewRun(FLOW_BOOKING, "checkout-1", INITIATED)
	for _, next := range []State{CAPACITY_RESERVED, BOOKINGS_PERSISTED, PAYMENT_PENDING, CONFIRMED} {
		require.NoError(t, run.Advance(next, ""))
		assert.Equal(t, next, run.State())
	}
	assert.True(t, run.State().Terminal())
}

func TestRunRejectsIllegalTransitions(t *testing.T) {
	run := NewRun(FLOW_BOOKING, "checkout-2", INITIATED)
	assert.ErrorIs(t, run.Advance(CONFIRMED, ""), ErrIllegalTransition)
	assert.Equal(t, INITIATED, run.State())

	require.NoError(t, run.Advance(ROLLED_BACK, "capacity_exceeded"))
	assert.ErrorIs(t, run.Advance(CAPACITY_RESERVED, ""), ErrIllegalTransition)
	assert.ErrorIs(t, run.Advance(ROLLED_BACK, ""), ErrIllegalTransition)
}

func TestEveryIntermediateStateCanRollBack(t *testing.T) {
	for _, from := range []State{INITIATED, CAPACITY_RESERVED, BOOKINGS_PERSISTED, PAYMENT_PENDING} {
		run := NewRun(FLOW_BOOKING, "checkout-3", from)
		assert.NoError(t, run.Advance(ROLLED_BACK, "test"), from)
	}
}
