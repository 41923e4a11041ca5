package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fastPolicy = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestRetryRecoversFromUnavailable(t *testing.T) {
	calls := 0
	err := fastPolicy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: 503", ErrProviderUnavailable)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	err := fastPolicy.Do(context.Background(), func(context.Context) error {
		calls++
		return ErrProviderUnavailable
	})
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, 3, calls)
}

func TestRetryDoesNotRepeatDeclines(t *testing.T) {
	calls := 0
	err := fastPolicy.Do(context.Background(), func(context.Context) error {
		calls++
		return &DeclinedError{Provider: "card", Code: "insufficient_funds"}
	})
	assert.ErrorIs(t, err, ErrPaymentDeclined)
	assert.Equal(t, 1, calls)

	calls = 0
	err = fastPolicy.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("bad request")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, InitialInterval: time.Hour}
	calls := 0
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return ErrProviderUnavailable
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
