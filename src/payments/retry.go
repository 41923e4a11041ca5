package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrRetryExhausted = errors.New("retry attempts exhausted")

// RetryPolicy retries calls that failed with ErrProviderUnavailable. Any
// other error, declines included, is returned on the first attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls. 0 means one attempt.
	MaxAttempts        int
	InitialInterval    time.Duration
	BackoffCoefficient float64
	// MaxInterval caps the wait between attempts. 0 means uncapped.
	MaxInterval time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:        3,
	InitialInterval:    200 * time.Millisecond,
	BackoffCoefficient: 2.0,
	MaxInterval:        2 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 200 * time.Millisecond
	}
	if p.BackoffCoefficient <= 0 {
		p.BackoffCoefficient = 2.0
	}
	return p
}

func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	interval := p.InitialInterval
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrProviderUnavailable) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return fmt.Errorf("%w (attempts=%d): %w", ErrRetryExhausted, attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		next := time.Duration(float64(interval) * p.BackoffCoefficient)
		if p.MaxInterval > 0 && next > p.MaxInterval {
			next = p.MaxInterval
		}
		interval = next
	}
}
