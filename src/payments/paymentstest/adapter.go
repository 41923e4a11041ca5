// Package paymentstest provides a scriptable payments.Adapter for tests.
package paymentstest

import (
	"context"
	"fmt"
	"sync"
	"time"
	"tourbook/src/payments"
)

// Adapter returns the queued errors in order, then succeeds. A positive
// Delay makes each charge block until it elapses or ctx ends.
type Adapter struct {
	ProviderName string
	Delay        time.Duration

	mu        sync.Mutex
	errs      []error
	refundErr error
	charges   []payments.ChargeRequest
	refunds   []payments.RefundRequest
}

func New(name string, errs ...error) *Adapter {
	return &Adapter{ProviderName: name, errs: errs}
}

func (a *Adapter) Name() string {
	return a.ProviderName
}

func (a *Adapter) FailRefunds(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refundErr = err
}

func (a *Adapter) Charge(ctx context.Context, req payments.ChargeRequest) (payments.Result, error) {
	if a.Delay > 0 {
		select {
		case <-ctx.Done():
			return payments.Result{}, ctx.Err()
		case <-time.After(a.Delay):
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.charges = append(a.charges, req)
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return payments.Result{}, err
		}
	}
	return payments.Result{
		Success:        true,
		TransactionRef: fmt.Sprintf("%s_%d", a.ProviderName, len(a.charges)),
		Status:         payments.STATUS_COMPLETED,
	}, nil
}

func (a *Adapter) Refund(_ context.Context, req payments.RefundRequest) (payments.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refundErr != nil {
		return payments.Result{}, a.refundErr
	}
	a.refunds = append(a.refunds, req)
	return payments.Result{
		Success:        true,
		TransactionRef: fmt.Sprintf("re_%d", len(a.refunds)),
		Status:         payments.STATUS_COMPLETED,
	}, nil
}

func (a *Adapter) Charges() []payments.ChargeRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]payments.ChargeRequest(nil), a.charges...)
}

func (a *Adapter) Refunds() []payments.RefundRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]payments.RefundRequest(nil), a.refunds...)
}
