// Package payments selects a provider adapter by id and normalizes every
// provider's outcome into a Result.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"tourbook/src/lib/metrics"
	"tourbook/src/types"
)

var (
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrPaymentDeclined      = errors.New("payment declined")
	ErrProviderUnavailable  = errors.New("payment provider unavailable")
	ErrChargeNotFound       = errors.New("charge not found at provider")
	ErrVoidUnsupported      = errors.New("provider cannot void charges")
)

// DeclinedError is a terminal refusal by the provider. Message is the raw
// provider text and is only ever logged.
type DeclinedError struct {
	Provider string
	Code     string
	Message  string
}

func (e *DeclinedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: payment declined", e.Provider)
	}
	return fmt.Sprintf("%s: payment declined (%s)", e.Provider, e.Code)
}

func (e *DeclinedError) Is(target error) bool {
	return target == ErrPaymentDeclined
}

type Status string

const (
	STATUS_COMPLETED Status = "completed"
	STATUS_PENDING   Status = "pending"
	STATUS_FAILED    Status = "failed"
	STATUS_CANCELLED Status = "cancelled"
)

type ChargeRequest struct {
	// IdempotencyKey is forwarded to the provider so a retried call never
	// charges twice.
	IdempotencyKey string
	Amount         int64
	Currency       string
	BookingIDs     []uint
	Customer       types.CustomerInfo
	Description    string
}

type RefundRequest struct {
	IdempotencyKey string
	TransactionRef string
	Amount         int64
	Currency       string
}

type Result struct {
	Success        bool   `json:"success"`
	TransactionRef string `json:"transactionRef"`
	Status         Status `json:"status"`
	Provider       string `json:"provider"`
}

// Adapter wraps one external payment mechanism.
type Adapter interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
}

// Voider is implemented by adapters whose charges stay open at the provider
// until the customer acts on them. Void cancels the charge made under
// chargeKey and reports the charge's status afterwards: a charge that
// completed before the void comes back STATUS_COMPLETED with its
// TransactionRef, one still being processed comes back STATUS_PENDING.
type Voider interface {
	Void(ctx context.Context, chargeKey string) (Result, error)
}

// CustomerValidator is implemented by adapters that need extra customer
// details, such as a phone number for mobile money.
type CustomerValidator interface {
	ValidateCustomer(c types.CustomerInfo) error
}

type Gateway struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	policy   RetryPolicy
}

func NewGateway(policy RetryPolicy, adapters ...Adapter) *Gateway {
	g := &Gateway{adapters: map[string]Adapter{}, policy: policy}
	for _, a := range adapters {
		g.Register(a)
	}
	return g
}

func (g *Gateway) Register(a Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adapters[a.Name()] = a
}

func (g *Gateway) adapter(provider string) (Adapter, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, provider)
	}
	return a, nil
}

func (g *Gateway) Providers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.adapters))
	for name := range g.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Voidable lists the providers whose adapters can void a charge.
func (g *Gateway) Voidable() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := []string{}
	for name, a := range g.adapters {
		if _, ok := a.(Voider); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks that provider is registered and that the customer carries
// what its adapter needs.
func (g *Gateway) Validate(provider string, customer types.CustomerInfo) error {
	a, err := g.adapter(provider)
	if err != nil {
		return err
	}
	if v, ok := a.(CustomerValidator); ok {
		if err := v.ValidateCustomer(customer); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPaymentMethod, err)
		}
	}
	return nil
}

func (g *Gateway) Charge(ctx context.Context, provider string, req ChargeRequest) (Result, error) {
	a, err := g.adapter(provider)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = g.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = a.Charge(ctx, req)
		metrics.PaymentAttempts.WithLabelValues(provider, outcome(err)).Inc()
		return err
	})
	if err != nil {
		log.Printf("[PaymentGateway] %s charge %s failed: %s\n", provider, req.IdempotencyKey, err.Error())
		return Result{Provider: provider, Status: STATUS_FAILED}, err
	}
	res.Provider = provider
	return res, nil
}

func (g *Gateway) Refund(ctx context.Context, provider string, req RefundRequest) (Result, error) {
	a, err := g.adapter(provider)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = g.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = a.Refund(ctx, req)
		return err
	})
	if err != nil {
		log.Printf("[PaymentGateway] %s refund of %s failed: %s\n", provider, req.TransactionRef, err.Error())
		return Result{Provider: provider, Status: STATUS_FAILED}, err
	}
	res.Provider = provider
	return res, nil
}

// Void cancels an unresolved charge. It fails with ErrVoidUnsupported when
// the provider's adapter has no way to do so.
func (g *Gateway) Void(ctx context.Context, provider, chargeKey string) (Result, error) {
	a, err := g.adapter(provider)
	if err != nil {
		return Result{}, err
	}
	v, ok := a.(Voider)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrVoidUnsupported, provider)
	}
	var res Result
	err = g.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = v.Void(ctx, chargeKey)
		return err
	})
	if err != nil {
		log.Printf("[PaymentGateway] %s void of %s failed: %s\n", provider, chargeKey, err.Error())
		return Result{Provider: provider, Status: STATUS_PENDING}, err
	}
	res.Provider = provider
	return res, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrPaymentDeclined):
		return "declined"
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}
