// Package promo evaluates promo-code eligibility against a cart subtotal.
package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"tourbook/src/models"
	"tourbook/src/types"
)

var (
	ErrInvalidPromo = errors.New("invalid promo code")
	ErrNotFound     = errors.New("promo code not found")
)

type Reason string

const (
	NotFound             Reason = "NotFound"
	Expired              Reason = "Expired"
	BelowMinimumPurchase Reason = "BelowMinimumPurchase"
	Malformed            Reason = "Malformed"
)

// RejectedError is returned for every promo that cannot be applied.
type RejectedError struct {
	Code   string
	Reason Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("promo code %q rejected: %s", e.Code, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrInvalidPromo
}

// Lookup resolves a normalized code. Implementations return ErrNotFound
// when the code does not exist.
type Lookup interface {
	FindPromo(ctx context.Context, code string) (*models.PromoCode, error)
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate looks code up and checks it against subtotal at time now.
func Validate(ctx context.Context, lookup Lookup, code string, subtotal int64, now time.Time) (*models.PromoCode, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return nil, &RejectedError{Code: code, Reason: NotFound}
	}
	p, err := lookup.FindPromo(ctx, normalized)
	if errors.Is(err, ErrNotFound) {
		return nil, &RejectedError{Code: normalized, Reason: NotFound}
	}
	if err != nil {
		return nil, err
	}
	if err := Check(*p, subtotal, now); err != nil {
		return nil, err
	}
	return p, nil
}

// Check applies the eligibility rules without any lookup.
func Check(p models.PromoCode, subtotal int64, now time.Time) error {
	switch p.DiscountType {
	case types.DISCOUNT_PERCENTAGE:
		if p.DiscountValue < 0 || p.DiscountValue > 100 {
			return &RejectedError{Code: p.Code, Reason: Malformed}
		}
	case types.DISCOUNT_FIXED:
		if p.DiscountValue < 0 {
			return &RejectedError{Code: p.Code, Reason: Malformed}
		}
	default:
		return &RejectedError{Code: p.Code, Reason: Malformed}
	}
	if p.ExpiryDate != nil && p.ExpiryDate.Before(now) {
		return &RejectedError{Code: p.Code, Reason: Expired}
	}
	if p.MinPurchase != nil && subtotal < *p.MinPurchase {
		return &RejectedError{Code: p.Code, Reason: BelowMinimumPurchase}
	}
	return nil
}
