// Package money converts between integer minor units and the decimal
// amounts exchanged with clients. Arithmetic never leaves int64.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrPrecision      = errors.New("amount has more decimal places than the currency allows")
)

var zeroDecimal = map[string]bool{
	"jpy": true,
	"krw": true,
	"rwf": true,
	"ugx": true,
	"xof": true,
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) int32 {
	if zeroDecimal[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// FromDecimal converts a major-unit amount into minor units.
func FromDecimal(d decimal.Decimal, currency string) (int64, error) {
	if d.IsNegative() {
		return 0, ErrNegativeAmount
	}
	exp := Exponent(currency)
	shifted := d.Shift(exp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrPrecision
	}
	return shifted.IntPart(), nil
}

func ToDecimal(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -Exponent(currency))
}

// Format renders minor units as a fixed-point string, e.g. 22000 -> "220.00".
func Format(amount int64, currency string) string {
	return ToDecimal(amount, currency).StringFixed(Exponent(currency))
}
