// Package pricing computes line, cart and order totals. All amounts are
// int64 minor units; nothing here performs I/O.
package pricing

import (
	"tourbook/src/models"
	"tourbook/src/types"
)

type Participants struct {
	Adults   int `json:"adults"`
	Children int `json:"children"`
}

func (p Participants) Total() int {
	return p.Adults + p.Children
}

// Discount is the pricing view of a promo code.
type Discount struct {
	Type        types.DiscountType
	Value       int64
	MaxDiscount *int64
}

func DiscountFromPromo(p *models.PromoCode) *Discount {
	if p == nil {
		return nil
	}
	return &Discount{Type: p.DiscountType, Value: p.DiscountValue, MaxDiscount: p.MaxDiscount}
}

type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

// PriceLineItem returns adults*perAdult + children*perChild + the add-on prices.
func PriceLineItem(p Participants, perAdult, perChild int64, addOns []types.AddOn) int64 {
	total := int64(p.Adults)*perAdult + int64(p.Children)*perChild
	for _, a := range addOns {
		total += a.Price
	}
	return total
}

// DiscountFor returns the raw discount of d against subtotal. Percentage
// discounts truncate to the minor unit and respect MaxDiscount.
func DiscountFor(d Discount, subtotal int64) int64 {
	var amount int64
	switch d.Type {
	case types.DISCOUNT_PERCENTAGE:
		amount = subtotal * d.Value / 100
		if d.MaxDiscount != nil && amount > *d.MaxDiscount {
			amount = *d.MaxDiscount
		}
	case types.DISCOUNT_FIXED:
		amount = d.Value
	}
	if amount < 0 {
		return 0
	}
	return amount
}

// PriceCart sums the line totals and applies the discount, never letting the
// discount exceed the subtotal.
func PriceCart(lineTotals []int64, discount *Discount) Totals {
	var t Totals
	for _, lt := range lineTotals {
		t.Subtotal += lt
	}
	if discount != nil {
		t.Discount = min(DiscountFor(*discount, t.Subtotal), t.Subtotal)
	}
	t.Total = max(0, t.Subtotal-t.Discount)
	return t
}

// Allocate splits total across weights proportionally using the largest
// remainder method, so the parts always sum to total exactly.
func Allocate(total int64, weights []int64) []int64 {
	parts := make([]int64, len(weights))
	if len(weights) == 0 {
		return parts
	}
	var sum int64
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		parts[0] = total
		return parts
	}
	remainders := make([]int64, len(weights))
	var allocated int64
	for i, w := range weights {
		parts[i] = total * w / sum
		remainders[i] = total * w % sum
		allocated += parts[i]
	}
	for left := total - allocated; left > 0; left-- {
		best := 0
		for i := range remainders {
			if remainders[i] > remainders[best] {
				best = i
			}
		}
		parts[best]++
		remainders[best] = -1
	}
	return parts
}
