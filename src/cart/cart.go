// Package cart models the checkout cart as an immutable value. Every reducer
// returns a new Cart with totals recomputed from the items.
package cart

import (
	"context"
	"slices"
	"time"
	"tourbook/src/models"
	"tourbook/src/pricing"
	"tourbook/src/promo"
	"tourbook/src/types"
)

type LineItem struct {
	TourID        uint                 `json:"tourId"`
	Date          string               `json:"date"`
	Participants  pricing.Participants `json:"participants"`
	AddOns        []types.AddOn        `json:"addOns"`
	PricePerAdult int64                `json:"pricePerAdult"`
	PricePerChild int64                `json:"pricePerChild"`
	LineTotal     int64                `json:"lineTotal"`
}

type Cart struct {
	Items        []LineItem        `json:"items"`
	AppliedPromo *models.PromoCode `json:"appliedPromo,omitempty"`
	Subtotal     int64             `json:"subtotal"`
	Discount     int64             `json:"discount"`
	Total        int64             `json:"total"`
}

func New() Cart {
	return Cart{Items: []LineItem{}}
}

func (c Cart) LineTotals() []int64 {
	totals := make([]int64, len(c.Items))
	for i, item := range c.Items {
		totals[i] = item.LineTotal
	}
	return totals
}

func AddItem(c Cart, item LineItem, now time.Time) Cart {
	items := append(cloneItems(c.Items), cloneItem(item))
	return recompute(items, c.AppliedPromo, now)
}

// RemoveItem drops the item at index. An out-of-range index is ignored.
func RemoveItem(c Cart, index int, now time.Time) Cart {
	if index < 0 || index >= len(c.Items) {
		return recompute(cloneItems(c.Items), c.AppliedPromo, now)
	}
	items := slices.Delete(cloneItems(c.Items), index, index+1)
	return recompute(items, c.AppliedPromo, now)
}

func UpdateItem(c Cart, index int, item LineItem, now time.Time) Cart {
	items := cloneItems(c.Items)
	if index >= 0 && index < len(items) {
		items[index] = cloneItem(item)
	}
	return recompute(items, c.AppliedPromo, now)
}

// ApplyPromo validates code against the current subtotal. On rejection the
// original cart is returned untouched together with the rejection.
func ApplyPromo(ctx context.Context, c Cart, code string, lookup promo.Lookup, now time.Time) (Cart, error) {
	p, err := promo.Validate(ctx, lookup, code, c.Subtotal, now)
	if err != nil {
		return c, err
	}
	return recompute(cloneItems(c.Items), p, now), nil
}

func RemovePromo(c Cart) Cart {
	return price(cloneItems(c.Items), nil)
}

// recompute prices the items and re-checks an applied promo against the new
// subtotal, dropping it when it no longer qualifies.
func recompute(items []LineItem, applied *models.PromoCode, now time.Time) Cart {
	for i := range items {
		items[i].LineTotal = pricing.PriceLineItem(
			items[i].Participants,
			items[i].PricePerAdult,
			items[i].PricePerChild,
			items[i].AddOns,
		)
	}
	if applied != nil {
		var subtotal int64
		for _, item := range items {
			subtotal += item.LineTotal
		}
		if promo.Check(*applied, subtotal, now) != nil {
			applied = nil
		}
	}
	return price(items, applied)
}

func price(items []LineItem, applied *models.PromoCode) Cart {
	next := Cart{Items: items}
	if applied != nil {
		p := *applied
		next.AppliedPromo = &p
	}
	totals := pricing.PriceCart(next.LineTotals(), pricing.DiscountFromPromo(next.AppliedPromo))
	next.Subtotal = totals.Subtotal
	next.Discount = totals.Discount
	next.Total = totals.Total
	return next
}

func cloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	for i, item := range items {
		out[i] = cloneItem(item)
	}
	return out
}

func cloneItem(item LineItem) LineItem {
	item.AddOns = slices.Clone(item.AddOns)
	return item
}
