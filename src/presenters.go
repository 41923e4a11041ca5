package main

import (
	"time"
	"tourbook/src/cart"
	"tourbook/src/models"
	"tourbook/src/money"
	"tourbook/src/saga"
	"tourbook/src/types"

	"github.com/google/uuid"
)

// Amounts leave the API as major-unit strings, e.g. "220.00".

type bookingView struct {
	models.Booking
	TotalPrice string `json:"totalPrice"`
}

func presentBooking(b models.Booking) bookingView {
	return bookingView{Booking: b, TotalPrice: money.Format(b.TotalPrice, b.Currency)}
}

func presentBookings(bookings []models.Booking) []bookingView {
	views := make([]bookingView, len(bookings))
	for i, b := range bookings {
		views[i] = presentBooking(b)
	}
	return views
}

type lineItemView struct {
	TourID        uint          `json:"tourId"`
	Date          string        `json:"date"`
	Adults        int           `json:"adults"`
	Children      int           `json:"children"`
	AddOns        []types.AddOn `json:"addOns"`
	PricePerAdult string        `json:"pricePerAdult"`
	PricePerChild string        `json:"pricePerChild"`
	LineTotal     string        `json:"lineTotal"`
}

type cartView struct {
	Items        []lineItemView    `json:"items"`
	AppliedPromo *models.PromoCode `json:"appliedPromo,omitempty"`
	Subtotal     string            `json:"subtotal"`
	Discount     string            `json:"discount"`
	Total        string            `json:"total"`
	Currency     string            `json:"currency"`
}

func presentCart(c cart.Cart, currency string) cartView {
	items := make([]lineItemView, len(c.Items))
	for i, item := range c.Items {
		items[i] = lineItemView{
			TourID:        item.TourID,
			Date:          item.Date,
			Adults:        item.Participants.Adults,
			Children:      item.Participants.Children,
			AddOns:        item.AddOns,
			PricePerAdult: money.Format(item.PricePerAdult, currency),
			PricePerChild: money.Format(item.PricePerChild, currency),
			LineTotal:     money.Format(item.LineTotal, currency),
		}
	}
	return cartView{
		Items:        items,
		AppliedPromo: c.AppliedPromo,
		Subtotal:     money.Format(c.Subtotal, currency),
		Discount:     money.Format(c.Discount, currency),
		Total:        money.Format(c.Total, currency),
		Currency:     currency,
	}
}

type checkoutView struct {
	CheckoutID uuid.UUID     `json:"checkoutId"`
	Cart       cartView      `json:"cart"`
	Bookings   []bookingView `json:"bookings"`
	ExpiresAt  time.Time     `json:"expiresAt"`
}

func presentCheckout(c *saga.Checkout) checkoutView {
	return checkoutView{
		CheckoutID: c.ID,
		Cart:       presentCart(c.Cart, c.Currency),
		Bookings:   presentBookings(c.Bookings),
		ExpiresAt:  c.ExpiresAt,
	}
}

type transactionView struct {
	models.PaymentTransaction
	Amount string `json:"amount"`
}

type resultView struct {
	CheckoutID  uuid.UUID        `json:"checkoutId"`
	State       saga.State       `json:"state"`
	Bookings    []bookingView    `json:"bookings"`
	Transaction *transactionView `json:"transaction,omitempty"`
}

func presentResult(r *saga.Result) resultView {
	view := resultView{
		CheckoutID: r.CheckoutID,
		State:      r.State,
		Bookings:   presentBookings(r.Bookings),
	}
	if r.Transaction != nil {
		view.Transaction = &transactionView{
			PaymentTransaction: *r.Transaction,
			Amount:             money.Format(r.Transaction.Amount, r.Transaction.Currency),
		}
	}
	return view
}

type orderItemView struct {
	ProductID uint   `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	LineTotal string `json:"lineTotal"`
}

type orderView struct {
	models.Order
	Items    []orderItemView `json:"items"`
	Subtotal string          `json:"subtotal"`
	Tax      string          `json:"tax"`
	Shipping string          `json:"shipping"`
	Discount string          `json:"discount"`
	Total    string          `json:"total"`
}

func presentOrder(o *models.Order) orderView {
	items := make([]orderItemView, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemView{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: money.Format(item.UnitPrice, o.Currency),
			LineTotal: money.Format(item.LineTotal, o.Currency),
		}
	}
	return orderView{
		Order:    *o,
		Items:    items,
		Subtotal: money.Format(o.Subtotal, o.Currency),
		Tax:      money.Format(o.Tax, o.Currency),
		Shipping: money.Format(o.Shipping, o.Currency),
		Discount: money.Format(o.Discount, o.Currency),
		Total:    money.Format(o.Total, o.Currency),
	}
}
