package pricing

type OrderLine struct {
	UnitPrice int64
	Quantity  int
}

func (l OrderLine) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

type OrderRates struct {
	TaxBps           int64
	ShippingFlat     int64
	FreeShippingOver int64
}

type OrderTotals struct {
	Subtotal int64 `json:"subtotal"`
	Tax      int64 `json:"tax"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

// PriceOrder computes total = subtotal + tax + shipping - discount. Tax is
// charged on the undiscounted subtotal and rounded half up.
func PriceOrder(lines []OrderLine, discount *Discount, rates OrderRates) OrderTotals {
	var t OrderTotals
	for _, l := range lines {
		t.Subtotal += l.Total()
	}
	t.Tax = (t.Subtotal*rates.TaxBps + 5000) / 10000
	t.Shipping = rates.ShippingFlat
	if rates.FreeShippingOver > 0 && t.Subtotal >= rates.FreeShippingOver {
		t.Shipping = 0
	}
	if discount != nil {
		t.Discount = min(DiscountFor(*discount, t.Subtotal), t.Subtotal)
	}
	t.Total = max(0, t.Subtotal+t.Tax+t.Shipping-t.Discount)
	return t
}
