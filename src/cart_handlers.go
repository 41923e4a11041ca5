package main

import (
	"errors"
	"net/http"
	"time"
	"tourbook/src/boot"
	"tourbook/src/config"
	"tourbook/src/money"
	"tourbook/src/pricing"
	"tourbook/src/promo"
	"tourbook/src/saga"
	"tourbook/src/types"

	"github.com/gin-gonic/gin"
)

func cartHandlers(g *gin.RouterGroup, svc *boot.Services) *gin.RouterGroup {
	g.
		POST("/promo/validate", func(ctx *gin.Context) {
			var body types.ValidatePromoRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				abortWithBindError(ctx, err)
				return
			}
			currency := config.GetDefaultCurrency()
			subtotal, err := money.FromDecimal(body.CartTotal, currency)
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			p, err := promo.Validate(ctx, svc.Promos, body.Code, subtotal, time.Now())
			var rejected *promo.RejectedError
			if errors.As(err, &rejected) {
				ctx.JSON(http.StatusOK, gin.H{
					"valid":   false,
					"reason":  rejected.Reason,
					"message": saga.PublicMessage(err),
				})
				return
			}
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			discount := pricing.PriceCart([]int64{subtotal}, pricing.DiscountFromPromo(p)).Discount
			ctx.JSON(http.StatusOK, gin.H{
				"valid":          true,
				"promoCode":      p,
				"discountAmount": money.Format(discount, currency),
			})
		}).
		POST("/cart/quote", func(ctx *gin.Context) {
			var body types.CartQuoteRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				abortWithBindError(ctx, err)
				return
			}
			items := make([]saga.Item, len(body.Items))
			for i, item := range body.Items {
				items[i] = saga.Item{
					TourID:   item.TourID,
					Date:     item.Date,
					Adults:   item.Adults,
					Children: item.Children,
					AddOns:   item.AddOns,
				}
			}
			c, currency, err := svc.Bookings.Quote(ctx, items, body.PromoCode)
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": presentCart(c, currency)})
		})
	return g
}
