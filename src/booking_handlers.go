package main

import (
	"net/http"
	"time"
	"tourbook/src/boot"
	"tourbook/src/config"
	"tourbook/src/ledger"
	"tourbook/src/middlewares"
	"tourbook/src/money"
	"tourbook/src/saga"
	"tourbook/src/types"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func availabilityHandlers(g *gin.RouterGroup, svc *boot.Services) *gin.RouterGroup {
	g.GET("/bookings/availability", func(ctx *gin.Context) {
		var query types.AvailabilityQuery
		if err := ctx.ShouldBindQuery(&query); err != nil {
			abortWithBindError(ctx, err)
			return
		}
		avail, err := svc.Ledger.Query(ctx, ledger.SlotKey{TourID: query.TourID, Date: query.Date})
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{
			"available":     !avail.IsFullyBooked,
			"spotsLeft":     avail.SpotsLeft,
			"totalCapacity": avail.TotalCapacity,
			"isFullyBooked": avail.IsFullyBooked,
		})
	})
	return g
}

func bookingHandlers(g *gin.RouterGroup, svc *boot.Services) *gin.RouterGroup {
	g.
		POST("/bookings", func(ctx *gin.Context) {
			var body types.CreateBookingRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				abortWithBindError(ctx, err)
				return
			}
			checkout, err := svc.Bookings.Reserve(ctx, saga.CheckoutRequest{
				UserID: ctx.GetUint("id"),
				Items: []saga.Item{{
					TourID:   body.TourID,
					Date:     body.Date,
					Adults:   body.Adults,
					Children: body.Children,
					AddOns:   body.AddOns,
				}},
				PromoCode:       body.PromoCode,
				SpecialRequests: body.SpecialRequests,
			})
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			view := presentCheckout(checkout)
			ctx.JSON(http.StatusCreated, gin.H{"data": view.Bookings[0], "checkout": view})
		}).
		GET("/bookings", func(ctx *gin.Context) {
			bookings, err := svc.Bookings.ListBookings(ctx, ctx.GetUint("id"))
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": presentBookings(bookings), "count": len(bookings)})
		}).
		GET("/bookings/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				abortWithBindError(ctx, err)
				return
			}
			booking, err := svc.Bookings.GetBooking(ctx, params.ID, ctx.GetUint("id"))
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": presentBooking(*booking)})
		}).
		POST("/checkout", func(ctx *gin.Context) {
			var body types.CheckoutRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				abortWithBindError(ctx, err)
				return
			}
			amount, err := minorAmount(body.Amount, body.Currency)
			if err != nil {
				abortWithError(ctx, err)
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
			result, err := svc.Bookings.Checkout(ctx, saga.CheckoutRequest{
				UserID:          ctx.GetUint("id"),
				Items:           items,
				PromoCode:       body.PromoCode,
				Provider:        body.Provider,
				Currency:        body.Currency,
				Amount:          amount,
				Customer:        body.CustomerInfo,
				SpecialRequests: body.SpecialRequests,
			})
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": presentResult(result)})
		}).
		PUT("/bookings/:id/cancel", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				abortWithBindError(ctx, err)
				return
			}
			var body types.CancelBookingRequestBody
			if ctx.Request.ContentLength > 0 {
				if err := ctx.ShouldBindJSON(&body); err != nil {
					abortWithBindError(ctx, err)
					return
				}
			}
			cancelled, err := svc.Bookings.Cancel(ctx, params.ID, ctx.GetUint("id"), body.Reason, time.Now())
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			// siblings on the same hold are cancelled too
			ctx.JSON(http.StatusOK, gin.H{"data": presentBookings(cancelled), "count": len(cancelled)})
		}).
		POST("/bookings/:id/refund", middlewares.AdminOnly, func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				abortWithBindError(ctx, err)
				return
			}
			booking, err := svc.Bookings.Refund(ctx, params.ID)
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": presentBooking(*booking)})
		})
	return g
}

// minorAmount converts an optional client amount. Without a currency the
// default currency's precision is assumed.
func minorAmount(d *decimal.Decimal, currency string) (*int64, error) {
	if d == nil {
		return nil, nil
	}
	if currency == "" {
		currency = config.GetDefaultCurrency()
	}
	amount, err := money.FromDecimal(*d, currency)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}
