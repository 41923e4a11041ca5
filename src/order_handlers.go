package main

import (
	"net/http"
	"tourbook/src/boot"
	"tourbook/src/orders"
	"tourbook/src/types"

	"github.com/gin-gonic/gin"
)

func orderHandlers(g *gin.RouterGroup, svc *boot.Services) *gin.RouterGroup {
	g.
		POST("/orders", func(ctx *gin.Context) {
			var body types.CreateOrderRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				abortWithBindError(ctx, err)
				return
			}
			items := make([]orders.Item, len(body.Items))
			for i, item := range body.Items {
				items[i] = orders.Item{ProductID: item.ProductID, Quantity: item.Quantity}
			}
			order, err := svc.Orders.Place(ctx, orders.OrderRequest{
				UserID:    ctx.GetUint("id"),
				Items:     items,
				PromoCode: body.PromoCode,
				Provider:  body.Provider,
				Currency:  body.Currency,
				Customer:  body.CustomerInfo,
			})
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusCreated, gin.H{"data": presentOrder(order)})
		}).
		GET("/orders/:id", func(ctx *gin.Context) {
			var params types.SimpleRequestParams
			if err := ctx.ShouldBindUri(&params); err != nil {
				abortWithBindError(ctx, err)
				return
			}
			order, err := svc.Orders.Get(ctx, params.ID, ctx.GetUint("id"))
			if err != nil {
				abortWithError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"data": presentOrder(order)})
		})
	return g
}
