package main

import (
	"net/http"
	"tourbook/src/boot"
	"tourbook/src/saga"
	"tourbook/src/types"

	"github.com/gin-gonic/gin"
)

func paymentHandlers(g *gin.RouterGroup, svc *boot.Services) *gin.RouterGroup {
	g.POST("/payments/:provider/create-intent", func(ctx *gin.Context) {
		var params types.ProviderRequestParams
		if err := ctx.ShouldBindUri(&params); err != nil {
			abortWithBindError(ctx, err)
			return
		}
		var body types.CreateIntentRequestBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			abortWithBindError(ctx, err)
			return
		}
		amount, err := minorAmount(body.Amount, body.Currency)
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		result, err := svc.Bookings.Settle(ctx, saga.SettleRequest{
			UserID:     ctx.GetUint("id"),
			BookingIDs: body.BookingIDs,
			Provider:   params.Provider,
			Amount:     amount,
			Currency:   body.Currency,
			Customer:   body.CustomerInfo,
		})
		if err != nil {
			abortWithError(ctx, err)
			return
		}
		var ref string
		var status types.TransactionStatus
		if result.Transaction != nil {
			status = result.Transaction.Status
			if result.Transaction.TransactionRef != nil {
				ref = *result.Transaction.TransactionRef
			}
		}
		ctx.JSON(http.StatusOK, gin.H{
			"success":        true,
			"transactionRef": ref,
			"status":         status,
			"data":           presentResult(result),
		})
	})
	return g
}
