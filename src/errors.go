package main

import (
	"errors"
	"log"
	"net/http"
	"tourbook/src/catalog"
	"tourbook/src/ledger"
	"tourbook/src/money"
	"tourbook/src/orders"
	"tourbook/src/payments"
	"tourbook/src/promo"
	"tourbook/src/saga"

	"github.com/gin-gonic/gin"
)

func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, saga.ErrValidation),
		errors.Is(err, promo.ErrInvalidPromo),
		errors.Is(err, payments.ErrInvalidPaymentMethod),
		errors.Is(err, saga.ErrAmountMismatch),
		errors.Is(err, money.ErrNegativeAmount),
		errors.Is(err, money.ErrPrecision):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrTourNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, saga.ErrBookingNotFound),
		errors.Is(err, saga.ErrTransactionNotFound),
		errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrConcurrentOversell):
		return http.StatusInternalServerError
	case errors.Is(err, ledger.ErrCapacityExceeded),
		errors.Is(err, orders.ErrOutOfStock),
		errors.Is(err, saga.ErrPartialPayment),
		errors.Is(err, saga.ErrPaymentInProgress),
		errors.Is(err, saga.ErrInvalidState),
		errors.Is(err, saga.ErrCancellationWindowClosed),
		errors.Is(err, saga.ErrReservationExpired):
		return http.StatusConflict
	case errors.Is(err, payments.ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, payments.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, saga.ErrPaymentTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// abortWithError writes the public message for err. Internal detail stays
// in the log.
func abortWithError(ctx *gin.Context, err error) {
	status := httpStatusFor(err)
	log.Printf("[API] %s %s -> %d: %s\n", ctx.Request.Method, ctx.FullPath(), status, err.Error())
	body := gin.H{"error": orders.PublicMessage(err)}
	var rejected *promo.RejectedError
	if errors.As(err, &rejected) {
		body["reason"] = rejected.Reason
	}
	ctx.AbortWithStatusJSON(status, body)
}

func abortWithBindError(ctx *gin.Context, err error) {
	log.Printf("[API] %s %s invalid request: %s\n", ctx.Request.Method, ctx.FullPath(), err.Error())
	ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
