package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"tourbook/src/boot"
	"tourbook/src/config"
	"tourbook/src/saga"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// stripeWebhookRoute reconciles refunds made from the Stripe dashboard and
// charges that landed after their checkout was rolled back.
func stripeWebhookRoute(g *gin.Engine, svc *boot.Services) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/stripe", func(ctx *gin.Context) {
		payload, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			log.Printf("Error reading request body: %s\n", err.Error())
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		event, err := webhook.ConstructEvent(payload, ctx.GetHeader("Stripe-Signature"), config.GetStripeWebhookSecret())
		if err != nil {
			log.Printf("Error verifying webhook signature: %s\n", err.Error())
			ctx.Status(http.StatusBadRequest)
			return
		}
		log.Printf("[StripeEvent] %s\n", event.Type)
		switch event.Type {
		case "charge.refunded":
			var charge stripe.Charge
			if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
				log.Printf("[Stripe] Error parsing Charge: %s\n", err.Error())
				break
			}
			if !charge.Refunded || charge.PaymentIntent == nil {
				log.Printf("[Stripe] Charge %s partially refunded, nothing to reconcile\n", charge.ID)
				break
			}
			n, err := svc.Bookings.ReconcileRefund(ctx, charge.PaymentIntent.ID)
			if errors.Is(err, saga.ErrTransactionNotFound) {
				log.Printf("[Stripe] No checkout for payment %s\n", charge.PaymentIntent.ID)
				break
			}
			if err != nil {
				log.Printf("[Stripe] Error reconciling refund of %s: %s\n", charge.PaymentIntent.ID, err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
			log.Printf("[Stripe] Refund of %s marked %d booking(s) refunded\n", charge.PaymentIntent.ID, n)
		case "payment_intent.succeeded":
			var pi stripe.PaymentIntent
			if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
				log.Printf("[Stripe] Error parsing PaymentIntent: %s\n", err.Error())
				break
			}
			key, ok := strings.CutPrefix(pi.Metadata["checkout_id"], "checkout-")
			if !ok {
				break
			}
			checkoutID, err := uuid.Parse(key)
			if err != nil {
				log.Printf("Could not parse checkout id for PaymentIntent %s: %s\n", pi.ID, err.Error())
				break
			}
			err = svc.Bookings.ReconcileLateCharge(ctx, checkoutID, pi.ID, pi.Amount)
			if errors.Is(err, saga.ErrTransactionNotFound) {
				break
			}
			if err != nil {
				log.Printf("[Stripe] Error reconciling PaymentIntent %s: %s\n", pi.ID, err.Error())
				ctx.Status(http.StatusInternalServerError)
				return
			}
		case "payment_intent.payment_failed":
			var pi stripe.PaymentIntent
			if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
				log.Printf("[Stripe] Error parsing PaymentIntent: %s\n", err.Error())
				break
			}
			code := ""
			if pi.LastPaymentError != nil {
				code = string(pi.LastPaymentError.Code)
			}
			log.Printf("[Stripe] PaymentIntent %s for %s failed: %s\n", pi.ID, pi.Metadata["checkout_id"], code)
		}
		ctx.Status(http.StatusOK)
	})
	return apiv1
}
