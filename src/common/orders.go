package common

import (
	"context"
	"log"
	"time"
	"tourbook/src/orders"
)

// ExpireOrders cancels orders stuck PENDING and chases charges given up on
// after a payment timeout.
func ExpireOrders(placed *orders.OrderSaga) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	expired, err := placed.ExpireStale(ctx, time.Now())
	if err != nil {
		log.Printf("[OrderSweeper] Error expiring stale orders: %s\n", err.Error())
	}
	settled, err := placed.ReconcileTimedOut(ctx)
	if err != nil {
		log.Printf("[OrderSweeper] Error reconciling timed out payments: %s\n", err.Error())
	}
	if expired > 0 || settled > 0 {
		log.Printf("[OrderSweeper] Expired %d orders, settled %d timed out payments\n", expired, settled)
	}
}
