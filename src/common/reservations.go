package common

import (
	"context"
	"log"
	"time"
	"tourbook/src/ledger"
	"tourbook/src/saga"
)

const sweepTimeout = 30 * time.Second

// ExpireReservations reclaims abandoned checkouts. Stale PENDING bookings
// are cancelled first so their holds go back with them; holds left without
// a booking are then released by the ledger itself. Charges given up on
// after a payment timeout are chased at their provider last.
func ExpireReservations(bookings *saga.BookingSaga, l ledger.Ledger) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	now := time.Now()

	expired, err := bookings.ExpireAbandoned(ctx, now)
	if err != nil {
		log.Printf("[HoldSweeper] Error expiring abandoned bookings: %s\n", err.Error())
	}
	released, err := l.ReleaseExpired(ctx, now)
	if err != nil {
		log.Printf("[HoldSweeper] Error releasing expired holds: %s\n", err.Error())
	}
	settled, err := bookings.ReconcileTimedOut(ctx)
	if err != nil {
		log.Printf("[HoldSweeper] Error reconciling timed out payments: %s\n", err.Error())
	}
	if expired > 0 || released > 0 || settled > 0 {
		log.Printf("[HoldSweeper] Expired %d bookings, released %d holds, settled %d timed out payments\n", expired, released, settled)
	}
}
