// Package saga runs the booking checkout: reserve capacity, persist PENDING
// bookings, charge once for the whole checkout, then confirm. Every failure
// after capacity was taken unwinds the completed steps in reverse.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"
	"tourbook/src/cart"
	"tourbook/src/catalog"
	"tourbook/src/config"
	"tourbook/src/ledger"
	"tourbook/src/lib/metrics"
	"tourbook/src/models"
	"tourbook/src/notify"
	"tourbook/src/payments"
	"tourbook/src/pricing"
	"tourbook/src/promo"
	"tourbook/src/types"
	"tourbook/src/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const FLOW_BOOKING = "booking"

type Config struct {
	HoldWindow         time.Duration
	PaymentTimeout     time.Duration
	CancellationCutoff time.Duration
	Location           *time.Location
	Now                func() time.Time
}

func (c Config) withDefaults() Config {
	if c.HoldWindow <= 0 {
		c.HoldWindow = 15 * time.Minute
	}
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = 30 * time.Second
	}
	if c.CancellationCutoff <= 0 {
		c.CancellationCutoff = config.CANCELLATION_CUTOFF
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type Deps struct {
	Catalog  catalog.Catalog
	Promos   promo.Lookup
	Ledger   ledger.Ledger
	Gateway  *payments.Gateway
	Store    Store
	Notifier notify.Notifier
}

type BookingSaga struct {
	catalog  catalog.Catalog
	promos   promo.Lookup
	ledger   ledger.Ledger
	gateway  *payments.Gateway
	store    Store
	notifier notify.Notifier
	cfg      Config
}

func NewBookingSaga(deps Deps, cfg Config) *BookingSaga {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &BookingSaga{
		catalog:  deps.Catalog,
		promos:   deps.Promos,
		ledger:   deps.Ledger,
		gateway:  deps.Gateway,
		store:    deps.Store,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
	}
}

type Item struct {
	TourID   uint
	Date     string
	Adults   int
	Children int
	AddOns   []string
}

type CheckoutRequest struct {
	UserID          uint
	Items           []Item
	PromoCode       string
	Provider        string
	Currency        string
	Amount          *int64
	Customer        types.CustomerInfo
	SpecialRequests *string
}

// Checkout is a reserved, unpaid set of PENDING bookings.
type Checkout struct {
	ID        uuid.UUID        `json:"checkoutId"`
	Cart      cart.Cart        `json:"cart"`
	Currency  string           `json:"currency"`
	Bookings  []models.Booking `json:"bookings"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

func (c *Checkout) BookingIDs() []uint {
	return bookingIDs(c.Bookings)
}

type SettleRequest struct {
	UserID     uint
	BookingIDs []uint
	Provider   string
	Amount     *int64
	Currency   string
	Customer   types.CustomerInfo
}

type Result struct {
	CheckoutID  uuid.UUID                  `json:"checkoutId"`
	State       State                      `json:"state"`
	Bookings    []models.Booking           `json:"bookings"`
	Transaction *models.PaymentTransaction `json:"transaction,omitempty"`
}

// Quote prices items against the catalog without reserving anything.
func (s *BookingSaga) Quote(ctx context.Context, items []Item, promoCode string) (cart.Cart, string, error) {
	if len(items) == 0 {
		return cart.Cart{}, "", validation("cart is empty")
	}
	now := s.cfg.Now()
	c := cart.New()
	currency := ""
	for i, item := range items {
		if item.Adults < 0 || item.Children < 0 || item.Adults+item.Children < 1 {
			return cart.Cart{}, "", validation("item %d needs at least one participant", i+1)
		}
		if !utils.IsBookableDate(item.Date, now, s.cfg.Location) {
			return cart.Cart{}, "", validation("item %d has an invalid or past date %q", i+1, item.Date)
		}
		tour, err := s.catalog.Tour(ctx, item.TourID)
		if err != nil {
			return cart.Cart{}, "", err
		}
		if currency == "" {
			currency = strings.ToLower(tour.Currency)
		} else if !strings.EqualFold(currency, tour.Currency) {
			return cart.Cart{}, "", validation("items must share one currency")
		}
		addOns, err := resolveAddOns(tour, item.AddOns)
		if err != nil {
			return cart.Cart{}, "", err
		}
		c = cart.AddItem(c, cart.LineItem{
			TourID:        tour.ID,
			Date:          item.Date,
			Participants:  pricing.Participants{Adults: item.Adults, Children: item.Children},
			AddOns:        addOns,
			PricePerAdult: tour.PricePerAdult,
			PricePerChild: tour.PricePerChild,
		}, now)
	}
	if promoCode != "" {
		var err error
		if c, err = cart.ApplyPromo(ctx, c, promoCode, s.promos, now); err != nil {
			return cart.Cart{}, "", err
		}
	}
	return c, currency, nil
}

func resolveAddOns(tour *models.Tour, ids []string) ([]types.AddOn, error) {
	addOns := make([]types.AddOn, 0, len(ids))
	for _, id := range ids {
		if slices.ContainsFunc(addOns, func(a types.AddOn) bool { return a.ID == id }) {
			return nil, validation("add-on %q selected twice", id)
		}
		addOn, ok := tour.AddOn(id)
		if !ok {
			return nil, validation("tour %d has no add-on %q", tour.ID, id)
		}
		addOns = append(addOns, addOn)
	}
	return addOns, nil
}

// Reserve takes capacity for every item and persists the PENDING bookings.
// Nothing is charged.
func (s *BookingSaga) Reserve(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	c, currency, err := s.Quote(ctx, req.Items, req.PromoCode)
	if err != nil {
		return nil, err
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, currency) {
		return nil, validation("currency %s does not match tour currency %s", req.Currency, currency)
	}
	if req.Amount != nil && *req.Amount != c.Total {
		return nil, ErrAmountMismatch
	}
	if req.Provider != "" && c.Total > 0 {
		if err := s.gateway.Validate(req.Provider, req.Customer); err != nil {
			return nil, err
		}
	}

	checkoutID := uuid.New()
	run := NewRun(FLOW_BOOKING, checkoutID.String(), INITIATED)

	tokens, err := s.reserveCapacity(ctx, c.Items)
	if err != nil {
		reason := "capacity_exceeded"
		if !errors.Is(err, ledger.ErrCapacityExceeded) {
			reason = "reservation_failed"
		}
		run.Advance(ROLLED_BACK, reason)
		return nil, err
	}
	run.Advance(CAPACITY_RESERVED, "")

	now := s.cfg.Now()
	shares := pricing.Allocate(c.Total, c.LineTotals())
	bookings := make([]models.Booking, len(c.Items))
	expiresAt := now.Add(s.cfg.HoldWindow)
	for i, item := range c.Items {
		token := tokens[ledger.SlotKey{TourID: item.TourID, Date: item.Date}]
		if token.ExpiresAt.Before(expiresAt) {
			expiresAt = token.ExpiresAt
		}
		bookings[i] = models.Booking{
			CheckoutID:      checkoutID,
			TourID:          item.TourID,
			Date:            item.Date,
			UserID:          req.UserID,
			Adults:          item.Participants.Adults,
			Children:        item.Participants.Children,
			AddOns:          types.AddOnList(item.AddOns),
			TotalPrice:      shares[i],
			Currency:        currency,
			Status:          types.BOOKING_PENDING,
			HoldToken:       token.ID,
			SpecialRequests: req.SpecialRequests,
		}
		bookings[i].CreatedAt = now
	}

	if err := s.store.CreateBookings(ctx, bookings); err != nil {
		log.Printf("[BookingSaga] Error persisting checkout %s: %s\n", checkoutID, err.Error())
		s.releaseTokens(ctx, tokens)
		run.Advance(ROLLED_BACK, types.REASON_PERSISTENCE_FAILED)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	run.Advance(BOOKINGS_PERSISTED, "")

	return &Checkout{
		ID:        checkoutID,
		Cart:      c,
		Currency:  currency,
		Bookings:  bookings,
		ExpiresAt: expiresAt,
	}, nil
}

// reserveCapacity takes one hold per distinct slot, summing participants of
// items on the same slot. On any failure every hold already taken is
// released.
func (s *BookingSaga) reserveCapacity(ctx context.Context, items []cart.LineItem) (map[ledger.SlotKey]ledger.Token, error) {
	spots := map[ledger.SlotKey]int{}
	keys := []ledger.SlotKey{}
	for _, item := range items {
		key := ledger.SlotKey{TourID: item.TourID, Date: item.Date}
		if _, ok := spots[key]; !ok {
			keys = append(keys, key)
		}
		spots[key] += item.Participants.Total()
	}

	var mu sync.Mutex
	tokens := make(map[ledger.SlotKey]ledger.Token, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			token, err := s.ledger.Reserve(gctx, key, spots[key])
			if err != nil {
				return fmt.Errorf("tour %d on %s: %w", key.TourID, key.Date, err)
			}
			mu.Lock()
			tokens[key] = token
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.releaseTokens(ctx, tokens)
		return nil, err
	}
	return tokens, nil
}

func (s *BookingSaga) releaseTokens(ctx context.Context, tokens map[ledger.SlotKey]ledger.Token) {
	ids := make([]string, 0, len(tokens))
	for _, token := range tokens {
		ids = append(ids, token.ID)
	}
	s.release(ctx, ids)
}

func (s *BookingSaga) release(ctx context.Context, tokenIDs []string) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range tokenIDs {
		if id == "" {
			continue
		}
		if err := s.ledger.Release(ctx, id); err != nil {
			log.Printf("[BookingSaga] Error releasing hold %s: %s\n", id, err.Error())
		}
	}
}

// Settle charges a complete PENDING checkout and confirms it. Either every
// booking ends CONFIRMED with one completed transaction or every booking
// ends CANCELLED with its capacity returned.
func (s *BookingSaga) Settle(ctx context.Context, req SettleRequest) (*Result, error) {
	bookings, err := s.loadCheckout(ctx, req.UserID, req.BookingIDs)
	if err != nil {
		return nil, err
	}
	checkoutID := bookings[0].CheckoutID
	currency := bookings[0].Currency
	var total int64
	for _, b := range bookings {
		total += b.TotalPrice
	}
	if req.Amount != nil && *req.Amount != total {
		return nil, ErrAmountMismatch
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, currency) {
		return nil, validation("currency %s does not match booking currency %s", req.Currency, currency)
	}
	provider := req.Provider
	if total > 0 {
		if err := s.gateway.Validate(provider, req.Customer); err != nil {
			return nil, err
		}
	} else if provider == "" {
		provider = "none"
	}

	run := NewRun(FLOW_BOOKING, checkoutID.String(), BOOKINGS_PERSISTED)
	if !s.cfg.Now().Before(bookings[0].CreatedAt.Add(s.cfg.HoldWindow)) {
		s.rollback(ctx, run, bookings, nil, types.REASON_HOLD_EXPIRED, req.Customer)
		return nil, ErrReservationExpired
	}
	txn := &models.PaymentTransaction{
		ID:         uuid.New(),
		CheckoutID: checkoutID,
		Provider:   provider,
		BookingIDs: types.UintList(bookingIDs(bookings)),
		Amount:     total,
		Currency:   currency,
		Status:     types.TRANSACTION_PENDING,
	}
	txn.CreatedAt = s.cfg.Now()
	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		if errors.Is(err, ErrPaymentInProgress) {
			return nil, err
		}
		log.Printf("[BookingSaga] Error recording transaction for %s: %s\n", checkoutID, err.Error())
		s.rollback(ctx, run, bookings, nil, types.REASON_PERSISTENCE_FAILED, req.Customer)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	run.Advance(PAYMENT_PENDING, "")

	var ref string
	if total > 0 {
		res, err := s.charge(ctx, provider, payments.ChargeRequest{
			IdempotencyKey: chargeKey(checkoutID),
			Amount:         total,
			Currency:       currency,
			BookingIDs:     txn.BookingIDs,
			Customer:       req.Customer,
			Description:    describe(bookings),
		})
		if err != nil {
			reason := FailureReason(err)
			s.rollback(ctx, run, bookings, txn, reason, req.Customer)
			if errors.Is(err, ErrPaymentTimeout) {
				s.settleTimedOut(ctx, txn)
			}
			return nil, err
		}
		ref = res.TransactionRef
	}

	if err := s.confirm(ctx, bookings, txn.ID, ref); err != nil {
		return nil, s.compensateCharge(ctx, run, bookings, txn, ref, err, req.Customer)
	}
	run.Advance(CONFIRMED, "")

	confirmed, err := s.store.FindBookings(context.WithoutCancel(ctx), txn.BookingIDs)
	if err != nil || len(confirmed) != len(bookings) {
		confirmed = bookings
		for i := range confirmed {
			confirmed[i].Status = types.BOOKING_CONFIRMED
			confirmed[i].TransactionID = &txn.ID
		}
	}
	txn.Status = types.TRANSACTION_COMPLETED
	if ref != "" {
		txn.TransactionRef = &ref
	}
	s.publish(ctx, notify.BOOKING_CONFIRMED, confirmed, total, "", req.Customer)
	return &Result{CheckoutID: checkoutID, State: CONFIRMED, Bookings: confirmed, Transaction: txn}, nil
}

// Checkout reserves and settles in one call.
func (s *BookingSaga) Checkout(ctx context.Context, req CheckoutRequest) (*Result, error) {
	checkout, err := s.Reserve(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Settle(ctx, SettleRequest{
		UserID:     req.UserID,
		BookingIDs: checkout.BookingIDs(),
		Provider:   req.Provider,
		Customer:   req.Customer,
	})
}

// loadCheckout returns the bookings named by ids after checking they are
// the caller's, still PENDING, and together form a whole checkout.
func (s *BookingSaga) loadCheckout(ctx context.Context, userID uint, ids []uint) ([]models.Booking, error) {
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))
	if len(ids) == 0 {
		return nil, validation("no bookings given")
	}
	bookings, err := s.store.FindBookings(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(bookings) != len(ids) {
		return nil, ErrBookingNotFound
	}
	checkoutID := bookings[0].CheckoutID
	for _, b := range bookings {
		if b.UserID != userID {
			return nil, ErrBookingNotFound
		}
		if b.Status != types.BOOKING_PENDING {
			return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidState, b.Reference, b.Status)
		}
		if b.CheckoutID != checkoutID {
			return nil, ErrPartialPayment
		}
	}
	all, err := s.store.FindCheckout(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	pending := 0
	for _, b := range all {
		if b.Status == types.BOOKING_PENDING {
			pending++
		}
	}
	if pending != len(bookings) {
		return nil, ErrPartialPayment
	}
	return bookings, nil
}

func (s *BookingSaga) charge(ctx context.Context, provider string, req payments.ChargeRequest) (payments.Result, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()
	res, err := s.gateway.Charge(chargeCtx, provider, req)
	if err == nil && !res.Success {
		err = &payments.DeclinedError{Provider: provider, Code: string(res.Status)}
	}
	if err != nil && errors.Is(chargeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, fmt.Errorf("%w: %w", ErrPaymentTimeout, err)
	}
	return res, err
}

// confirm commits every hold, then flips the bookings to CONFIRMED.
func (s *BookingSaga) confirm(ctx context.Context, bookings []models.Booking, txnID uuid.UUID, ref string) error {
	ctx = context.WithoutCancel(ctx)
	for _, token := range holdTokens(bookings) {
		if err := s.ledger.Commit(ctx, token); err != nil {
			return err
		}
	}
	return s.store.Confirm(ctx, bookingIDs(bookings), txnID, ref)
}

// rollback cancels the bookings, fails the transaction and returns the
// capacity. It runs to completion even when the caller's context is done.
func (s *BookingSaga) rollback(ctx context.Context, run *Run, bookings []models.Booking, txn *models.PaymentTransaction, reason string, customer types.CustomerInfo) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.Cancel(ctx, bookingIDs(bookings), reason, s.cfg.Now()); err != nil {
		log.Printf("[BookingSaga] Error cancelling checkout %s: %s\n", run.ID, err.Error())
	}
	if txn != nil {
		if err := s.store.CloseTransaction(ctx, txn.ID, types.TRANSACTION_FAILED, reason); err != nil {
			log.Printf("[BookingSaga] Error failing transaction %s: %s\n", txn.ID, err.Error())
		}
	}
	s.release(ctx, holdTokens(bookings))
	run.Advance(ROLLED_BACK, reason)
	s.publish(ctx, notify.BOOKING_CANCELLED, bookings, 0, reason, customer)
}

// compensateCharge unwinds a checkout whose payment succeeded but could not
// be confirmed: the charge is refunded before the bookings are cancelled.
func (s *BookingSaga) compensateCharge(ctx context.Context, run *Run, bookings []models.Booking, txn *models.PaymentTransaction, ref string, cause error, customer types.CustomerInfo) error {
	ctx = context.WithoutCancel(ctx)
	reason := types.REASON_CONFIRMATION_FAILED
	if errors.Is(cause, ledger.ErrHoldNotFound) {
		reason = types.REASON_HOLD_EXPIRED
	}
	log.Printf("[BookingSaga] Checkout %s charged but not confirmed (%s): %s\n", run.ID, reason, cause.Error())

	refunded := false
	if txn.Amount > 0 {
		_, err := s.gateway.Refund(ctx, txn.Provider, payments.RefundRequest{
			IdempotencyKey: "refund-" + txn.CheckoutID.String(),
			TransactionRef: ref,
			Amount:         txn.Amount,
			Currency:       txn.Currency,
		})
		if err != nil {
			metrics.IntegrityAlarms.WithLabelValues("unrefunded_charge").Inc()
			log.Printf("[BookingSaga] INTEGRITY ALARM checkout %s charged %d %s via %s (%s) and refund failed: %s\n",
				run.ID, txn.Amount, txn.Currency, txn.Provider, ref, err.Error())
		} else {
			refunded = true
		}
	}

	ids := bookingIDs(bookings)
	if err := s.store.Cancel(ctx, ids, reason, s.cfg.Now()); err != nil {
		log.Printf("[BookingSaga] Error cancelling checkout %s: %s\n", run.ID, err.Error())
	}
	if err := s.store.CloseTransaction(ctx, txn.ID, types.TRANSACTION_CANCELLED, reason); err != nil {
		log.Printf("[BookingSaga] Error cancelling transaction %s: %s\n", txn.ID, err.Error())
	}
	s.release(ctx, holdTokens(bookings))
	if refunded {
		if err := s.store.MarkRefunded(ctx, ids); err != nil {
			log.Printf("[BookingSaga] Error marking checkout %s refunded: %s\n", run.ID, err.Error())
		}
	}
	run.Advance(ROLLED_BACK, reason)
	s.publish(ctx, notify.BOOKING_CANCELLED, bookings, txn.Amount, reason, customer)

	if reason == types.REASON_HOLD_EXPIRED {
		return ErrReservationExpired
	}
	return fmt.Errorf("%w: %w", ErrPersistence, cause)
}

func (s *BookingSaga) publish(ctx context.Context, kind notify.Kind, bookings []models.Booking, amount int64, reason string, customer types.CustomerInfo) {
	if len(bookings) == 0 {
		return
	}
	refs := make([]string, 0, len(bookings))
	for _, b := range bookings {
		refs = append(refs, b.Reference)
	}
	notify.Dispatch(ctx, s.notifier, notify.Event{
		Kind:       kind,
		CheckoutID: bookings[0].CheckoutID.String(),
		UserID:     bookings[0].UserID,
		Email:      customer.Email,
		Name:       customer.Name,
		References: refs,
		Amount:     amount,
		Currency:   bookings[0].Currency,
		Reason:     reason,
		OccurredAt: s.cfg.Now(),
	})
}

// chargeKey is the idempotency key of a checkout's charge. Providers also
// use it to find the charge again.
func chargeKey(checkoutID uuid.UUID) string {
	return "checkout-" + checkoutID.String()
}

func bookingIDs(bookings []models.Booking) []uint {
	ids := make([]uint, 0, len(bookings))
	for _, b := range bookings {
		if b.ID != 0 {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// holdTokens returns the distinct non-empty hold tokens of bookings.
func holdTokens(bookings []models.Booking) []string {
	tokens := []string{}
	for _, b := range bookings {
		if b.HoldToken != "" && !slices.Contains(tokens, b.HoldToken) {
			tokens = append(tokens, b.HoldToken)
		}
	}
	return tokens
}

func describe(bookings []models.Booking) string {
	refs := make([]string, 0, len(bookings))
	for _, b := range bookings {
		refs = append(refs, b.Reference)
	}
	return "Tour booking " + strings.Join(refs, ", ")
}
