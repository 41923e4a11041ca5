// Package orders runs marketplace purchases through the same
// reserve, persist, charge, confirm saga as bookings, with product stock in
// place of tour capacity.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"tourbook/src/catalog"
	"tourbook/src/lib/metrics"
	"tourbook/src/models"
	"tourbook/src/notify"
	"tourbook/src/payments"
	"tourbook/src/pricing"
	"tourbook/src/promo"
	"tourbook/src/saga"
	"tourbook/src/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const FLOW_ORDER = "order"

type Config struct {
	Rates          pricing.OrderRates
	PaymentTimeout time.Duration
	// StaleAfter is how long an order may stay PENDING before the sweeper
	// treats its payment as lost.
	StaleAfter time.Duration
	Now        func() time.Time
}

type Deps struct {
	Catalog  catalog.Catalog
	Promos   promo.Lookup
	Stock    StockLedger
	Gateway  *payments.Gateway
	Store    Store
	Notifier notify.Notifier
}

type OrderSaga struct {
	catalog  catalog.Catalog
	promos   promo.Lookup
	stock    StockLedger
	gateway  *payments.Gateway
	store    Store
	notifier notify.Notifier
	cfg      Config
}

func NewOrderSaga(deps Deps, cfg Config) *OrderSaga {
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = cfg.PaymentTimeout + time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &OrderSaga{
		catalog:  deps.Catalog,
		promos:   deps.Promos,
		stock:    deps.Stock,
		gateway:  deps.Gateway,
		store:    deps.Store,
		notifier: notifier,
		cfg:      cfg,
	}
}

type Item struct {
	ProductID uint
	Quantity  int
}

type OrderRequest struct {
	UserID    uint
	Items     []Item
	PromoCode string
	Provider  string
	Currency  string
	Customer  types.CustomerInfo
}

// Place prices, reserves stock for, persists and charges an order. On any
// failure after stock was taken the order ends CANCELLED and every unit is
// put back.
func (s *OrderSaga) Place(ctx context.Context, req OrderRequest) (*models.Order, error) {
	order, err := s.price(ctx, req)
	if err != nil {
		return nil, err
	}
	if order.Total > 0 {
		if err := s.gateway.Validate(req.Provider, req.Customer); err != nil {
			return nil, err
		}
	}

	run := saga.NewRun(FLOW_ORDER, uuid.NewString(), saga.INITIATED)
	if err := s.persist(ctx, order); err != nil {
		if errors.Is(err, ErrOutOfStock) || errors.Is(err, catalog.ErrProductNotFound) {
			run.Advance(saga.ROLLED_BACK, "out_of_stock")
			return nil, err
		}
		log.Printf("[OrderSaga] Error persisting order: %s\n", err.Error())
		run.Advance(saga.ROLLED_BACK, types.REASON_PERSISTENCE_FAILED)
		return nil, fmt.Errorf("%w: %w", saga.ErrPersistence, err)
	}
	run.ID = order.Reference
	run.Advance(saga.CAPACITY_RESERVED, "")
	run.Advance(saga.BOOKINGS_PERSISTED, "")
	run.Advance(saga.PAYMENT_PENDING, "")

	var ref string
	if order.Total > 0 {
		chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
		res, err := s.gateway.Charge(chargeCtx, req.Provider, payments.ChargeRequest{
			IdempotencyKey: chargeKey(order),
			Amount:         order.Total,
			Currency:       order.Currency,
			Customer:       req.Customer,
			Description:    "Order " + order.Reference,
		})
		timedOut := errors.Is(chargeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		if err == nil && !res.Success {
			err = &payments.DeclinedError{Provider: req.Provider, Code: string(res.Status)}
		}
		if err != nil {
			if timedOut {
				err = fmt.Errorf("%w: %w", saga.ErrPaymentTimeout, err)
			}
			s.rollback(ctx, run, order, saga.FailureReason(err), req.Customer)
			if timedOut {
				s.settleTimedOut(ctx, order)
			}
			return nil, err
		}
		ref = res.TransactionRef
	}

	if err := s.store.Confirm(context.WithoutCancel(ctx), order.ID, ref); err != nil {
		s.refund(ctx, order, ref, "refund-order-"+order.Reference)
		s.rollback(ctx, run, order, types.REASON_CONFIRMATION_FAILED, req.Customer)
		return nil, fmt.Errorf("%w: %w", saga.ErrPersistence, err)
	}
	run.Advance(saga.CONFIRMED, "")

	order.Status = types.ORDER_CONFIRMED
	if ref != "" {
		order.TransactionRef = &ref
	}
	s.publish(ctx, notify.ORDER_CONFIRMED, order, "", req.Customer)
	return order, nil
}

// Get returns the order when it belongs to userID.
func (s *OrderSaga) Get(ctx context.Context, id, userID uint) (*models.Order, error) {
	order, err := s.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// price merges duplicate products and computes the authoritative totals.
func (s *OrderSaga) price(ctx context.Context, req OrderRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: order is empty", saga.ErrValidation)
	}
	quantities := map[uint]int{}
	ids := []uint{}
	for i, item := range req.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %d needs a positive quantity", saga.ErrValidation, i+1)
		}
		if _, ok := quantities[item.ProductID]; !ok {
			ids = append(ids, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}

	order := &models.Order{UserID: req.UserID, Status: types.ORDER_PENDING, Provider: req.Provider}
	order.CreatedAt = s.cfg.Now()
	lines := make([]pricing.OrderLine, 0, len(ids))
	for _, id := range ids {
		product, err := s.catalog.Product(ctx, id)
		if err != nil {
			return nil, err
		}
		if order.Currency == "" {
			order.Currency = strings.ToLower(product.Currency)
		} else if !strings.EqualFold(order.Currency, product.Currency) {
			return nil, fmt.Errorf("%w: items must share one currency", saga.ErrValidation)
		}
		line := pricing.OrderLine{UnitPrice: product.Price, Quantity: quantities[id]}
		lines = append(lines, line)
		order.Items = append(order.Items, models.OrderItem{
			ProductID: id,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.Total(),
		})
	}
	if req.Currency != "" && !strings.EqualFold(req.Currency, order.Currency) {
		return nil, fmt.Errorf("%w: currency %s does not match product currency %s", saga.ErrValidation, req.Currency, order.Currency)
	}

	var discount *pricing.Discount
	if req.PromoCode != "" {
		subtotal := pricing.PriceOrder(lines, nil, s.cfg.Rates).Subtotal
		p, err := promo.Validate(ctx, s.promos, req.PromoCode, subtotal, s.cfg.Now())
		if err != nil {
			return nil, err
		}
		discount = pricing.DiscountFromPromo(p)
	}
	totals := pricing.PriceOrder(lines, discount, s.cfg.Rates)
	order.Subtotal = totals.Subtotal
	order.Tax = totals.Tax
	order.Shipping = totals.Shipping
	order.Discount = totals.Discount
	order.Total = totals.Total
	return order, nil
}

func (s *OrderSaga) takeStock(ctx context.Context, items []models.OrderItem) ([]models.OrderItem, error) {
	var mu sync.Mutex
	taken := []models.OrderItem{}
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		g.Go(func() error {
			if err := s.stock.Take(gctx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("product %d: %w", item.ProductID, err)
			}
			mu.Lock()
			taken = append(taken, item)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.restock(ctx, taken)
		return nil, err
	}
	return taken, nil
}

func (s *OrderSaga) restock(ctx context.Context, items []models.OrderItem) {
	ctx = context.WithoutCancel(ctx)
	for _, item := range items {
		if err := s.stock.Restock(ctx, item.ProductID, item.Quantity); err != nil {
			metrics.IntegrityAlarms.WithLabelValues("restock_failed").Inc()
			log.Printf("[OrderSaga] Error restocking %d of product %d: %s\n", item.Quantity, item.ProductID, err.Error())
		}
	}
}

// persist takes the order's stock and inserts it. A StockingStore does both
// in one transaction; otherwise the stock taken is put back when the insert
// fails.
func (s *OrderSaga) persist(ctx context.Context, order *models.Order) error {
	if store, ok := s.store.(StockingStore); ok {
		return store.CreateTakingStock(ctx, order)
	}
	taken, err := s.takeStock(ctx, order.Items)
	if err != nil {
		return err
	}
	if err := s.store.Create(ctx, order); err != nil {
		s.restock(ctx, taken)
		return err
	}
	return nil
}

// cancel moves a PENDING order to CANCELLED and puts its stock back. Stock
// is returned only by the call that made the transition.
func (s *OrderSaga) cancel(ctx context.Context, order *models.Order, reason string) error {
	if store, ok := s.store.(StockingStore); ok {
		return store.CancelRestocking(ctx, order, reason)
	}
	if err := s.store.Cancel(ctx, order.ID, reason); err != nil {
		return err
	}
	s.restock(ctx, order.Items)
	return nil
}

func (s *OrderSaga) rollback(ctx context.Context, run *saga.Run, order *models.Order, reason string, customer types.CustomerInfo) {
	ctx = context.WithoutCancel(ctx)
	if err := s.cancel(ctx, order, reason); err != nil {
		log.Printf("[OrderSaga] Error cancelling order %s, leaving it to the sweeper: %s\n", order.Reference, err.Error())
	}
	order.Status = types.ORDER_CANCELLED
	order.CancellationReason = &reason
	run.Advance(saga.ROLLED_BACK, reason)
	s.publish(ctx, notify.ORDER_CANCELLED, order, reason, customer)
}

func (s *OrderSaga) refund(ctx context.Context, order *models.Order, ref, key string) error {
	if order.Total <= 0 || ref == "" {
		return nil
	}
	_, err := s.gateway.Refund(context.WithoutCancel(ctx), order.Provider, payments.RefundRequest{
		IdempotencyKey: key,
		TransactionRef: ref,
		Amount:         order.Total,
		Currency:       order.Currency,
	})
	if err != nil {
		metrics.IntegrityAlarms.WithLabelValues("unrefunded_charge").Inc()
		log.Printf("[OrderSaga] INTEGRITY ALARM order %s charged %d %s (%s) and refund failed: %s\n",
			order.Reference, order.Total, order.Currency, ref, err.Error())
	}
	return err
}

// ExpireStale cancels orders left PENDING past StaleAfter, typically by a
// crash mid-charge, and puts their stock back. Their charges are voided at
// the provider where possible. It reports how many orders were cancelled.
func (s *OrderSaga) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.StalePending(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range stale {
		order := &stale[i]
		if err := s.cancel(ctx, order, types.REASON_PAYMENT_TIMEOUT); err != nil {
			log.Printf("[OrderSaga] Error expiring order %s: %s\n", order.Reference, err.Error())
			continue
		}
		metrics.SagaOutcomes.WithLabelValues(FLOW_ORDER, string(saga.ROLLED_BACK), types.REASON_PAYMENT_TIMEOUT).Inc()
		s.publish(ctx, notify.ORDER_CANCELLED, order, types.REASON_PAYMENT_TIMEOUT, types.CustomerInfo{})
		if order.Total > 0 {
			s.settleTimedOut(ctx, order)
		}
		expired++
	}
	if expired > 0 {
		log.Printf("[OrderSaga] Expired %d stale orders\n", expired)
	}
	return expired, nil
}

// settleTimedOut voids the charge of an order cancelled after a payment
// timeout, refunding it when the customer completed it anyway. It reports
// whether the charge reached a final state.
func (s *OrderSaga) settleTimedOut(ctx context.Context, order *models.Order) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PaymentTimeout)
	defer cancel()
	res, err := s.gateway.Void(ctx, order.Provider, chargeKey(order))
	if errors.Is(err, payments.ErrVoidUnsupported) {
		return false
	}
	if err != nil {
		log.Printf("[OrderSaga] Error voiding charge for order %s: %s\n", order.Reference, err.Error())
		return false
	}

	reason := types.REASON_PAYMENT_VOIDED
	switch res.Status {
	case payments.STATUS_PENDING:
		return false
	case payments.STATUS_COMPLETED:
		log.Printf("[OrderSaga] Late charge %s for cancelled order %s, refunding\n", res.TransactionRef, order.Reference)
		if err := s.refund(ctx, order, res.TransactionRef, "refund-late-"+order.Reference); err != nil {
			return false
		}
		reason = types.REASON_LATE_CHARGE_REFUNDED
	}
	if err := s.store.Resolve(ctx, order.ID, reason); err != nil {
		log.Printf("[OrderSaga] Error resolving order %s: %s\n", order.Reference, err.Error())
		return false
	}
	return true
}

// ReconcileTimedOut revisits orders cancelled after a payment timeout whose
// charge the provider has not yet confirmed voided. It reports how many were
// settled.
func (s *OrderSaga) ReconcileTimedOut(ctx context.Context) (int, error) {
	providers := s.gateway.Voidable()
	if len(providers) == 0 {
		return 0, nil
	}
	timedOut, err := s.store.TimedOut(ctx, providers)
	if err != nil {
		return 0, err
	}
	settled := 0
	for i := range timedOut {
		if s.settleTimedOut(ctx, &timedOut[i]) {
			settled++
		}
	}
	return settled, nil
}

func chargeKey(order *models.Order) string {
	return "order-" + order.Reference
}

func (s *OrderSaga) publish(ctx context.Context, kind notify.Kind, order *models.Order, reason string, customer types.CustomerInfo) {
	notify.Dispatch(ctx, s.notifier, notify.Event{
		Kind:       kind,
		UserID:     order.UserID,
		Email:      customer.Email,
		Name:       customer.Name,
		References: []string{order.Reference},
		Amount:     order.Total,
		Currency:   order.Currency,
		Reason:     reason,
		OccurredAt: s.cfg.Now(),
	})
}

// PublicMessage extends saga.PublicMessage with the order errors.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrOutOfStock):
		return "Not enough stock for one or more items"
	case errors.Is(err, ErrOrderNotFound):
		return "Order not found"
	case errors.Is(err, catalog.ErrProductNotFound):
		return "Product not found"
	}
	return saga.PublicMessage(err)
}
