package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
	"tourbook/src/types"

	"github.com/stripe/stripe-go/v82"
)

const PROVIDER_CARD = "card"

type PaymentIntents interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
}

type Refunds interface {
	Create(ctx context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

// StripeAdapter charges cards with a confirmed PaymentIntent. Redirect based
// methods are disabled so the outcome is known when Create returns, except
// for intents still processing, which are polled.
type StripeAdapter struct {
	intents      PaymentIntents
	refunds      Refunds
	pollInterval time.Duration
}

func NewStripeAdapter(sc *stripe.Client) *StripeAdapter {
	return NewStripeAdapterWith(sc.V1PaymentIntents, sc.V1Refunds)
}

func NewStripeAdapterWith(intents PaymentIntents, refunds Refunds) *StripeAdapter {
	return &StripeAdapter{intents: intents, refunds: refunds, pollInterval: time.Second}
}

func (a *StripeAdapter) Name() string {
	return PROVIDER_CARD
}

func (a *StripeAdapter) ValidateCustomer(c types.CustomerInfo) error {
	if c.PaymentMethod == "" {
		return errors.New("card payments require a payment method id")
	}
	return nil
}

func (a *StripeAdapter) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Confirm:       stripe.Bool(true),
		PaymentMethod: stripe.String(req.Customer.PaymentMethod),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.Customer.Email != "" {
		params.ReceiptEmail = stripe.String(req.Customer.Email)
	}
	params.AddMetadata("checkout_id", req.IdempotencyKey)
	params.AddMetadata("booking_ids", joinIDs(req.BookingIDs))
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := a.intents.Create(ctx, params)
	if err != nil {
		return Result{}, a.mapError(ctx, err)
	}
	for pi.Status == stripe.PaymentIntentStatusProcessing {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(a.pollInterval):
		}
		pi, err = a.intents.Retrieve(ctx, pi.ID, nil)
		if err != nil {
			return Result{}, a.mapError(ctx, err)
		}
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return Result{Success: true, TransactionRef: pi.ID, Status: STATUS_COMPLETED}, nil
	case stripe.PaymentIntentStatusRequiresAction:
		return Result{}, &DeclinedError{Provider: PROVIDER_CARD, Code: "authentication_required"}
	case stripe.PaymentIntentStatusCanceled:
		return Result{}, &DeclinedError{Provider: PROVIDER_CARD, Code: "canceled"}
	}
	code := string(pi.Status)
	if pi.LastPaymentError != nil && pi.LastPaymentError.Code != "" {
		code = string(pi.LastPaymentError.Code)
	}
	return Result{}, &DeclinedError{Provider: PROVIDER_CARD, Code: code}
}

func (a *StripeAdapter) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(req.TransactionRef),
	}
	if req.Amount > 0 {
		params.Amount = stripe.Int64(req.Amount)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	refund, err := a.refunds.Create(ctx, params)
	if err != nil {
		return Result{}, a.mapError(ctx, err)
	}
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		return Result{Success: true, TransactionRef: refund.ID, Status: STATUS_COMPLETED}, nil
	case stripe.RefundStatusPending:
		return Result{Success: true, TransactionRef: refund.ID, Status: STATUS_PENDING}, nil
	}
	return Result{TransactionRef: refund.ID, Status: STATUS_FAILED}, fmt.Errorf("card: refund %s ended %s", refund.ID, refund.Status)
}

func (a *StripeAdapter) mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return fmt.Errorf("%w: card: %w", ErrProviderUnavailable, err)
	}
	log.Printf("[StripeAdapter] %s (%s): %s\n", serr.Type, serr.Code, serr.Msg)
	switch {
	case serr.Type == stripe.ErrorTypeCard:
		return &DeclinedError{Provider: PROVIDER_CARD, Code: string(serr.Code), Message: serr.Msg}
	case serr.HTTPStatusCode == http.StatusTooManyRequests,
		serr.HTTPStatusCode >= http.StatusInternalServerError,
		serr.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%w: card: %s", ErrProviderUnavailable, serr.Type)
	}
	return fmt.Errorf("card: request rejected (%s)", serr.Code)
}

func joinIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}
