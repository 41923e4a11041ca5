package payments

import (
	"context"
	"net/http"
	"testing"
	"time"
	"tourbook/src/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

type fakeIntents struct {
	created   *stripe.PaymentIntentCreateParams
	createErr error
	statuses  []stripe.PaymentIntentStatus
}

func (f *fakeIntents) next() *stripe.PaymentIntent {
	status := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return &stripe.PaymentIntent{ID: "pi_123", Status: status}
}

func (f *fakeIntents) Create(_ context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	f.created = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.next(), nil
}

func (f *fakeIntents) Retrieve(context.Context, string, *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error) {
	return f.next(), nil
}

type fakeRefunds struct {
	params *stripe.RefundCreateParams
}

func (f *fakeRefunds) Create(_ context.Context, params *stripe.RefundCreateParams) (*stripe.Refund, error) {
	f.params = params
	return &stripe.Refund{ID: "re_123", Status: stripe.RefundStatusSucceeded}, nil
}

var cardRequest = ChargeRequest{
	IdempotencyKey: "checkout-1",
	Amount:         22000,
	Currency:       "USD",
	BookingIDs:     []uint{1, 2},
	Customer:       types.CustomerInfo{Email: "ana@example.com", PaymentMethod: "pm_card_visa"},
}

func TestStripeChargeSucceeded(t *testing.T) {
	intents := &fakeIntents{statuses: []stripe.PaymentIntentStatus{stripe.PaymentIntentStatusSucceeded}}
	a := NewStripeAdapterWith(intents, &fakeRefunds{})

	res, err := a.Charge(context.Background(), cardRequest)
	require.NoError(t, err)
	assert.Equal(t, Result{Success: true, TransactionRef: "pi_123", Status: STATUS_COMPLETED}, res)

	require.NotNil(t, intents.created)
	assert.Equal(t, int64(22000), *intents.created.Amount)
	assert.Equal(t, "usd", *intents.created.Currency)
	assert.True(t, *intents.created.Confirm)
	assert.Equal(t, "never", *intents.created.AutomaticPaymentMethods.AllowRedirects)
	assert.Equal(t, "checkout-1", *intents.created.IdempotencyKey)
	assert.Equal(t, "1,2", intents.created.Metadata["booking_ids"])
}

func TestStripeChargePollsProcessing(t *testing.T) {
	intents := &fakeIntents{statuses: []stripe.PaymentIntentStatus{
		stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusSucceeded,
	}}
	a := NewStripeAdapterWith(intents, &fakeRefunds{})
	a.pollInterval = time.Millisecond

	res, err := a.Charge(context.Background(), cardRequest)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestStripeChargeErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"card error", &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined, HTTPStatusCode: http.StatusPaymentRequired}, ErrPaymentDeclined},
		{"rate limited", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusTooManyRequests}, ErrProviderUnavailable},
		{"api error", &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusInternalServerError}, ErrProviderUnavailable},
		{"network", assert.AnError, ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewStripeAdapterWith(&fakeIntents{createErr: tt.err}, &fakeRefunds{})
			_, err := a.Charge(context.Background(), cardRequest)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStripeChargeRequiresAction(t *testing.T) {
	intents := &fakeIntents{statuses: []stripe.PaymentIntentStatus{stripe.PaymentIntentStatusRequiresAction}}
	a := NewStripeAdapterWith(intents, &fakeRefunds{})

	_, err := a.Charge(context.Background(), cardRequest)
	var declined *DeclinedError
	require.ErrorAs(t, err, &declined)
	assert.Equal(t, "authentication_required", declined.Code)
}

func TestStripeRefund(t *testing.T) {
	refunds := &fakeRefunds{}
	a := NewStripeAdapterWith(&fakeIntents{}, refunds)

	res, err := a.Refund(context.Background(), RefundRequest{TransactionRef: "pi_123", Amount: 5000})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "pi_123", *refunds.params.PaymentIntent)
	assert.Equal(t, int64(5000), *refunds.params.Amount)
}

func TestStripeValidateCustomer(t *testing.T) {
	a := NewStripeAdapterWith(&fakeIntents{}, &fakeRefunds{})
	assert.Error(t, a.ValidateCustomer(types.CustomerInfo{}))
	assert.NoError(t, a.ValidateCustomer(types.CustomerInfo{PaymentMethod: "pm_card_visa"}))
}
