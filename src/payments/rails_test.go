package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"tourbook/src/types"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mobileMoneyAPI answers a charge with PENDING, then reports finalStatus
// after the first poll.
func mobileMoneyAPI(t *testing.T, finalStatus string) *httptest.Server {
	var polls atomic.Int32
	r := gin.New()
	r.POST("/payments", func(ctx *gin.Context) {
		assert.Equal(t, "Bearer secret", ctx.GetHeader("Authorization"))
		assert.Equal(t, "checkout-7", ctx.GetHeader("Idempotency-Key"))
		var body map[string]any
		require.NoError(t, ctx.ShouldBindJSON(&body))
		assert.Equal(t, "+254700000001", body["msisdn"])
		assert.Equal(t, "KES", body["currency"])
		ctx.JSON(http.StatusAccepted, gin.H{"id": "mm_1", "status": "PENDING"})
	})
	r.GET("/payments/:id", func(ctx *gin.Context) {
		if polls.Add(1) == 1 {
			ctx.JSON(http.StatusOK, gin.H{"id": ctx.Param("id"), "status": "PENDING"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"id": ctx.Param("id"), "status": finalStatus, "reason": "customer rejected prompt"})
	})
	r.POST("/payments/:id/refund", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"id": "mmr_1", "status": "SUCCESSFUL"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

var mobileRequest = ChargeRequest{
	IdempotencyKey: "checkout-7",
	Amount:         150000,
	Currency:       "kes",
	Customer:       types.CustomerInfo{Phone: "+254700000001"},
}

func TestMobileMoneyChargeSucceeds(t *testing.T) {
	srv := mobileMoneyAPI(t, "SUCCESSFUL")
	a := NewMobileMoneyAdapter(RailConfig{Name: PROVIDER_MPESA, BaseURL: srv.URL, APIKey: "secret", PollInterval: time.Millisecond})

	res, err := a.Charge(context.Background(), mobileRequest)
	require.NoError(t, err)
	assert.Equal(t, Result{Success: true, TransactionRef: "mm_1", Status: STATUS_COMPLETED}, res)

	refund, err := a.Refund(context.Background(), RefundRequest{TransactionRef: "mm_1", Amount: 150000, Currency: "kes"})
	require.NoError(t, err)
	assert.True(t, refund.Success)
	assert.Equal(t, "mmr_1", refund.TransactionRef)
}

func TestMobileMoneyChargeRejected(t *testing.T) {
	srv := mobileMoneyAPI(t, "REJECTED")
	a := NewMobileMoneyAdapter(RailConfig{Name: PROVIDER_AIRTEL, BaseURL: srv.URL, APIKey: "secret", PollInterval: time.Millisecond})

	_, err := a.Charge(context.Background(), mobileRequest)
	var declined *DeclinedError
	require.ErrorAs(t, err, &declined)
	assert.Equal(t, PROVIDER_AIRTEL, declined.Provider)
	assert.Equal(t, "rejected", declined.Code)
}

func TestMobileMoneyPollingTimesOut(t *testing.T) {
	srv := mobileMoneyAPI(t, "PENDING")
	a := NewMobileMoneyAdapter(RailConfig{Name: PROVIDER_MPESA, BaseURL: srv.URL, APIKey: "secret", PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := a.Charge(ctx, mobileRequest)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRailServerErrorIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	g := NewGateway(fastPolicy, NewMobileMoneyAdapter(RailConfig{Name: PROVIDER_MPESA, BaseURL: srv.URL}))
	_, err := g.Charge(context.Background(), PROVIDER_MPESA, mobileRequest)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRailPaymentRequiredIsDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"code":"insufficient_balance","message":"wallet balance too low"}}`))
	}))
	t.Cleanup(srv.Close)

	a := NewMobileMoneyAdapter(RailConfig{Name: PROVIDER_MPESA, BaseURL: srv.URL})
	_, err := a.Charge(context.Background(), mobileRequest)
	var declined *DeclinedError
	require.ErrorAs(t, err, &declined)
	assert.Equal(t, "insufficient_balance", declined.Code)
	assert.Equal(t, "wallet balance too low", declined.Message)
}

func TestBankTransferSettles(t *testing.T) {
	r := gin.New()
	r.POST("/transfers", func(ctx *gin.Context) {
		var body map[string]any
		require.NoError(t, ctx.ShouldBindJSON(&body))
		assert.Equal(t, "DE89370400440532013000", body["account"])
		ctx.JSON(http.StatusCreated, gin.H{"transferId": "tr_9", "state": "SUBMITTED"})
	})
	r.GET("/transfers/:id", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"transferId": ctx.Param("id"), "state": "SETTLED"})
	})
	r.POST("/transfers/:id/reversal", func(ctx *gin.Context) {
		ctx.JSON(http.StatusAccepted, gin.H{"transferId": "rv_1", "state": "SUBMITTED"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	a := NewBankTransferAdapter(RailConfig{BaseURL: srv.URL, APIKey: "k", PollInterval: time.Millisecond})
	assert.Equal(t, PROVIDER_BANK_TRANSFER, a.Name())

	res, err := a.Charge(context.Background(), ChargeRequest{
		IdempotencyKey: "checkout-9",
		Amount:         9900,
		Currency:       "eur",
		Customer:       types.CustomerInfo{Name: "Ana", AccountNumber: "DE89370400440532013000"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tr_9", res.TransactionRef)

	refund, err := a.Refund(context.Background(), RefundRequest{TransactionRef: "tr_9", Amount: 9900})
	require.NoError(t, err)
	assert.Equal(t, STATUS_PENDING, refund.Status)
	assert.True(t, refund.Success)
}

func TestBankTransferRequiresAccount(t *testing.T) {
	a := NewBankTransferAdapter(RailConfig{})
	assert.Error(t, a.ValidateCustomer(types.CustomerInfo{}))
}

func TestMobileMoneyVoid(t *testing.T) {
	statuses := map[string]string{"checkout-1": "CANCELLED", "checkout-2": "SUCCESSFUL", "checkout-3": "PENDING"}
	r := gin.New()
	r.POST("/payments/by-reference/:ref/cancel", func(ctx *gin.Context) {
		status, ok := statuses[ctx.Param("ref")]
		if !ok {
			ctx.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found"}})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"id": "mm_" + ctx.Param("ref"), "status": status})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	a := NewMobileMoneyAdapter(RailConfig{Name: PROVIDER_AIRTEL, BaseURL: srv.URL})
	ctx := context.Background()

	res, err := a.Void(ctx, "checkout-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, STATUS_CANCELLED, res.Status)

	res, err = a.Void(ctx, "checkout-2")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, STATUS_COMPLETED, res.Status)
	assert.Equal(t, "mm_checkout-2", res.TransactionRef)

	res, err = a.Void(ctx, "checkout-3")
	require.NoError(t, err)
	assert.Equal(t, STATUS_PENDING, res.Status)

	res, err = a.Void(ctx, "checkout-404")
	require.NoError(t, err)
	assert.Equal(t, Result{Success: true, Status: STATUS_CANCELLED}, res)
}

func TestBankTransferVoid(t *testing.T) {
	r := gin.New()
	r.POST("/transfers/by-reference/:ref/cancel", func(ctx *gin.Context) {
		if ctx.Param("ref") == "order-OR-LATE" {
			ctx.JSON(http.StatusOK, gin.H{"transferId": "tr_7", "state": "SETTLED"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"transferId": "tr_8", "state": "CANCELLED"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	a := NewBankTransferAdapter(RailConfig{BaseURL: srv.URL})

	res, err := a.Void(context.Background(), "order-OR-1")
	require.NoError(t, err)
	assert.Equal(t, Result{Success: true, TransactionRef: "tr_8", Status: STATUS_CANCELLED}, res)

	res, err = a.Void(context.Background(), "order-OR-LATE")
	require.NoError(t, err)
	assert.Equal(t, STATUS_COMPLETED, res.Status)
	assert.Equal(t, "tr_7", res.TransactionRef)
}
