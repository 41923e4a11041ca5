package paymentstest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"
)

// RailRefund is a refund received by MobileMoneyAPI.
type RailRefund struct {
	PaymentID      string
	IdempotencyKey string
	Amount         int64
}

type railPayment struct {
	id     string
	status string
}

// MobileMoneyAPI fakes a mobile money provider over HTTP. Prompts stay
// PENDING until Approve is called. A cancel withdraws a pending prompt,
// except that the first DeferCancels cancels are answered PENDING and, with
// ApproveOnCancel set, the customer approves just before the cancel lands.
type MobileMoneyAPI struct {
	URL string
	srv *httptest.Server

	mu              sync.Mutex
	approveOnCancel bool
	deferCancels    int
	payments        map[string]*railPayment
	cancels         int
	refunds         []RailRefund
}

func NewMobileMoneyAPI() *MobileMoneyAPI {
	api := &MobileMoneyAPI{payments: map[string]*railPayment{}}
	r := gin.New()
	r.POST("/payments", api.create)
	r.GET("/payments/:id", api.get)
	r.POST("/payments/by-reference/:ref/cancel", api.cancel)
	r.POST("/payments/:id/refund", api.refund)
	api.srv = httptest.NewServer(r)
	api.URL = api.srv.URL
	return api
}

func (api *MobileMoneyAPI) Close() {
	api.srv.Close()
}

func (api *MobileMoneyAPI) ApproveOnCancel() {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.approveOnCancel = true
}

func (api *MobileMoneyAPI) DeferCancels(n int) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.deferCancels = n
}

// Approve completes every prompt still pending.
func (api *MobileMoneyAPI) Approve() {
	api.mu.Lock()
	defer api.mu.Unlock()
	for _, p := range api.payments {
		if p.status == "PENDING" {
			p.status = "SUCCESSFUL"
		}
	}
}

func (api *MobileMoneyAPI) Cancels() int {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.cancels
}

func (api *MobileMoneyAPI) Refunds() []RailRefund {
	api.mu.Lock()
	defer api.mu.Unlock()
	return append([]RailRefund(nil), api.refunds...)
}

func (api *MobileMoneyAPI) create(ctx *gin.Context) {
	var body struct {
		Reference string `json:"reference"`
	}
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.Status(http.StatusBadRequest)
		return
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	p, ok := api.payments[body.Reference]
	if !ok {
		p = &railPayment{id: fmt.Sprintf("mm_%d", len(api.payments)+1), status: "PENDING"}
		api.payments[body.Reference] = p
	}
	ctx.JSON(http.StatusAccepted, gin.H{"id": p.id, "status": p.status})
}

func (api *MobileMoneyAPI) byID(id string) *railPayment {
	for _, p := range api.payments {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (api *MobileMoneyAPI) get(ctx *gin.Context) {
	api.mu.Lock()
	defer api.mu.Unlock()
	p := api.byID(ctx.Param("id"))
	if p == nil {
		ctx.Status(http.StatusNotFound)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"id": p.id, "status": p.status})
}

func (api *MobileMoneyAPI) cancel(ctx *gin.Context) {
	api.mu.Lock()
	defer api.mu.Unlock()
	p, ok := api.payments[ctx.Param("ref")]
	if !ok {
		ctx.Status(http.StatusNotFound)
		return
	}
	api.cancels++
	if p.status == "PENDING" {
		switch {
		case api.approveOnCancel:
			p.status = "SUCCESSFUL"
		case api.cancels > api.deferCancels:
			p.status = "CANCELLED"
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"id": p.id, "status": p.status})
}

func (api *MobileMoneyAPI) refund(ctx *gin.Context) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.Status(http.StatusBadRequest)
		return
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	api.refunds = append(api.refunds, RailRefund{
		PaymentID:      ctx.Param("id"),
		IdempotencyKey: ctx.GetHeader("Idempotency-Key"),
		Amount:         body.Amount,
	})
	ctx.JSON(http.StatusOK, gin.H{"id": fmt.Sprintf("mmr_%d", len(api.refunds)), "status": "SUCCESSFUL"})
}
