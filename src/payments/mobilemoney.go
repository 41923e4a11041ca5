package payments

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"tourbook/src/types"

	"github.com/tidwall/gjson"
)

const (
	PROVIDER_MPESA  = "mpesa"
	PROVIDER_AIRTEL = "airtel"
)

// MobileMoneyAdapter pushes a payment prompt to the customer's phone and
// polls until the customer approves or rejects it.
type MobileMoneyAdapter struct {
	railClient
}

func NewMobileMoneyAdapter(cfg RailConfig) *MobileMoneyAdapter {
	return &MobileMoneyAdapter{railClient{cfg.withDefaults()}}
}

func (a *MobileMoneyAdapter) Name() string {
	return a.RailConfig.Name
}

func (a *MobileMoneyAdapter) ValidateCustomer(c types.CustomerInfo) error {
	if strings.TrimSpace(c.Phone) == "" {
		return errors.New("mobile money payments require a phone number")
	}
	return nil
}

func mobileMoneyStatus(res gjson.Result) (Status, bool) {
	switch strings.ToUpper(res.Get("status").String()) {
	case "SUCCESSFUL", "SUCCESS", "COMPLETED":
		return STATUS_COMPLETED, true
	case "FAILED", "REJECTED":
		return STATUS_FAILED, true
	case "CANCELLED", "EXPIRED":
		return STATUS_CANCELLED, true
	}
	return STATUS_PENDING, false
}

func (a *MobileMoneyAdapter) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	res, err := a.call(ctx, http.MethodPost, "/payments", req.IdempotencyKey, map[string]any{
		"reference":   req.IdempotencyKey,
		"amount":      req.Amount,
		"currency":    strings.ToUpper(req.Currency),
		"msisdn":      req.Customer.Phone,
		"description": req.Description,
	})
	if err != nil {
		return Result{}, err
	}
	id := res.Get("id").String()
	status, done := mobileMoneyStatus(res)
	if !done {
		res, status, err = a.poll(ctx, "/payments/"+url.PathEscape(id), mobileMoneyStatus)
		if err != nil {
			return Result{}, err
		}
	}
	if status != STATUS_COMPLETED {
		return Result{}, &DeclinedError{
			Provider: a.Name(),
			Code:     strings.ToLower(res.Get("status").String()),
			Message:  res.Get("reason").String(),
		}
	}
	return Result{Success: true, TransactionRef: id, Status: STATUS_COMPLETED}, nil
}

func (a *MobileMoneyAdapter) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	res, err := a.call(ctx, http.MethodPost, "/payments/"+url.PathEscape(req.TransactionRef)+"/refund", req.IdempotencyKey, map[string]any{
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
	})
	if err != nil {
		return Result{}, err
	}
	status, done := mobileMoneyStatus(res)
	if !done {
		status = STATUS_PENDING
	}
	return Result{
		Success:        status == STATUS_COMPLETED || status == STATUS_PENDING,
		TransactionRef: res.Get("id").String(),
		Status:         status,
	}, nil
}

// Void withdraws the prompt sent under chargeKey. A prompt the provider never
// received counts as cancelled.
func (a *MobileMoneyAdapter) Void(ctx context.Context, chargeKey string) (Result, error) {
	res, err := a.call(ctx, http.MethodPost, "/payments/by-reference/"+url.PathEscape(chargeKey)+"/cancel", "", nil)
	if errors.Is(err, ErrChargeNotFound) {
		return Result{Success: true, Status: STATUS_CANCELLED}, nil
	}
	if err != nil {
		return Result{}, err
	}
	status, done := mobileMoneyStatus(res)
	if !done {
		status = STATUS_PENDING
	}
	return Result{
		Success:        status == STATUS_CANCELLED || status == STATUS_FAILED,
		TransactionRef: res.Get("id").String(),
		Status:         status,
	}, nil
}
