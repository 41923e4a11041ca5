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

const PROVIDER_BANK_TRANSFER = "bank-transfer"

// BankTransferAdapter submits a debit against the customer's account and
// polls the transfer until it settles.
type BankTransferAdapter struct {
	railClient
}

func NewBankTransferAdapter(cfg RailConfig) *BankTransferAdapter {
	if cfg.Name == "" {
		cfg.Name = PROVIDER_BANK_TRANSFER
	}
	return &BankTransferAdapter{railClient{cfg.withDefaults()}}
}

func (a *BankTransferAdapter) Name() string {
	return a.RailConfig.Name
}

func (a *BankTransferAdapter) ValidateCustomer(c types.CustomerInfo) error {
	if strings.TrimSpace(c.AccountNumber) == "" {
		return errors.New("bank transfers require an account number")
	}
	return nil
}

func transferStatus(res gjson.Result) (Status, bool) {
	switch strings.ToUpper(res.Get("state").String()) {
	case "SETTLED":
		return STATUS_COMPLETED, true
	case "REJECTED", "RETURNED":
		return STATUS_FAILED, true
	case "CANCELLED":
		return STATUS_CANCELLED, true
	}
	return STATUS_PENDING, false
}

func (a *BankTransferAdapter) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	res, err := a.call(ctx, http.MethodPost, "/transfers", req.IdempotencyKey, map[string]any{
		"reference": req.IdempotencyKey,
		"amount":    req.Amount,
		"currency":  strings.ToUpper(req.Currency),
		"account":   req.Customer.AccountNumber,
		"name":      req.Customer.Name,
	})
	if err != nil {
		return Result{}, err
	}
	id := res.Get("transferId").String()
	status, done := transferStatus(res)
	if !done {
		res, status, err = a.poll(ctx, "/transfers/"+url.PathEscape(id), transferStatus)
		if err != nil {
			return Result{}, err
		}
	}
	if status != STATUS_COMPLETED {
		return Result{}, &DeclinedError{
			Provider: a.Name(),
			Code:     strings.ToLower(res.Get("state").String()),
			Message:  res.Get("rejectionReason").String(),
		}
	}
	return Result{Success: true, TransactionRef: id, Status: STATUS_COMPLETED}, nil
}

func (a *BankTransferAdapter) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	res, err := a.call(ctx, http.MethodPost, "/transfers/"+url.PathEscape(req.TransactionRef)+"/reversal", req.IdempotencyKey, map[string]any{
		"amount": req.Amount,
	})
	if err != nil {
		return Result{}, err
	}
	status, done := transferStatus(res)
	if !done {
		status = STATUS_PENDING
	}
	return Result{
		Success:        status == STATUS_COMPLETED || status == STATUS_PENDING,
		TransactionRef: res.Get("transferId").String(),
		Status:         status,
	}, nil
}

// Void cancels a transfer that has not settled yet.
func (a *BankTransferAdapter) Void(ctx context.Context, chargeKey string) (Result, error) {
	res, err := a.call(ctx, http.MethodPost, "/transfers/by-reference/"+url.PathEscape(chargeKey)+"/cancel", "", nil)
	if errors.Is(err, ErrChargeNotFound) {
		return Result{Success: true, Status: STATUS_CANCELLED}, nil
	}
	if err != nil {
		return Result{}, err
	}
	status, done := transferStatus(res)
	if !done {
		status = STATUS_PENDING
	}
	return Result{
		Success:        status == STATUS_CANCELLED || status == STATUS_FAILED,
		TransactionRef: res.Get("transferId").String(),
		Status:         status,
	}, nil
}
