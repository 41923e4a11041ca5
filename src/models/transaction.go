package models

import (
	"tourbook/src/types"

	"github.com/google/uuid"
)

// PaymentTransaction covers every booking of one checkout.
type PaymentTransaction struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	CheckoutID     uuid.UUID               `gorm:"uniqueIndex" json:"checkoutId"`
	Provider       string                  `gorm:"size:32" json:"provider"`
	BookingIDs     types.UintList          `json:"bookingIds"`
	Amount         int64                   `json:"amount"`
	Currency       string                  `gorm:"size:3" json:"currency"`
	Status         types.TransactionStatus `gorm:"index;size:16" json:"status"`
	TransactionRef *string                 `gorm:"index" json:"transactionRef,omitempty"`
	FailureReason  *string                 `json:"failureReason,omitempty"`
	Metadata       types.JSONB             `json:"-"`

	types.Timestamps
}
