package models

import (
	"time"
	"tourbook/src/types"

	"github.com/google/uuid"
)

type Booking struct {
	ID                 uint                `gorm:"primarykey" json:"id"`
	Reference          string              `gorm:"uniqueIndex;size:16" json:"reference"`
	CheckoutID         uuid.UUID           `gorm:"index" json:"checkoutId"`
	TourID             uint                `gorm:"index:idx_booking_slot" json:"tourId"`
	Date               string              `gorm:"index:idx_booking_slot;size:10" json:"date"`
	UserID             uint                `gorm:"index" json:"userId"`
	Adults             int                 `json:"adults"`
	Children           int                 `json:"children"`
	AddOns             types.AddOnList     `json:"addOns"`
	TotalPrice         int64               `json:"totalPrice"`
	Currency           string              `gorm:"size:3" json:"currency"`
	Status             types.BookingStatus `gorm:"index;size:16" json:"status"`
	HoldToken          string              `gorm:"size:36" json:"-"`
	TransactionID      *uuid.UUID          `json:"transactionId,omitempty"`
	SpecialRequests    *string             `json:"specialRequests,omitempty"`
	CancelledAt        *time.Time          `json:"cancelledAt,omitempty"`
	CancellationReason *string             `json:"cancellationReason,omitempty"`

	types.Timestamps
}

func (b *Booking) Participants() int {
	return b.Adults + b.Children
}
