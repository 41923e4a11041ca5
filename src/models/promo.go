package models

import (
	"time"
	"tourbook/src/types"
)

// PromoCode is immutable reference data. DiscountValue holds percent points
// for percentage codes and minor units for fixed codes.
type PromoCode struct {
	ID            uint               `gorm:"primarykey" json:"-"`
	Code          string             `gorm:"uniqueIndex;size:32" json:"code"`
	DiscountType  types.DiscountType `gorm:"size:16" json:"discountType"`
	DiscountValue int64              `json:"discountValue"`
	MinPurchase   *int64             `json:"minPurchase,omitempty"`
	MaxDiscount   *int64             `json:"maxDiscount,omitempty"`
	ExpiryDate    *time.Time         `json:"expiryDate,omitempty"`
}
