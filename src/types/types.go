package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	b, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &a)
}

// UintList stores id lists such as the bookings covered by one payment.
type UintList []uint

func (l UintList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	valueString, err := json.Marshal(l)
	return string(valueString), err
}
func (l *UintList) Scan(value any) error {
	b, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, l)
}

// AddOnList is the priced add-on selection persisted with a booking.
type AddOnList []AddOn

type AddOn struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Price int64  `json:"price"`
}

func (l AddOnList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	valueString, err := json.Marshal(l)
	return string(valueString), err
}
func (l *AddOnList) Scan(value any) error {
	b, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, l)
}

func scanBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return []byte("null"), nil
	}
	return nil, errors.New("type assertion to []byte failed")
}

type BookingStatus string

const (
	BOOKING_PENDING   BookingStatus = "PENDING"
	BOOKING_CONFIRMED BookingStatus = "CONFIRMED"
	BOOKING_CANCELLED BookingStatus = "CANCELLED"
	BOOKING_COMPLETED BookingStatus = "COMPLETED"
	BOOKING_REFUNDED  BookingStatus = "REFUNDED"
)

type TransactionStatus string

const (
	TRANSACTION_PENDING   TransactionStatus = "pending"
	TRANSACTION_COMPLETED TransactionStatus = "completed"
	TRANSACTION_FAILED    TransactionStatus = "failed"
	TRANSACTION_CANCELLED TransactionStatus = "cancelled"
)

type OrderStatus string

const (
	ORDER_PENDING   OrderStatus = "PENDING"
	ORDER_CONFIRMED OrderStatus = "CONFIRMED"
	ORDER_CANCELLED OrderStatus = "CANCELLED"
)

type DiscountType string

const (
	DISCOUNT_PERCENTAGE DiscountType = "percentage"
	DISCOUNT_FIXED      DiscountType = "fixed"
)

// Machine-readable cancellation reasons.
const (
	REASON_PAYMENT_DECLINED     = "payment_declined"
	REASON_PAYMENT_TIMEOUT      = "payment_timeout"
	REASON_PROVIDER_UNAVAILABLE = "provider_unavailable"
	REASON_PERSISTENCE_FAILED   = "persistence_failed"
	REASON_HOLD_EXPIRED         = "hold_expired"
	REASON_CONFIRMATION_FAILED  = "confirmation_failed"
	REASON_USER_REQUESTED       = "user_requested"
	// A charge abandoned after a timeout ends in one of these once the
	// provider has been told.
	REASON_PAYMENT_VOIDED       = "payment_voided"
	REASON_LATE_CHARGE_REFUNDED = "late_charge_refunded"
)

type Environment string

const (
	Local      Environment = "local"
	Test       Environment = "test"
	Production Environment = "production"
)

type SimpleRequestParams struct {
	ID uint `uri:"id" binding:"required"`
}

type ProviderRequestParams struct {
	Provider string `uri:"provider" binding:"required"`
}

type AvailabilityQuery struct {
	TourID uint   `form:"tourId" binding:"required"`
	Date   string `form:"date" binding:"required,datetime=2006-01-02"`
}

type CreateBookingRequestBody struct {
	TourID          uint     `json:"tourId" binding:"required"`
	Date            string   `json:"date" binding:"required,bookabledate"`
	Adults          int      `json:"adults" binding:"min=0,max=100"`
	Children        int      `json:"children" binding:"min=0,max=100"`
	AddOns          []string `json:"addOns"`
	SpecialRequests *string  `json:"specialRequests,omitempty" binding:"omitempty,max=1000"`
	PromoCode       string   `json:"promoCode,omitempty"`
}

type CartItemRequestBody struct {
	TourID   uint     `json:"tourId" binding:"required"`
	Date     string   `json:"date" binding:"required,bookabledate"`
	Adults   int      `json:"adults" binding:"min=0,max=100"`
	Children int      `json:"children" binding:"min=0,max=100"`
	AddOns   []string `json:"addOns"`
}

type CartQuoteRequestBody struct {
	Items     []CartItemRequestBody `json:"items" binding:"required,min=1,dive"`
	PromoCode string                `json:"promoCode,omitempty"`
}

type CheckoutRequestBody struct {
	Items           []CartItemRequestBody `json:"items" binding:"required,min=1,dive"`
	PromoCode       string                `json:"promoCode,omitempty"`
	Provider        string                `json:"provider" binding:"required"`
	Currency        string                `json:"currency,omitempty"`
	Amount          *decimal.Decimal      `json:"amount,omitempty"`
	CustomerInfo    CustomerInfo          `json:"customerInfo"`
	SpecialRequests *string               `json:"specialRequests,omitempty"`
}

type ValidatePromoRequestBody struct {
	Code      string          `json:"code" binding:"required"`
	CartTotal decimal.Decimal `json:"cartTotal"`
}

type CreateIntentRequestBody struct {
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	BookingIDs   []uint           `json:"bookingIds" binding:"required,min=1"`
	CustomerInfo CustomerInfo     `json:"customerInfo"`
}

type CancelBookingRequestBody struct {
	Reason string `json:"reason,omitempty"`
}

type OrderItemRequestBody struct {
	ProductID uint `json:"productId" binding:"required"`
	Quantity  int  `json:"quantity" binding:"required,min=1"`
}

type CreateOrderRequestBody struct {
	Items        []OrderItemRequestBody `json:"items" binding:"required,min=1,dive"`
	PromoCode    string                 `json:"promoCode,omitempty"`
	Provider     string                 `json:"provider" binding:"required"`
	Currency     string                 `json:"currency,omitempty"`
	CustomerInfo CustomerInfo           `json:"customerInfo"`
}

type CustomerInfo struct {
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty" binding:"omitempty,email"`
	Phone         string `json:"phone,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
}
