package models

import "tourbook/src/types"

type Product struct {
	ID       uint   `gorm:"primarykey" json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Currency string `gorm:"size:3" json:"currency"`
	Stock    int    `gorm:"not null;default:0" json:"stock"`

	types.Timestamps
}

type Order struct {
	ID                 uint              `gorm:"primarykey" json:"id"`
	Reference          string            `gorm:"uniqueIndex;size:16" json:"reference"`
	UserID             uint              `gorm:"index" json:"userId"`
	Status             types.OrderStatus `gorm:"index;size:16" json:"status"`
	Subtotal           int64             `json:"subtotal"`
	Tax                int64             `json:"tax"`
	Shipping           int64             `json:"shipping"`
	Discount           int64             `json:"discount"`
	Total              int64             `json:"total"`
	Currency           string            `gorm:"size:3" json:"currency"`
	Provider           string            `gorm:"size:32" json:"provider"`
	TransactionRef     *string           `json:"transactionRef,omitempty"`
	CancellationReason *string           `json:"cancellationReason,omitempty"`

	Items []OrderItem `json:"items,omitempty"`

	types.Timestamps
}

type OrderItem struct {
	ID        uint  `gorm:"primarykey" json:"-"`
	OrderID   uint  `gorm:"index" json:"-"`
	ProductID uint  `json:"productId"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unitPrice"`
	LineTotal int64 `json:"lineTotal"`
}
