package domain

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderFailed    OrderStatus = "FAILED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderExpired   OrderStatus = "EXPIRED"
	OrderRefunded  OrderStatus = "REFUNDED"
)

type Order struct {
	ID            int64
	UserID        int64
	Status        OrderStatus
	TotalAmount   string
	PaymentMethod string
	CreatedAt     time.Time
	PaidAt        *time.Time
	Items         []OrderItem
}

// OrderItem grants access to a category for DurationDays once paid.
type OrderItem struct {
	ID           int64
	OrderID      int64
	CategoryCode string
	Price        string
	DurationDays int
}

// AccessGrant is a time-boxed entitlement issued after a payment settles.
type AccessGrant struct {
	ID           int64
	UserID       int64
	CategoryCode string
	OrderID      int64
	ExpiresAt    time.Time
	CreatedAt    time.Time
}
